// Package handlers exposes the optional HTTP status surface.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"polymirror/middleware"
	"polymirror/syncer"
)

// Engine is the slice of the replication engine the endpoint reads.
type Engine interface {
	Status() syncer.StatusSnapshot
	Stats() syncer.TelemetrySummary
}

// NewRouter builds the status router: GET /status for lifecycle and
// counters, GET /stats for latency percentiles.
func NewRouter(e Engine) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.BasicAuth())

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, e.Status())
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, e.Stats())
	})
	return r
}
