package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"polymirror/api"
)

// BookSnapshot is the cached top of book for one asset. Nil sides mean the
// book had no resting orders there; the processor rejects the matching side.
type BookSnapshot struct {
	BestBid     *float64
	BestAsk     *float64
	Spread      *float64
	UpdatedAtMs int64
}

type bookFetcher interface {
	GetBook(ctx context.Context, tokenID string) (*api.OrderBook, error)
}

// BookCache stores one snapshot per asset, fed by WS book events and
// optionally refreshed through a one-shot HTTP probe when stale.
type BookCache struct {
	mu    sync.RWMutex
	books map[string]BookSnapshot

	fetcher      bookFetcher
	ttlMs        int64
	httpFallback bool
}

func NewBookCache(fetcher bookFetcher, ttlMs int64, httpFallback bool) *BookCache {
	return &BookCache{
		books:        make(map[string]BookSnapshot),
		fetcher:      fetcher,
		ttlMs:        ttlMs,
		httpFallback: httpFallback,
	}
}

// ApplyEvent stores the top of book from a WS book frame.
func (c *BookCache) ApplyEvent(ev api.MarketEvent, recvMs int64) {
	if ev.AssetID == "" {
		return
	}
	c.store(ev.AssetID, snapshotFromLevels(ev.Bids, ev.Asks, recvMs))
}

func (c *BookCache) applyBook(assetID string, book *api.OrderBook, nowMs int64) BookSnapshot {
	snap := snapshotFromLevels(book.Bids, book.Asks, nowMs)
	c.store(assetID, snap)
	return snap
}

// store keeps UpdatedAtMs monotonic per asset so a delayed frame can never
// roll a snapshot's clock backwards.
func (c *BookCache) store(assetID string, snap BookSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.books[assetID]; ok && prev.UpdatedAtMs > snap.UpdatedAtMs {
		snap.UpdatedAtMs = prev.UpdatedAtMs
	}
	c.books[assetID] = snap
}

// Get returns the raw cached snapshot without freshness rules.
func (c *BookCache) Get(assetID string) (BookSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.books[assetID]
	return snap, ok
}

// Size reports the number of cached books.
func (c *BookCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}

// TopOfBook resolves the snapshot the trade processor prices against. A
// fresh cached entry wins; a stale one triggers an HTTP probe when fallback
// is enabled, with the stale entry as the last resort.
func (c *BookCache) TopOfBook(ctx context.Context, assetID string) BookSnapshot {
	nowMs := time.Now().UnixMilli()

	snap, ok := c.Get(assetID)
	if ok && nowMs-snap.UpdatedAtMs <= c.ttlMs {
		return snap
	}

	if c.httpFallback && c.fetcher != nil {
		book, err := c.fetcher.GetBook(ctx, assetID)
		if err == nil {
			return c.applyBook(assetID, book, time.Now().UnixMilli())
		}
		log.Printf("[Books] HTTP probe failed asset=%s err=%v", assetID, err)
	}

	if ok {
		return snap
	}
	return BookSnapshot{}
}

// snapshotFromLevels picks the best of each side. Levels are scanned rather
// than trusted at index 0 because WS frames have shipped both orderings.
func snapshotFromLevels(bids, asks []api.OrderBookLevel, nowMs int64) BookSnapshot {
	snap := BookSnapshot{UpdatedAtMs: nowMs}

	for _, lvl := range bids {
		p := lvl.Price.Float64()
		if p <= 0 {
			continue
		}
		if snap.BestBid == nil || p > *snap.BestBid {
			v := p
			snap.BestBid = &v
		}
	}
	for _, lvl := range asks {
		p := lvl.Price.Float64()
		if p <= 0 {
			continue
		}
		if snap.BestAsk == nil || p < *snap.BestAsk {
			v := p
			snap.BestAsk = &v
		}
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		s := *snap.BestAsk - *snap.BestBid
		snap.Spread = &s
	}
	return snap
}
