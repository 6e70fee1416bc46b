package syncer

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"polymirror/api"
	"polymirror/config"
	"polymirror/storage"
	"polymirror/utils"
)

// processTrade runs the filter, price, size, dispatch sequence for one
// deduplicated trade. Every filter failure is a silent reject.
func (e *Engine) processTrade(item api.TradeItem, reason string, meta triggerMeta) {
	side := strings.ToUpper(item.Side)
	if side != "BUY" && side != "SELL" {
		return
	}
	if item.Asset == "" {
		return
	}

	srcPx := item.Price.Float64()
	if srcPx < e.cfg.MinPrice || srcPx > e.cfg.MaxPrice {
		return
	}

	var lagMs int64
	if meta.eventTs > 0 {
		lagMs = meta.recvTs - meta.eventTs
		if lagMs > e.cfg.MaxLagMs {
			return
		}
	}

	ctx := context.Background()
	book := e.books.TopOfBook(ctx, item.Asset)
	if book.Spread != nil && *book.Spread > e.cfg.MaxSpread {
		return
	}

	var px float64
	if side == "BUY" {
		if book.BestAsk == nil {
			return
		}
		px = math.Min(e.cfg.MaxPrice, *book.BestAsk+e.cfg.CrossTick)
	} else {
		if book.BestBid == nil {
			return
		}
		px = math.Max(e.cfg.MinPrice, *book.BestBid-e.cfg.CrossTick)
	}
	px = math.Min(e.cfg.MaxPrice, math.Max(e.cfg.MinPrice, px))
	px = math.Round(px*100) / 100
	if px <= 0 {
		return
	}

	srcUsdc := item.UsdcSize.Float64()
	if srcUsdc <= 0 {
		if sz := item.Size.Float64(); sz > 0 {
			srcUsdc = sz * px
		}
	}
	if srcUsdc <= 0 {
		return
	}

	var copyUsdc float64
	if e.cfg.SizeMode == config.SizePercent {
		copyUsdc = srcUsdc * e.cfg.Scale()
	} else {
		copyUsdc = e.cfg.FixedOrderUSDC
	}
	if e.cfg.MaxOrderUSDC > 0 && copyUsdc > e.cfg.MaxOrderUSDC {
		copyUsdc = e.cfg.MaxOrderUSDC
	}
	if copyUsdc <= 0 {
		return
	}

	shares := copyUsdc / px

	sample := LatencySample{
		EventTs:    meta.eventTs,
		RecvTs:     meta.recvTs,
		DecisionTs: time.Now().UnixMilli(),
	}

	success := true
	message := ""
	if e.cfg.Mode == config.ModeLive {
		sample.SubmitTs = time.Now().UnixMilli()
		success, message = e.placer.PlaceOrder(ctx, item.Asset, side, px, shares)
		sample.AckTs = time.Now().UnixMilli()

		if success {
			log.Printf("[LIVE COPY OK] reason=%s side=%s token=%s px=%.2f srcPx=%.4f srcUsdc=%.2f copyUsdc=%.2f shares=%.4f lagMs=%d spread=%s ackMs=%d",
				reason, side, utils.ShortToken(item.Asset), px, srcPx, srcUsdc, copyUsdc, shares, lagMs, fmtSpread(book.Spread), sample.AckTs-sample.SubmitTs)
		} else {
			log.Printf("[LIVE COPY FAIL] reason=%s side=%s token=%s px=%.2f shares=%.4f err=%s",
				reason, side, utils.ShortToken(item.Asset), px, shares, message)
		}
	} else {
		sample.SubmitTs = sample.DecisionTs
		sample.AckTs = time.Now().UnixMilli()
		log.Printf("[PAPER COPY] reason=%s side=%s token=%s px=%.2f srcPx=%.4f srcUsdc=%.2f copyUsdc=%.2f shares=%.4f lagMs=%d spread=%s",
			reason, side, utils.ShortToken(item.Asset), px, srcPx, srcUsdc, copyUsdc, shares, lagMs, fmtSpread(book.Spread))
	}

	atomic.AddInt64(&e.dispatched, 1)
	e.telemetry.Record(sample)
	e.recordJournal(item, reason, side, px, srcPx, srcUsdc, copyUsdc, shares, lagMs, success, message)
}

func (e *Engine) recordJournal(item api.TradeItem, reason, side string, px, srcPx, srcUsdc, copyUsdc, shares float64, lagMs int64, success bool, message string) {
	if e.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.journal.RecordMirror(ctx, storage.MirrorOrder{
		RunID:    e.runID,
		Reason:   reason,
		Mode:     e.cfg.Mode,
		Side:     side,
		TokenID:  item.Asset,
		Px:       px,
		SrcPx:    srcPx,
		SrcUsdc:  srcUsdc,
		CopyUsdc: copyUsdc,
		Shares:   shares,
		LagMs:    lagMs,
		Success:  success,
		Message:  message,
	})
	if err != nil {
		log.Printf("[Journal] write failed: %v", err)
	}
}

func (e *Engine) dispatchedCount() int64 {
	return atomic.LoadInt64(&e.dispatched)
}

func fmtSpread(spread *float64) string {
	if spread == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *spread)
}
