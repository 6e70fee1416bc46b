package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFixture runs a one-connection server that records subscribe frames and
// lets the test push frames down to the client.
type wsFixture struct {
	srv    *httptest.Server
	subs   chan subscribeFrame
	sendCh chan []byte
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := &wsFixture{
		subs:   make(chan subscribeFrame, 8),
		sendCh: make(chan []byte, 8),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range f.sendCh {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var sub subscribeFrame
			if json.Unmarshal(msg, &sub) == nil {
				f.subs <- sub
			}
		}
	}))
	return f
}

func (f *wsFixture) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *wsFixture) close() {
	f.srv.Close()
}

func waitSub(t *testing.T, f *wsFixture) subscribeFrame {
	t.Helper()
	select {
	case sub := <-f.subs:
		return sub
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for subscribe frame")
		return subscribeFrame{}
	}
}

func TestMarketStreamSubscribeAndEvents(t *testing.T) {
	f := newWSFixture(t)
	defer f.close()

	bookCh := make(chan MarketEvent, 4)
	tradeCh := make(chan MarketEvent, 4)
	s := NewMarketStream(f.url(),
		func(ev MarketEvent, recvMs int64) { bookCh <- ev },
		func(ev MarketEvent, recvMs int64) { tradeCh <- ev },
	)

	s.UpdateAssets([]string{"tokA"})
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	sub := waitSub(t, f)
	if sub.Type != "MARKET" {
		t.Errorf("subscribe type = %q, want MARKET", sub.Type)
	}
	if len(sub.AssetIDs) != 1 || sub.AssetIDs[0] != "tokA" {
		t.Errorf("subscribe assets = %v, want [tokA]", sub.AssetIDs)
	}

	f.sendCh <- []byte(`{"event_type":"book","asset_id":"tokA","bids":[{"price":"0.50","size":"10"}],"asks":[{"price":"0.52","size":"10"}]}`)
	select {
	case ev := <-bookCh:
		if ev.AssetID != "tokA" || len(ev.Bids) != 1 {
			t.Errorf("book event parsed wrong: %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for book event")
	}

	// Array framing and the last_trade_price path.
	f.sendCh <- []byte(`[{"event_type":"last_trade_price","asset_id":"tokA","timestamp":1700000000}]`)
	select {
	case ev := <-tradeCh:
		if ev.EventTimeMs() != 1700000000000 {
			t.Errorf("event time = %d, want 1700000000000", ev.EventTimeMs())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for last_trade_price event")
	}
}

func TestMarketStreamResubscribeOnGrowth(t *testing.T) {
	f := newWSFixture(t)
	defer f.close()

	s := NewMarketStream(f.url(), nil, nil)
	s.UpdateAssets([]string{"tokA"})
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	waitSub(t, f)

	s.UpdateAssets([]string{"tokA", "tokB"})
	sub := waitSub(t, f)
	if len(sub.AssetIDs) != 2 {
		t.Fatalf("resubscribe assets = %v, want full set of 2", sub.AssetIDs)
	}
	got := map[string]bool{}
	for _, id := range sub.AssetIDs {
		got[id] = true
	}
	if !got["tokA"] || !got["tokB"] {
		t.Errorf("resubscribe missing assets: %v", sub.AssetIDs)
	}

	// A duplicate set must not trigger another subscribe frame.
	s.UpdateAssets([]string{"tokB"})
	select {
	case sub := <-f.subs:
		t.Errorf("unexpected subscribe frame %v for unchanged set", sub)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMarketStreamIdleWithoutAssets(t *testing.T) {
	f := newWSFixture(t)
	defer f.close()

	s := NewMarketStream(f.url(), nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	select {
	case sub := <-f.subs:
		t.Errorf("unexpected subscribe frame %v with empty asset set", sub)
	case <-time.After(400 * time.Millisecond):
	}

	s.UpdateAssets([]string{"tokA"})
	waitSub(t, f)
}
