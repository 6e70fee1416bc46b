package api

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultMarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

const reconnectDelay = 3 * time.Second

// BookHandler receives full book snapshots from the market channel.
type BookHandler func(ev MarketEvent, recvMs int64)

// LastTradeHandler receives last_trade_price frames from the market channel.
type LastTradeHandler func(ev MarketEvent, recvMs int64)

// MarketStream maintains a connection to the CLOB market WebSocket channel.
// It stays idle until the tracked asset set is non-empty, then connects,
// subscribes with the full set, and resubscribes whenever the set grows or
// the connection is re-established.
type MarketStream struct {
	url string

	conn   *websocket.Conn
	connMu sync.Mutex

	assets   map[string]bool
	assetsMu sync.RWMutex

	onBook      BookHandler
	onLastTrade LastTradeHandler

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMarketStream creates a stream client. Handlers may be nil.
func NewMarketStream(wsURL string, onBook BookHandler, onLastTrade LastTradeHandler) *MarketStream {
	if wsURL == "" {
		wsURL = DefaultMarketWSURL
	}
	return &MarketStream{
		url:         wsURL,
		assets:      make(map[string]bool),
		onBook:      onBook,
		onLastTrade: onLastTrade,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the stream loop. It returns immediately; connection is
// deferred until at least one asset is tracked.
func (s *MarketStream) Start() error {
	if s.running {
		return fmt.Errorf("market stream already running")
	}
	s.running = true
	go s.run()
	return nil
}

// Stop shuts the stream down and waits for the read loop to exit.
func (s *MarketStream) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("[MarketWS] Shutdown timeout")
	}
}

// UpdateAssets merges new asset ids into the tracked set. When the set grows
// on a live connection the full set is resubscribed.
func (s *MarketStream) UpdateAssets(assetIDs []string) {
	s.assetsMu.Lock()
	grew := false
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if !s.assets[id] {
			s.assets[id] = true
			grew = true
		}
	}
	total := len(s.assets)
	s.assetsMu.Unlock()

	if !grew {
		return
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}

	if err := s.subscribe(); err != nil {
		log.Printf("[MarketWS] Resubscribe failed: %v", err)
		return
	}
	log.Printf("[MarketWS] Resubscribed with %d assets", total)
}

// TrackedCount reports the size of the tracked asset set.
func (s *MarketStream) TrackedCount() int {
	s.assetsMu.RLock()
	defer s.assetsMu.RUnlock()
	return len(s.assets)
}

func (s *MarketStream) assetList() []string {
	s.assetsMu.RLock()
	defer s.assetsMu.RUnlock()
	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	return ids
}

func (s *MarketStream) run() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if s.TrackedCount() == 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		if err := s.connect(); err != nil {
			log.Printf("[MarketWS] Connect failed: %v", err)
			s.waitReconnect()
			continue
		}

		if err := s.subscribe(); err != nil {
			log.Printf("[MarketWS] Subscribe failed: %v", err)
			s.closeConn()
			s.waitReconnect()
			continue
		}
		log.Printf("[MarketWS] Connected, subscribed with %d assets", s.TrackedCount())

		s.readLoop()

		s.closeConn()

		select {
		case <-s.stopCh:
			return
		default:
		}
		s.waitReconnect()
	}
}

func (s *MarketStream) waitReconnect() {
	select {
	case <-s.stopCh:
	case <-time.After(reconnectDelay):
	}
}

func (s *MarketStream) connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

func (s *MarketStream) subscribe() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	frame := subscribeFrame{
		AssetIDs: s.assetList(),
		Type:     "MARKET",
	}
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("subscribe write failed: %w", err)
	}
	return nil
}

func (s *MarketStream) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

func (s *MarketStream) readLoop() {
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				log.Printf("[MarketWS] Read error: %v, reconnecting in %s", err, reconnectDelay)
			}
			return
		}
		s.handleMessage(msg)
	}
}

// handleMessage parses a frame and fans out to the handlers. The channel
// delivers both single events and arrays of events.
func (s *MarketStream) handleMessage(data []byte) {
	recvMs := time.Now().UnixMilli()

	var events []MarketEvent
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return
		}
	} else {
		var ev MarketEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		switch ev.EventType {
		case "book":
			if s.onBook != nil {
				s.onBook(ev, recvMs)
			}
		case "last_trade_price":
			if s.onLastTrade != nil {
				s.onLastTrade(ev, recvMs)
			}
		}
	}
}
