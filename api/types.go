package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Numeric handles Polymarket numbers that may arrive as strings, numbers, or
// null.
type Numeric float64

func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || strings.EqualFold(string(data), "null") {
		*n = 0
		return nil
	}

	// Handle quoted numbers.
	if data[0] == '"' && data[len(data)-1] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = Numeric(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Numeric(f)
	return nil
}

func (n Numeric) Float64() float64 {
	return float64(n)
}

// TradeItem is one entry of the source trader's activity feed.
type TradeItem struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Type            string  `json:"type"` // TRADE, REDEEM, SPLIT, MERGE
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            Numeric `json:"size"`
	UsdcSize        Numeric `json:"usdcSize"`
	Price           Numeric `json:"price"`
	Timestamp       Numeric `json:"timestamp"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Outcome         string  `json:"outcome"`
	TransactionHash string  `json:"transactionHash"`
}

// Key is the trade identity used for deduplication. Fields are joined in
// their parsed form (timestamp normalized to milliseconds, price and size
// reformatted from float64) so the same trade seen twice produces the same
// key even when fields arrive as strings on one pull and numbers on the next.
func (t TradeItem) Key() string {
	return strings.Join([]string{
		t.TransactionHash,
		t.Asset,
		t.Side,
		strconv.FormatInt(t.TimestampMs(), 10),
		strconv.FormatFloat(t.Price.Float64(), 'f', -1, 64),
		strconv.FormatFloat(t.Size.Float64(), 'f', -1, 64),
	}, "|")
}

// TimestampMs returns the trade timestamp normalized to milliseconds. The
// feed reports seconds in some paths and milliseconds in others.
func (t TradeItem) TimestampMs() int64 {
	return normalizeMs(int64(t.Timestamp))
}

func normalizeMs(ts int64) int64 {
	if ts == 0 {
		return 0
	}
	if ts < 1_000_000_000_000 {
		return ts * 1000
	}
	return ts
}

// Profile is a gamma public-search profile hit.
type Profile struct {
	Pseudonym   string `json:"pseudonym"`
	Name        string `json:"name"`
	ProxyWallet string `json:"proxyWallet"`
}

// SearchResult is the gamma public-search response envelope.
type SearchResult struct {
	Profiles []Profile `json:"profiles"`
}

// OrderBookLevel is a single resting price level.
type OrderBookLevel struct {
	Price Numeric `json:"price"`
	Size  Numeric `json:"size"`
}

// OrderBook is the CLOB book response for one token.
type OrderBook struct {
	Market  string           `json:"market"`
	AssetID string           `json:"asset_id"`
	Bids    []OrderBookLevel `json:"bids"`
	Asks    []OrderBookLevel `json:"asks"`
}

// MarketEvent is a frame from the market WebSocket channel. Only the two
// event types the engine consumes are modeled; everything else is dropped.
type MarketEvent struct {
	EventType string           `json:"event_type"`
	AssetID   string           `json:"asset_id"`
	Market    string           `json:"market"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`

	// The server has shipped the trade timestamp under several names.
	// EventTimeMs takes the first one present.
	Timestamp Numeric `json:"timestamp"`
	Ts        Numeric `json:"ts"`
	CreatedAt Numeric `json:"created_at"`
	CreatedAt2 Numeric `json:"createdAt"`
}

// EventTimeMs returns the event timestamp in milliseconds, or 0 when the
// frame carried none of the candidate fields.
func (e MarketEvent) EventTimeMs() int64 {
	for _, v := range []Numeric{e.Timestamp, e.Ts, e.CreatedAt, e.CreatedAt2} {
		if v != 0 {
			return normalizeMs(int64(v))
		}
	}
	return 0
}

// subscribeFrame is the market channel subscription payload.
type subscribeFrame struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}
