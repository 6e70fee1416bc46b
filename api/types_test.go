package api

import (
	"encoding/json"
	"testing"
)

func TestNumericUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    float64
		wantErr bool
	}{
		{name: "plain number", payload: `0.53`, want: 0.53},
		{name: "integer", payload: `1700000000`, want: 1700000000},
		{name: "quoted number", payload: `"0.53"`, want: 0.53},
		{name: "quoted integer", payload: `"42"`, want: 42},
		{name: "null", payload: `null`, want: 0},
		{name: "empty string", payload: `""`, want: 0},
		{name: "garbage", payload: `"abc"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Numeric
			err := json.Unmarshal([]byte(tt.payload), &n)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n.Float64() != tt.want {
				t.Errorf("got %v, want %v", n.Float64(), tt.want)
			}
		})
	}
}

func TestTradeItemTimestampMs(t *testing.T) {
	tests := []struct {
		name string
		ts   float64
		want int64
	}{
		{name: "seconds", ts: 1700000000, want: 1700000000000},
		{name: "milliseconds", ts: 1700000000123, want: 1700000000123},
		{name: "zero", ts: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := TradeItem{Timestamp: Numeric(tt.ts)}
			if got := it.TimestampMs(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTradeItemKeyStable(t *testing.T) {
	// The same trade parsed from string fields on one pull and numeric
	// fields on the next must produce identical keys.
	var a, b TradeItem
	if err := json.Unmarshal([]byte(`{"transactionHash":"0xabc","asset":"tok","side":"BUY","timestamp":1700000000,"price":0.51,"size":5}`), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"transactionHash":"0xabc","asset":"tok","side":"BUY","timestamp":"1700000000","price":"0.51","size":"5"}`), &b); err != nil {
		t.Fatal(err)
	}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}

	c := a
	c.Side = "SELL"
	if a.Key() == c.Key() {
		t.Error("different sides must produce different keys")
	}
}

func TestMarketEventTimeMs(t *testing.T) {
	tests := []struct {
		name string
		ev   MarketEvent
		want int64
	}{
		{name: "timestamp field", ev: MarketEvent{Timestamp: 1700000000}, want: 1700000000000},
		{name: "ts field", ev: MarketEvent{Ts: 1700000000500}, want: 1700000000500},
		{name: "created_at field", ev: MarketEvent{CreatedAt: 1700000001}, want: 1700000001000},
		{name: "createdAt field", ev: MarketEvent{CreatedAt2: 1700000002}, want: 1700000002000},
		{name: "first non-zero wins", ev: MarketEvent{Timestamp: 1700000000, Ts: 1700000009}, want: 1700000000000},
		{name: "none", ev: MarketEvent{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.EventTimeMs(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
