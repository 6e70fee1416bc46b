package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveWalletPassthrough(t *testing.T) {
	c := NewClient()
	addr := "0x56687bf447db6ffa42ffe2204a05edaa20f55839"
	got, err := c.ResolveWallet(context.Background(), addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != addr {
		t.Errorf("got %s, want %s", got, addr)
	}
}

func TestResolveWalletSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/public-search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "whale" || q.Get("search_profiles") != "true" || q.Get("limit_per_type") != "20" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"profiles":[
			{"pseudonym":"whaleFan","proxyWallet":"0x1111111111111111111111111111111111111111"},
			{"pseudonym":"Whale","proxyWallet":"0x2222222222222222222222222222222222222222"}
		]}`))
	}))
	defer srv.Close()

	c := NewClientWithURLs(srv.URL, "", "")

	// Exact case-insensitive pseudonym match wins over the first hit.
	got, err := c.ResolveWallet(context.Background(), "@whale")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0x2222222222222222222222222222222222222222" {
		t.Errorf("got %s, want exact pseudonym match", got)
	}
}

func TestResolveWalletFallbackFirstProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"profiles":[
			{"pseudonym":"other","proxyWallet":""},
			{"pseudonym":"another","proxyWallet":"0x3333333333333333333333333333333333333333"}
		]}`))
	}))
	defer srv.Close()

	c := NewClientWithURLs(srv.URL, "", "")
	got, err := c.ResolveWallet(context.Background(), "nomatch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0x3333333333333333333333333333333333333333" {
		t.Errorf("got %s, want first profile with a wallet", got)
	}
}

func TestResolveWalletNoProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"profiles":[]}`))
	}))
	defer srv.Close()

	c := NewClientWithURLs(srv.URL, "", "")
	if _, err := c.ResolveWallet(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for empty profile list")
	}
}

func TestGetActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activity" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("user") != "0xwallet" || q.Get("type") != "TRADE" || q.Get("limit") != "25" ||
			q.Get("offset") != "0" || q.Get("sortBy") != "TIMESTAMP" || q.Get("sortDirection") != "DESC" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[
			{"transactionHash":"0xa","asset":"tok1","side":"BUY","timestamp":1700000001,"price":"0.51","size":"5","usdcSize":"2.55"},
			{"transactionHash":"0xb","asset":"tok2","side":"SELL","timestamp":1700000000,"price":0.70,"size":2}
		]`))
	}))
	defer srv.Close()

	c := NewClientWithURLs("", srv.URL, "")
	items, err := c.GetActivity(context.Background(), "0xwallet", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Asset != "tok1" || items[0].Price.Float64() != 0.51 {
		t.Errorf("first item parsed wrong: %+v", items[0])
	}
	if items[1].Side != "SELL" || items[1].Size.Float64() != 2 {
		t.Errorf("second item parsed wrong: %+v", items[1])
	}
}

func TestGetActivityNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClientWithURLs("", srv.URL, "")
	if _, err := c.GetActivity(context.Background(), "0xwallet", 25); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestGetBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("token_id") != "tok1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"market":"m1","asset_id":"tok1","bids":[{"price":"0.50","size":"100"}],"asks":[{"price":"0.52","size":"80"}]}`))
	}))
	defer srv.Close()

	c := NewClientWithURLs("", "", srv.URL)
	book, err := c.GetBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(book.Bids) != 1 || book.Bids[0].Price.Float64() != 0.50 {
		t.Errorf("bids parsed wrong: %+v", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0].Price.Float64() != 0.52 {
		t.Errorf("asks parsed wrong: %+v", book.Asks)
	}
}
