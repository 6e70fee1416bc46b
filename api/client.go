package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	DefaultDataURL  = "https://data-api.polymarket.com"
	DefaultClobURL  = "https://clob.polymarket.com"
)

// Client talks to the three public HTTP upstreams: gamma (profiles), the
// data API (activity feed) and the CLOB (order books).
type Client struct {
	gammaURL   string
	dataURL    string
	clobURL    string
	httpClient *http.Client
}

// NewClient creates a client against the production endpoints.
func NewClient() *Client {
	return &Client{
		gammaURL: DefaultGammaURL,
		dataURL:  DefaultDataURL,
		clobURL:  DefaultClobURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewClientWithURLs creates a client against explicit base URLs. Used by
// tests and by deployments pointed at proxies.
func NewClientWithURLs(gammaURL, dataURL, clobURL string) *Client {
	c := NewClient()
	if gammaURL != "" {
		c.gammaURL = gammaURL
	}
	if dataURL != "" {
		c.dataURL = dataURL
	}
	if clobURL != "" {
		c.clobURL = clobURL
	}
	return c
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ResolveWallet turns a source identifier into a proxy wallet address. A
// value that already looks like an address passes through unchanged. Anything
// else is treated as a username and resolved via gamma public search: an
// exact case-insensitive pseudonym match wins, otherwise the first profile
// that carries a proxy wallet.
func (c *Client) ResolveWallet(ctx context.Context, source string) (string, error) {
	source = strings.TrimSpace(source)
	if strings.HasPrefix(source, "0x") && len(source) == 42 {
		if !common.IsHexAddress(source) {
			return "", fmt.Errorf("invalid wallet address: %s", source)
		}
		return source, nil
	}

	name := strings.TrimPrefix(source, "@")
	q := url.Values{}
	q.Set("q", name)
	q.Set("search_profiles", "true")
	q.Set("limit_per_type", "20")

	var result SearchResult
	if err := c.getJSON(ctx, c.gammaURL+"/public-search?"+q.Encode(), &result); err != nil {
		return "", fmt.Errorf("profile search for %q failed: %w", name, err)
	}

	for _, p := range result.Profiles {
		if strings.EqualFold(p.Pseudonym, name) && p.ProxyWallet != "" {
			return p.ProxyWallet, nil
		}
	}
	for _, p := range result.Profiles {
		if p.ProxyWallet != "" {
			return p.ProxyWallet, nil
		}
	}
	return "", fmt.Errorf("no profile with a wallet found for %q", name)
}

// GetActivity pulls the most recent trades for a wallet, newest first.
func (c *Client) GetActivity(ctx context.Context, user string, limit int) ([]TradeItem, error) {
	q := url.Values{}
	q.Set("user", user)
	q.Set("type", "TRADE")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", "0")
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")

	var items []TradeItem
	if err := c.getJSON(ctx, c.dataURL+"/activity?"+q.Encode(), &items); err != nil {
		return nil, fmt.Errorf("activity fetch failed: %w", err)
	}
	return items, nil
}

// GetBook fetches the current CLOB book for a token.
func (c *Client) GetBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	q := url.Values{}
	q.Set("token_id", tokenID)

	var book OrderBook
	if err := c.getJSON(ctx, c.clobURL+"/book?"+q.Encode(), &book); err != nil {
		return nil, fmt.Errorf("book fetch for %s failed: %w", tokenID, err)
	}
	return &book, nil
}
