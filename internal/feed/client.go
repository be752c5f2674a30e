// Package feed consumes the public coinlore price API and drives the
// polling loop that feeds order evaluation.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Lcs-93/Binance-like/internal/models"
)

// Client fetches ticker snapshots over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a feed client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Tickers fetches the full asset list.
func (c *Client) Tickers(ctx context.Context) ([]models.Ticker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tickers/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: status %d", resp.StatusCode)
	}

	var payload struct {
		Data []models.Ticker `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode tickers: %w", err)
	}
	return payload.Data, nil
}

// Ticker fetches a single asset by feed id.
func (c *Client) Ticker(ctx context.Context, id string) (*models.Ticker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ticker/?id="+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: status %d", resp.StatusCode)
	}

	var payload []models.Ticker
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode ticker: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("feed: ticker %s not found", id)
	}
	return &payload[0], nil
}

// Snapshot is one observed set of tickers.
type Snapshot struct {
	Tickers   []models.Ticker
	FetchedAt time.Time
}

// Prices maps symbol to parsed unit price, skipping unparsable entries.
func (s *Snapshot) Prices() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(s.Tickers))
	for _, t := range s.Tickers {
		price, err := t.Price()
		if err != nil {
			continue
		}
		prices[t.Symbol] = price
	}
	return prices
}

// Find returns the ticker with the given feed id, nil if absent.
func (s *Snapshot) Find(id string) *models.Ticker {
	for i := range s.Tickers {
		if s.Tickers[i].ID == id {
			return &s.Tickers[i]
		}
	}
	return nil
}
