package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Lcs-93/Binance-like/internal/events"
)

const tickersBody = `{"data":[
	{"id":"90","symbol":"BTC","name":"Bitcoin","price_usd":"61250.12","percent_change_1h":"0.12","percent_change_24h":"-1.50","percent_change_7d":"3.10","market_cap_usd":"1200000000000","volume24":"25000000000","csupply":"19700000","tsupply":"21000000"},
	{"id":"80","symbol":"ETH","name":"Ethereum","price_usd":"2450.55","percent_change_1h":"0.01","percent_change_24h":"0.75","percent_change_7d":"-2.20","market_cap_usd":"290000000000","volume24":"12000000000","csupply":"120000000","tsupply":"120000000"}
]}`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tickers/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tickersBody))
	})
	mux.HandleFunc("/api/ticker/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "90" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"id":"90","symbol":"BTC","name":"Bitcoin","price_usd":"61250.12"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Tickers(t *testing.T) {
	srv := newFeedServer(t)
	client := NewClient(srv.URL)

	tickers, err := client.Tickers(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(tickers) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(tickers))
	}
	if tickers[0].Symbol != "BTC" || tickers[0].PriceUSD != "61250.12" {
		t.Errorf("unexpected first ticker: %+v", tickers[0])
	}

	price, err := tickers[0].Price()
	if err != nil {
		t.Fatalf("price parse failed: %v", err)
	}
	if price.String() != "61250.12" {
		t.Errorf("expected price 61250.12, got %s", price)
	}
}

func TestClient_Ticker(t *testing.T) {
	srv := newFeedServer(t)
	client := NewClient(srv.URL)

	ticker, err := client.Ticker(context.Background(), "90")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if ticker.Symbol != "BTC" {
		t.Errorf("expected BTC, got %s", ticker.Symbol)
	}

	if _, err := client.Ticker(context.Background(), "404"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestSnapshot_Prices(t *testing.T) {
	srv := newFeedServer(t)
	client := NewClient(srv.URL)
	tickers, err := client.Tickers(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	snap := Snapshot{Tickers: tickers, FetchedAt: time.Now()}
	prices := snap.Prices()
	if len(prices) != 2 {
		t.Fatalf("expected 2 prices, got %d", len(prices))
	}
	if prices["ETH"].String() != "2450.55" {
		t.Errorf("expected ETH 2450.55, got %s", prices["ETH"])
	}
	if found := snap.Find("80"); found == nil || found.Symbol != "ETH" {
		t.Errorf("Find(80) = %+v", found)
	}
	if snap.Find("404") != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestPoller_StartStop(t *testing.T) {
	srv := newFeedServer(t)
	client := NewClient(srv.URL)
	bus := events.NewBus()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	var ticks atomic.Int32
	poller := NewPoller(client, 10*time.Millisecond, bus, zap.NewNop(), func(Snapshot) {
		ticks.Add(1)
	})

	poller.Start(context.Background())
	deadline := time.After(2 * time.Second)
	for ticks.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("poller did not tick twice in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	poller.Stop()

	if poller.Latest() == nil {
		t.Fatal("expected a snapshot after polling")
	}
	select {
	case event := <-sub:
		if event != events.TickerUpdated {
			t.Errorf("expected TickerUpdated, got %s", event)
		}
	default:
		t.Error("expected TickerUpdated to be published")
	}

	// Stopped: no further ticks.
	count := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	if ticks.Load() != count {
		t.Error("poller kept ticking after Stop")
	}
}

func TestPoller_SurvivesFeedErrors(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(tickersBody))
	}))
	t.Cleanup(srv.Close)

	poller := NewPoller(NewClient(srv.URL), 10*time.Millisecond, events.NewBus(), zap.NewNop(), nil)
	poller.Start(context.Background())
	defer poller.Stop()

	time.Sleep(30 * time.Millisecond)
	if poller.Latest() != nil {
		t.Fatal("expected no snapshot while feed is failing")
	}

	// Feed recovers; the next tick picks it up.
	healthy.Store(true)
	deadline := time.After(2 * time.Second)
	for poller.Latest() == nil {
		select {
		case <-deadline:
			t.Fatal("poller did not recover after feed came back")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
