package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Lcs-93/Binance-like/internal/events"
)

// Poller re-fetches the ticker list on a fixed interval. A failed fetch is
// logged and waits for the next tick; there is no backoff or jitter. Start
// and Stop bound its lifetime so no orphaned loop outlives its consumer.
type Poller struct {
	client   *Client
	interval time.Duration
	bus      *events.Bus
	log      *zap.Logger

	// onTick runs after each successful fetch, on the poller goroutine.
	onTick func(Snapshot)

	mu     sync.RWMutex
	latest *Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller; onTick may be nil.
func NewPoller(client *Client, interval time.Duration, bus *events.Bus, log *zap.Logger, onTick func(Snapshot)) *Poller {
	return &Poller{
		client:   client,
		interval: interval,
		bus:      bus,
		log:      log,
		onTick:   onTick,
	}
}

// Start launches the polling loop, fetching once immediately.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.poll(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

// Stop tears the loop down and waits for it to finish.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Latest returns the most recent snapshot, nil before the first success.
func (p *Poller) Latest() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

func (p *Poller) poll(ctx context.Context) {
	tickers, err := p.client.Tickers(ctx)
	if err != nil {
		// Transient: surface and wait for the next tick.
		p.log.Warn("price feed fetch failed", zap.Error(err))
		return
	}
	snap := Snapshot{Tickers: tickers, FetchedAt: time.Now().UTC()}

	p.mu.Lock()
	p.latest = &snap
	p.mu.Unlock()

	p.bus.Publish(events.TickerUpdated)
	if p.onTick != nil {
		p.onTick(snap)
	}
}
