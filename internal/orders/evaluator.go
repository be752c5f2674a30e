// Package orders schedules limit-order evaluation: on each price tick it
// finds the accounts with open orders and runs the engine's serialized
// evaluation pass for each.
package orders

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Lcs-93/Binance-like/internal/ledger"
	"github.com/Lcs-93/Binance-like/internal/models"
	"github.com/Lcs-93/Binance-like/internal/store"
)

// Evaluator walks active limit orders on each price observation. Re-running
// it against an unchanged book and price is a no-op: terminal orders are
// excluded by status, so no execution can happen twice.
type Evaluator struct {
	store  *store.Store
	engine *ledger.Engine
	log    *zap.Logger
}

// NewEvaluator creates an evaluator over the given collaborators.
func NewEvaluator(st *store.Store, eng *ledger.Engine, log *zap.Logger) *Evaluator {
	return &Evaluator{store: st, engine: eng, log: log}
}

// EvaluateTick applies one price snapshot to the user's order book. The
// whole pass runs under the engine lock, so it cannot interleave with order
// placement or cancellation.
func (ev *Evaluator) EvaluateTick(email string, prices map[string]decimal.Decimal, now time.Time) error {
	return ev.engine.EvaluateTick(email, prices, now)
}

// EvaluateAll runs a tick for every account holding at least one active
// order. Called by the feed poller after each successful fetch.
func (ev *Evaluator) EvaluateAll(prices map[string]decimal.Decimal, now time.Time) {
	users, err := ev.store.Directory()
	if err != nil {
		ev.log.Error("failed to read user directory", zap.Error(err))
		return
	}
	for _, user := range users {
		book, err := ev.store.Orders(user.Email)
		if err != nil {
			ev.log.Error("failed to read orders", zap.String("email", user.Email), zap.Error(err))
			continue
		}
		active := false
		for _, order := range book {
			if order.Status == models.OrderActive {
				active = true
				break
			}
		}
		if !active {
			continue
		}
		if err := ev.EvaluateTick(user.Email, prices, now); err != nil {
			ev.log.Error("order evaluation failed", zap.String("email", user.Email), zap.Error(err))
		}
	}
}
