package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Lcs-93/Binance-like/internal/events"
	"github.com/Lcs-93/Binance-like/internal/journal"
	"github.com/Lcs-93/Binance-like/internal/models"
	"github.com/Lcs-93/Binance-like/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *journal.Recorder) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus()
	rec := journal.NewRecorder(st, bus)
	return NewEngine(st, rec, bus, zap.NewNop()), st, rec
}

func seedUser(t *testing.T, st *store.Store, email string, cash int64, cryptos map[string]decimal.Decimal) {
	t.Helper()
	if cryptos == nil {
		cryptos = map[string]decimal.Decimal{}
	}
	user := &models.User{
		ID:       email,
		Username: email,
		Email:    email,
		Cash:     decimal.NewFromInt(cash),
		Cryptos:  cryptos,
	}
	if err := st.SaveUser(user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func TestEngine_Deposit(t *testing.T) {
	tests := []struct {
		name       string
		amount     decimal.Decimal
		wantErr    error
		wantCash   string
	}{
		{"ValidAmount", decimal.NewFromInt(250), nil, "1250"},
		{"ZeroAmount", decimal.Zero, ErrInvalidAmount, "1000"},
		{"NegativeAmount", decimal.NewFromInt(-5), ErrInvalidAmount, "1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, st, _ := newTestEngine(t)
			seedUser(t, st, "a@x.com", 1000, nil)
			sess := NewSession("a@x.com")

			_, err := eng.Deposit(sess, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}

			user, err := st.GetUser("a@x.com")
			if err != nil {
				t.Fatalf("failed to reload user: %v", err)
			}
			if user.Cash.String() != tt.wantCash {
				t.Errorf("expected cash %s, got %s", tt.wantCash, user.Cash)
			}
		})
	}
}

func TestEngine_Withdraw(t *testing.T) {
	tests := []struct {
		name     string
		cash     int64
		amount   decimal.Decimal
		wantErr  error
		wantCash string
	}{
		{"ValidAmount", 100, decimal.NewFromInt(40), nil, "60"},
		{"ExactBalance", 100, decimal.NewFromInt(100), nil, "0"},
		{"Overdraw", 30, decimal.NewFromInt(50), ErrInsufficientCash, "30"},
		{"NegativeAmount", 100, decimal.NewFromInt(-1), ErrInvalidAmount, "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, st, _ := newTestEngine(t)
			seedUser(t, st, "a@x.com", tt.cash, nil)

			_, err := eng.Withdraw(NewSession("a@x.com"), tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}

			user, _ := st.GetUser("a@x.com")
			if user.Cash.String() != tt.wantCash {
				t.Errorf("expected cash %s, got %s", tt.wantCash, user.Cash)
			}
		})
	}
}

func TestEngine_BuySellScenario(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedUser(t, st, "a@x.com", 1000, nil)
	sess := NewSession("a@x.com")

	// Buy 2 BTC at 300.
	user, err := eng.Buy(sess, "BTC", decimal.NewFromInt(2), decimal.NewFromInt(300))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if user.Cash.String() != "400" {
		t.Errorf("expected cash 400 after buy, got %s", user.Cash)
	}
	if user.Cryptos["BTC"].String() != "2" {
		t.Errorf("expected 2 BTC, got %s", user.Cryptos["BTC"])
	}

	// Sell 2 BTC at 350.
	user, err = eng.Sell(sess, "BTC", decimal.NewFromInt(2), decimal.NewFromInt(350))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if user.Cash.String() != "1100" {
		t.Errorf("expected cash 1100 after sell, got %s", user.Cash)
	}
	if _, present := user.Cryptos["BTC"]; present {
		t.Error("BTC key must be removed when holding reaches zero")
	}
}

func TestEngine_BuySellRoundTrip(t *testing.T) {
	// Buying then selling the same quantity at the same price restores the
	// starting balances exactly (no fees modeled).
	eng, st, _ := newTestEngine(t)
	seedUser(t, st, "a@x.com", 1000, nil)
	sess := NewSession("a@x.com")

	qty := decimal.RequireFromString("0.12345678")
	price := decimal.RequireFromString("63123.45")

	if _, err := eng.Buy(sess, "BTC", qty, price); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	user, err := eng.Sell(sess, "BTC", qty, price)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if !user.Cash.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected cash restored to 1000, got %s", user.Cash)
	}
	if len(user.Cryptos) != 0 {
		t.Errorf("expected empty holdings, got %v", user.Cryptos)
	}
}

func TestEngine_BuyRejections(t *testing.T) {
	tests := []struct {
		name    string
		qty     decimal.Decimal
		price   decimal.Decimal
		wantErr error
	}{
		{"ZeroQuantity", decimal.Zero, decimal.NewFromInt(10), ErrInvalidAmount},
		{"NegativeQuantity", decimal.NewFromInt(-1), decimal.NewFromInt(10), ErrInvalidAmount},
		{"ZeroPrice", decimal.NewFromInt(1), decimal.Zero, ErrInvalidPrice},
		{"TooExpensive", decimal.NewFromInt(4), decimal.NewFromInt(300), ErrInsufficientCash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, st, rec := newTestEngine(t)
			seedUser(t, st, "a@x.com", 1000, nil)

			_, err := eng.Buy(NewSession("a@x.com"), "BTC", tt.qty, tt.price)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}

			// Rejection leaves no partial effects.
			user, _ := st.GetUser("a@x.com")
			if user.Cash.String() != "1000" || len(user.Cryptos) != 0 {
				t.Errorf("balances mutated on rejection: cash=%s cryptos=%v", user.Cash, user.Cryptos)
			}
			txns, _ := rec.List("a@x.com")
			if len(txns) != 0 {
				t.Errorf("expected no ledger entries, got %d", len(txns))
			}
		})
	}
}

func TestEngine_SellInsufficientHoldings(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedUser(t, st, "a@x.com", 0, map[string]decimal.Decimal{"ETH": decimal.NewFromInt(1)})

	_, err := eng.Sell(NewSession("a@x.com"), "ETH", decimal.NewFromInt(2), decimal.NewFromInt(10))
	if !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
	_, err = eng.Sell(NewSession("a@x.com"), "BTC", decimal.NewFromInt(1), decimal.NewFromInt(10))
	if !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings for unheld symbol, got %v", err)
	}
}

func TestEngine_ExternalExchange(t *testing.T) {
	eng, st, rec := newTestEngine(t)
	seedUser(t, st, "a@x.com", 0, map[string]decimal.Decimal{"ETH": decimal.NewFromInt(5)})
	seedUser(t, st, "b@x.com", 0, nil)

	_, err := eng.ExternalExchange(NewSession("a@x.com"), "b@x.com", "ETH", decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	sender, _ := st.GetUser("a@x.com")
	recipient, _ := st.GetUser("b@x.com")
	if sender.Cryptos["ETH"].String() != "3" {
		t.Errorf("expected sender to hold 3 ETH, got %s", sender.Cryptos["ETH"])
	}
	if recipient.Cryptos["ETH"].String() != "2" {
		t.Errorf("expected recipient to hold 2 ETH, got %s", recipient.Cryptos["ETH"])
	}

	// Quantity conserved across both accounts.
	total := sender.Cryptos["ETH"].Add(recipient.Cryptos["ETH"])
	if total.String() != "5" {
		t.Errorf("expected 5 ETH total, got %s", total)
	}

	// Both sides get a ledger entry.
	sentTxns, _ := rec.List("a@x.com")
	recvTxns, _ := rec.List("b@x.com")
	if len(sentTxns) != 1 || sentTxns[0].Type != models.TxnExchangeSent {
		t.Errorf("expected one sent entry, got %v", sentTxns)
	}
	if len(recvTxns) != 1 || recvTxns[0].Type != models.TxnExchangeReceived {
		t.Errorf("expected one received entry, got %v", recvTxns)
	}
	if sentTxns[0].Counterparty != "b@x.com" || recvTxns[0].Counterparty != "a@x.com" {
		t.Error("counterparty emails not recorded")
	}
}

func TestEngine_ExternalExchangeRejections(t *testing.T) {
	tests := []struct {
		name         string
		counterparty string
		qty          decimal.Decimal
		wantErr      error
	}{
		{"UnknownCounterparty", "ghost@x.com", decimal.NewFromInt(1), ErrUserNotFound},
		{"SelfExchange", "a@x.com", decimal.NewFromInt(1), ErrSelfExchange},
		{"TooMuch", "b@x.com", decimal.NewFromInt(10), ErrInsufficientHoldings},
		{"ZeroQuantity", "b@x.com", decimal.Zero, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, st, _ := newTestEngine(t)
			seedUser(t, st, "a@x.com", 0, map[string]decimal.Decimal{"ETH": decimal.NewFromInt(5)})
			seedUser(t, st, "b@x.com", 0, nil)

			_, err := eng.ExternalExchange(NewSession("a@x.com"), tt.counterparty, "ETH", tt.qty)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}

			// Neither account mutated.
			sender, _ := st.GetUser("a@x.com")
			recipient, _ := st.GetUser("b@x.com")
			if sender.Cryptos["ETH"].String() != "5" || len(recipient.Cryptos) != 0 {
				t.Error("balances mutated on rejected exchange")
			}
		})
	}
}

func TestEngine_ExchangeDrainsKey(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedUser(t, st, "a@x.com", 0, map[string]decimal.Decimal{"ETH": decimal.NewFromInt(2)})
	seedUser(t, st, "b@x.com", 0, nil)

	if _, err := eng.ExternalExchange(NewSession("a@x.com"), "b@x.com", "ETH", decimal.NewFromInt(2)); err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	sender, _ := st.GetUser("a@x.com")
	if _, present := sender.Cryptos["ETH"]; present {
		t.Error("ETH key must be removed when holding reaches zero")
	}
}

func TestEngine_PlaceLimitOrder(t *testing.T) {
	eng, st, rec := newTestEngine(t)
	seedUser(t, st, "a@x.com", 1000, nil)
	sess := NewSession("a@x.com")

	order, err := eng.PlaceLimitOrder(sess, "BTC", decimal.NewFromInt(2), decimal.NewFromInt(300), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("placement failed: %v", err)
	}
	if order.Status != models.OrderActive {
		t.Errorf("expected active order, got %s", order.Status)
	}
	if order.TotalCost.String() != "600" {
		t.Errorf("expected total cost 600, got %s", order.TotalCost)
	}

	// Cash is not debited or held at placement.
	user, _ := st.GetUser("a@x.com")
	if user.Cash.String() != "1000" {
		t.Errorf("expected cash untouched at placement, got %s", user.Cash)
	}

	// A pending buy entry is recorded and linked.
	txns, _ := rec.List("a@x.com")
	if len(txns) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(txns))
	}
	if txns[0].ID != order.TxnID || txns[0].Status != models.StatusPending || txns[0].Type != models.TxnBuy {
		t.Errorf("pending entry not linked to order: %+v", txns[0])
	}
}

func TestEngine_PlaceLimitOrderRejections(t *testing.T) {
	future := time.Now().Add(time.Hour)
	tests := []struct {
		name    string
		qty     decimal.Decimal
		price   decimal.Decimal
		expiry  time.Time
		wantErr error
	}{
		{"ZeroQuantity", decimal.Zero, decimal.NewFromInt(10), future, ErrInvalidAmount},
		{"ZeroPrice", decimal.NewFromInt(1), decimal.Zero, future, ErrInvalidPrice},
		{"PastExpiry", decimal.NewFromInt(1), decimal.NewFromInt(10), time.Now().Add(-time.Minute), ErrExpiryNotFuture},
		{"Unaffordable", decimal.NewFromInt(4), decimal.NewFromInt(300), future, ErrInsufficientCash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, st, rec := newTestEngine(t)
			seedUser(t, st, "a@x.com", 1000, nil)

			_, err := eng.PlaceLimitOrder(NewSession("a@x.com"), "BTC", tt.qty, tt.price, tt.expiry)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}

			// No order and no ledger entry on rejection.
			book, _ := st.Orders("a@x.com")
			if len(book) != 0 {
				t.Errorf("expected empty order book, got %d orders", len(book))
			}
			txns, _ := rec.List("a@x.com")
			if len(txns) != 0 {
				t.Errorf("expected no ledger entries, got %d", len(txns))
			}
		})
	}
}

func TestEngine_CancelLimitOrder(t *testing.T) {
	eng, st, rec := newTestEngine(t)
	seedUser(t, st, "a@x.com", 1000, nil)
	sess := NewSession("a@x.com")

	order, err := eng.PlaceLimitOrder(sess, "BTC", decimal.NewFromInt(1), decimal.NewFromInt(100), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("placement failed: %v", err)
	}

	if err := eng.CancelLimitOrder(sess, order.ID); err != nil {
		t.Fatalf("cancellation failed: %v", err)
	}
	book, _ := st.Orders("a@x.com")
	if book[0].Status != models.OrderCancelled {
		t.Errorf("expected cancelled status, got %s", book[0].Status)
	}
	txns, _ := rec.List("a@x.com")
	if txns[0].Status != models.StatusCancelled {
		t.Errorf("expected pending entry patched to cancelled, got %s", txns[0].Status)
	}

	// Terminal states are final.
	if err := eng.CancelLimitOrder(sess, order.ID); !errors.Is(err, ErrOrderNotActive) {
		t.Fatalf("expected ErrOrderNotActive on re-cancel, got %v", err)
	}
	if err := eng.CancelLimitOrder(sess, "missing-id"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestEngine_InvariantsAcrossSequence(t *testing.T) {
	// Mixed operation sequence: cash never negative, no zero-but-present
	// holding after any step.
	eng, st, _ := newTestEngine(t)
	seedUser(t, st, "a@x.com", 500, nil)
	sess := NewSession("a@x.com")

	steps := []func() error{
		func() error { _, err := eng.Deposit(sess, decimal.NewFromInt(100)); return err },
		func() error { _, err := eng.Buy(sess, "ETH", decimal.NewFromInt(3), decimal.NewFromInt(100)); return err },
		func() error { _, err := eng.Withdraw(sess, decimal.NewFromInt(1000)); return err }, // rejected
		func() error { _, err := eng.Sell(sess, "ETH", decimal.NewFromInt(1), decimal.NewFromInt(150)); return err },
		func() error { _, err := eng.Buy(sess, "ETH", decimal.NewFromInt(100), decimal.NewFromInt(100)); return err }, // rejected
		func() error { _, err := eng.Sell(sess, "ETH", decimal.NewFromInt(2), decimal.NewFromInt(90)); return err },
		func() error { _, err := eng.Withdraw(sess, decimal.NewFromInt(600)); return err },
	}

	for i, step := range steps {
		_ = step() // rejections are part of the sequence

		user, err := st.GetUser("a@x.com")
		if err != nil {
			t.Fatalf("step %d: failed to reload user: %v", i, err)
		}
		if user.Cash.IsNegative() {
			t.Fatalf("step %d: cash went negative: %s", i, user.Cash)
		}
		for sym, qty := range user.Cryptos {
			if !qty.IsPositive() {
				t.Fatalf("step %d: holding %s is not positive: %s", i, sym, qty)
			}
		}
	}
}

func TestEngine_TickConcurrentWithPlacement(t *testing.T) {
	// An evaluation pass and a placement must serialize: a book rewrite from
	// a stale snapshot would drop orders placed in between.
	eng, st, rec := newTestEngine(t)
	seedUser(t, st, "a@x.com", 1000, nil)
	sess := NewSession("a@x.com")

	const n = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			if _, err := eng.PlaceLimitOrder(sess, "BTC", decimal.NewFromInt(1), decimal.NewFromInt(1), time.Now().Add(time.Hour)); err != nil {
				t.Errorf("placement %d failed: %v", i, err)
				return
			}
		}
	}()

	// Evaluate with a clock past every expiry so each pass lapses whatever
	// the book holds at that moment.
	later := time.Now().Add(2 * time.Hour)
	for placing := true; placing; {
		select {
		case <-done:
			placing = false
		default:
			if err := eng.EvaluateTick("a@x.com", nil, later); err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
		}
	}
	if err := eng.EvaluateTick("a@x.com", nil, later); err != nil {
		t.Fatalf("final evaluation failed: %v", err)
	}

	book, _ := st.Orders("a@x.com")
	if len(book) != n {
		t.Fatalf("placed %d orders, book holds %d", n, len(book))
	}
	for _, order := range book {
		if order.Status != models.OrderExpired {
			t.Fatalf("expected every order expired, got %s", order.Status)
		}
	}
	txns, _ := rec.List("a@x.com")
	if len(txns) != n {
		t.Fatalf("expected %d ledger entries, got %d", n, len(txns))
	}
	for _, txn := range txns {
		if txn.Status != models.StatusExpired {
			t.Fatalf("expected every pending entry patched to expired, got %s", txn.Status)
		}
	}
}

func TestEngine_TickNeverResurrectsCancelledOrder(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedUser(t, st, "a@x.com", 1000, nil)
	sess := NewSession("a@x.com")

	order, err := eng.PlaceLimitOrder(sess, "BTC", decimal.NewFromInt(2), decimal.NewFromInt(300), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("placement failed: %v", err)
	}
	if err := eng.CancelLimitOrder(sess, order.ID); err != nil {
		t.Fatalf("cancellation failed: %v", err)
	}

	// A triggering price after cancellation must not execute the order.
	prices := map[string]decimal.Decimal{"BTC": decimal.NewFromInt(250)}
	if err := eng.EvaluateTick("a@x.com", prices, time.Now()); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	book, _ := st.Orders("a@x.com")
	if book[0].Status != models.OrderCancelled {
		t.Fatalf("cancelled order left terminal state: %s", book[0].Status)
	}
	user, _ := st.GetUser("a@x.com")
	if user.Cash.String() != "1000" || len(user.Cryptos) != 0 {
		t.Error("cancelled order must have no ledger effect")
	}
}

func TestEngine_LastUpdateMonotonic(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedUser(t, st, "a@x.com", 1000, nil)
	sess := NewSession("a@x.com")

	var prev int64
	for i := 0; i < 5; i++ {
		user, err := eng.Deposit(sess, decimal.NewFromInt(1))
		if err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
		if user.LastUpdate <= prev {
			t.Fatalf("LastUpdate not strictly increasing: %d then %d", prev, user.LastUpdate)
		}
		prev = user.LastUpdate
	}
}
