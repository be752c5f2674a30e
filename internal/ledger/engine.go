// Package ledger is the engine applying balance-mutating operations to a
// user's cash and crypto holdings. Every operation validates against the
// latest persisted balances before touching anything, fans the result out
// through the record store and records a ledger entry.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Lcs-93/Binance-like/internal/events"
	"github.com/Lcs-93/Binance-like/internal/journal"
	"github.com/Lcs-93/Binance-like/internal/models"
	"github.com/Lcs-93/Binance-like/internal/store"
)

// Session identifies the acting account. Created at login, destroyed at
// logout; engine operations act only on the session's user.
type Session struct {
	Email     string
	CreatedAt time.Time
}

// NewSession creates a session context for the given account.
func NewSession(email string) *Session {
	return &Session{Email: email, CreatedAt: time.Now().UTC()}
}

// Engine serializes all ledger mutations behind one lock: the per-user
// balance record is the single contended resource, mirroring the original
// single-threaded execution model.
type Engine struct {
	mu       sync.Mutex
	store    *store.Store
	recorder *journal.Recorder
	bus      *events.Bus
	log      *zap.Logger
}

// NewEngine creates an engine over the given store, recorder and bus.
func NewEngine(st *store.Store, rec *journal.Recorder, bus *events.Bus, log *zap.Logger) *Engine {
	return &Engine{store: st, recorder: rec, bus: bus, log: log}
}

func (e *Engine) loadUser(email string) (*models.User, error) {
	user, err := e.store.GetUser(email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// touch bumps LastUpdate, keeping it strictly increasing even when two
// mutations land in the same millisecond.
func touch(user *models.User) {
	now := time.Now().UnixMilli()
	if now <= user.LastUpdate {
		now = user.LastUpdate + 1
	}
	user.LastUpdate = now
}

func (e *Engine) commit(user *models.User, txn models.Transaction) (*models.User, error) {
	touch(user)
	// Balances land before the ledger entry: a failed Record leaves an
	// unjournaled balance change, never an entry for a change that was not
	// applied.
	if err := e.store.SaveUser(user); err != nil {
		return nil, fmt.Errorf("failed to persist balances: %w", err)
	}
	if _, err := e.recorder.Record(txn); err != nil {
		return nil, err
	}
	e.bus.Publish(events.AssetsChanged)
	return user, nil
}

// Deposit credits simulated cash to the session user.
func (e *Engine) Deposit(sess *Session, amount decimal.Decimal) (*models.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	user, err := e.loadUser(sess.Email)
	if err != nil {
		return nil, err
	}

	user = user.Clone()
	user.Cash = user.Cash.Add(amount)

	e.log.Info("deposit", zap.String("email", sess.Email), zap.String("amount", amount.String()))
	return e.commit(user, models.Transaction{
		Type:      models.TxnDeposit,
		Amount:    amount,
		Total:     amount,
		Status:    models.StatusCompleted,
		UserEmail: sess.Email,
	})
}

// Withdraw debits simulated cash; rejected when it would overdraw.
func (e *Engine) Withdraw(sess *Session, amount decimal.Decimal) (*models.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	user, err := e.loadUser(sess.Email)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(user.Cash) {
		return nil, ErrInsufficientCash
	}

	user = user.Clone()
	user.Cash = user.Cash.Sub(amount)

	e.log.Info("withdrawal", zap.String("email", sess.Email), zap.String("amount", amount.String()))
	return e.commit(user, models.Transaction{
		Type:      models.TxnWithdrawal,
		Amount:    amount,
		Total:     amount,
		Status:    models.StatusCompleted,
		UserEmail: sess.Email,
	})
}

// Buy converts cash into quantity units of symbol at unitPrice.
func (e *Engine) Buy(sess *Session, symbol string, quantity, unitPrice decimal.Decimal) (*models.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !quantity.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !unitPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	user, err := e.loadUser(sess.Email)
	if err != nil {
		return nil, err
	}
	total := quantity.Mul(unitPrice)
	if total.GreaterThan(user.Cash) {
		return nil, ErrInsufficientCash
	}

	user = user.Clone()
	user.Cash = user.Cash.Sub(total)
	user.Cryptos[symbol] = user.Holding(symbol).Add(quantity)

	e.log.Info("buy",
		zap.String("email", sess.Email),
		zap.String("symbol", symbol),
		zap.String("quantity", quantity.String()),
		zap.String("unit_price", unitPrice.String()))
	return e.commit(user, models.Transaction{
		Type:      models.TxnBuy,
		Symbol:    symbol,
		Amount:    quantity,
		UnitPrice: unitPrice,
		Total:     total,
		Status:    models.StatusCompleted,
		UserEmail: sess.Email,
	})
}

// Sell converts quantity units of symbol back into cash at unitPrice. A
// holding sold down to exactly zero is removed, never retained at zero.
func (e *Engine) Sell(sess *Session, symbol string, quantity, unitPrice decimal.Decimal) (*models.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !quantity.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !unitPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	user, err := e.loadUser(sess.Email)
	if err != nil {
		return nil, err
	}
	if quantity.GreaterThan(user.Holding(symbol)) {
		return nil, ErrInsufficientHoldings
	}

	total := quantity.Mul(unitPrice)
	user = user.Clone()
	user.Cash = user.Cash.Add(total)
	remaining := user.Cryptos[symbol].Sub(quantity)
	if remaining.IsZero() {
		delete(user.Cryptos, symbol)
	} else {
		user.Cryptos[symbol] = remaining
	}

	e.log.Info("sell",
		zap.String("email", sess.Email),
		zap.String("symbol", symbol),
		zap.String("quantity", quantity.String()),
		zap.String("unit_price", unitPrice.String()))
	return e.commit(user, models.Transaction{
		Type:      models.TxnSell,
		Symbol:    symbol,
		Amount:    quantity,
		UnitPrice: unitPrice,
		Total:     total,
		Status:    models.StatusCompleted,
		UserEmail: sess.Email,
	})
}

// ExternalExchange moves quantity units of symbol from the session user to
// the counterparty. Both accounts are persisted in one store transaction,
// and each side gets its own ledger entry.
func (e *Engine) ExternalExchange(sess *Session, counterpartyEmail, symbol string, quantity decimal.Decimal) (*models.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !quantity.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if counterpartyEmail == sess.Email {
		return nil, ErrSelfExchange
	}
	sender, err := e.loadUser(sess.Email)
	if err != nil {
		return nil, err
	}
	recipient, err := e.loadUser(counterpartyEmail)
	if err != nil {
		return nil, err
	}
	if quantity.GreaterThan(sender.Holding(symbol)) {
		return nil, ErrInsufficientHoldings
	}

	sender = sender.Clone()
	recipient = recipient.Clone()
	remaining := sender.Cryptos[symbol].Sub(quantity)
	if remaining.IsZero() {
		delete(sender.Cryptos, symbol)
	} else {
		sender.Cryptos[symbol] = remaining
	}
	recipient.Cryptos[symbol] = recipient.Holding(symbol).Add(quantity)
	touch(sender)
	touch(recipient)

	if err := e.store.SaveUsers(sender, recipient); err != nil {
		return nil, fmt.Errorf("failed to persist exchange: %w", err)
	}
	if _, err := e.recorder.Record(models.Transaction{
		Type:         models.TxnExchangeSent,
		Symbol:       symbol,
		Amount:       quantity,
		Total:        quantity,
		Status:       models.StatusCompleted,
		UserEmail:    sender.Email,
		Counterparty: recipient.Email,
	}); err != nil {
		return nil, err
	}
	if _, err := e.recorder.Record(models.Transaction{
		Type:         models.TxnExchangeReceived,
		Symbol:       symbol,
		Amount:       quantity,
		Total:        quantity,
		Status:       models.StatusCompleted,
		UserEmail:    recipient.Email,
		Counterparty: sender.Email,
	}); err != nil {
		return nil, err
	}

	e.log.Info("external exchange",
		zap.String("from", sender.Email),
		zap.String("to", recipient.Email),
		zap.String("symbol", symbol),
		zap.String("quantity", quantity.String()))
	e.bus.Publish(events.AssetsChanged)
	return sender, nil
}

// PlaceLimitOrder validates affordability and registers an active order.
// No cash is debited or held until execution; the affordability check runs
// again at execution time inside EvaluateTick.
func (e *Engine) PlaceLimitOrder(sess *Session, symbol string, quantity, limitPrice decimal.Decimal, expiresAt time.Time) (*models.LimitOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !quantity.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !limitPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if !expiresAt.After(time.Now()) {
		return nil, ErrExpiryNotFuture
	}
	user, err := e.loadUser(sess.Email)
	if err != nil {
		return nil, err
	}
	total := quantity.Mul(limitPrice)
	if total.GreaterThan(user.Cash) {
		return nil, ErrInsufficientCash
	}

	order := models.LimitOrder{
		ID:         uuid.NewString(),
		UserEmail:  sess.Email,
		Symbol:     symbol,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		TotalCost:  total,
		ExpiresAt:  expiresAt.UTC(),
		Status:     models.OrderActive,
		TxnID:      uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	}
	orders, err := e.store.Orders(sess.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	orders = append(orders, order)
	if err := e.store.SaveOrders(sess.Email, orders); err != nil {
		return nil, fmt.Errorf("failed to save orders: %w", err)
	}

	if _, err := e.recorder.Record(models.Transaction{
		ID:        order.TxnID,
		Type:      models.TxnBuy,
		Symbol:    symbol,
		Amount:    quantity,
		UnitPrice: limitPrice,
		Total:     total,
		Status:    models.StatusPending,
		UserEmail: sess.Email,
	}); err != nil {
		// Roll the order back; the book must never reference a ledger entry
		// that was not written.
		if rerr := e.store.SaveOrders(sess.Email, orders[:len(orders)-1]); rerr != nil {
			e.log.Error("failed to roll back order after ledger write failure",
				zap.String("order_id", order.ID), zap.Error(rerr))
		}
		return nil, err
	}

	e.log.Info("limit order placed",
		zap.String("email", sess.Email),
		zap.String("symbol", symbol),
		zap.String("limit_price", limitPrice.String()),
		zap.Time("expires_at", order.ExpiresAt))
	e.bus.Publish(events.OrdersChanged)
	return &order, nil
}

// CancelLimitOrder transitions an active order to cancelled. Terminal
// orders cannot be cancelled.
func (e *Engine) CancelLimitOrder(sess *Session, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders, err := e.store.Orders(sess.Email)
	if err != nil {
		return fmt.Errorf("failed to read orders: %w", err)
	}
	idx := -1
	for i := range orders {
		if orders[i].ID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrOrderNotFound
	}
	if orders[idx].Status != models.OrderActive {
		return ErrOrderNotActive
	}

	orders[idx].Status = models.OrderCancelled
	if err := e.store.SaveOrders(sess.Email, orders); err != nil {
		return fmt.Errorf("failed to save orders: %w", err)
	}
	if err := e.recorder.PatchStatus(sess.Email, orders[idx].TxnID, models.StatusCancelled); err != nil {
		return err
	}

	e.log.Info("limit order cancelled", zap.String("email", sess.Email), zap.String("order_id", orderID))
	e.bus.Publish(events.OrdersChanged)
	return nil
}

// EvaluateTick applies one price snapshot (symbol -> unit price) to the
// user's order book, holding the engine lock for the whole pass so no
// placement or cancellation interleaves with the book rewrite. Expired
// orders lapse regardless of price. Each transition is persisted as it
// happens; an executed order lands in the same store transaction as its
// balance change, so a crash between them cannot double-execute. An order
// whose trigger is rejected for lack of cash stays active and is retried on
// the next tick; it never executes partially.
func (e *Engine) EvaluateTick(email string, prices map[string]decimal.Decimal, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, err := e.store.Orders(email)
	if err != nil {
		return fmt.Errorf("failed to read orders: %w", err)
	}

	changed := false
	for i := range book {
		order := &book[i]
		if order.Status != models.OrderActive {
			continue
		}

		if !order.ExpiresAt.After(now) {
			order.Status = models.OrderExpired
			if err := e.store.SaveOrders(email, book); err != nil {
				return fmt.Errorf("failed to save orders: %w", err)
			}
			changed = true
			if err := e.recorder.PatchStatus(email, order.TxnID, models.StatusExpired); err != nil {
				e.log.Error("failed to patch expired order entry",
					zap.String("order_id", order.ID), zap.Error(err))
			}
			e.log.Info("limit order expired",
				zap.String("email", email), zap.String("order_id", order.ID))
			continue
		}

		price, ok := prices[order.Symbol]
		if !ok || price.GreaterThan(order.LimitPrice) {
			continue
		}

		user, err := e.loadUser(email)
		if err != nil {
			return err
		}
		if order.TotalCost.GreaterThan(user.Cash) {
			// Cash was spent elsewhere since placement. Keep the order
			// active and retry on the next tick.
			e.log.Warn("limit order trigger deferred, insufficient cash",
				zap.String("email", email), zap.String("order_id", order.ID))
			continue
		}

		user = user.Clone()
		user.Cash = user.Cash.Sub(order.TotalCost)
		user.Cryptos[order.Symbol] = user.Holding(order.Symbol).Add(order.Quantity)
		touch(user)
		order.Status = models.OrderExecuted

		if err := e.store.SaveUserAndOrders(user, book); err != nil {
			return fmt.Errorf("failed to persist execution: %w", err)
		}
		changed = true
		if err := e.recorder.PatchStatus(email, order.TxnID, models.StatusCompleted); err != nil {
			e.log.Error("failed to patch executed order entry",
				zap.String("order_id", order.ID), zap.Error(err))
		}
		e.bus.Publish(events.AssetsChanged)
		e.log.Info("limit order executed",
			zap.String("email", email),
			zap.String("order_id", order.ID),
			zap.String("symbol", order.Symbol),
			zap.String("limit_price", order.LimitPrice.String()))
	}

	if changed {
		e.bus.Publish(events.OrdersChanged)
	}
	return nil
}
