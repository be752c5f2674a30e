package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxnBuy              = "buy"
	TxnSell             = "sell"
	TxnDeposit          = "deposit"
	TxnWithdrawal       = "withdrawal"
	TxnExchangeSent     = "external_exchange_sent"
	TxnExchangeReceived = "external_exchange_received"
)

// Transaction statuses.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Limit order statuses.
const (
	OrderActive    = "active"
	OrderExecuted  = "executed"
	OrderCancelled = "cancelled"
	OrderExpired   = "expired"
)

// User represents a registered account. Email is the key under which the
// account is mirrored across the session record, the directory and the
// per-email record.
type User struct {
	ID           string                     `json:"id"`
	Username     string                     `json:"username"`
	Email        string                     `json:"email"`
	PasswordHash string                     `json:"password_hash"`
	Cash         decimal.Decimal            `json:"cash"`
	Cryptos      map[string]decimal.Decimal `json:"cryptos"`
	LastUpdate   int64                      `json:"last_update"` // Unix millis, strictly increasing per mutation
	CreatedAt    time.Time                  `json:"created_at"`
}

// Holding returns the quantity of symbol the user owns, zero if absent.
func (u *User) Holding(symbol string) decimal.Decimal {
	if u.Cryptos == nil {
		return decimal.Zero
	}
	return u.Cryptos[symbol]
}

// Clone returns a deep copy; the cryptos map is never shared.
func (u *User) Clone() *User {
	cp := *u
	cp.Cryptos = make(map[string]decimal.Decimal, len(u.Cryptos))
	for sym, qty := range u.Cryptos {
		cp.Cryptos[sym] = qty
	}
	return &cp
}

// Transaction is one immutable entry in a user's ledger. Only Status may
// change after creation, and only along the pending lifecycle.
type Transaction struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Symbol       string          `json:"symbol,omitempty"` // empty for cash-only operations
	Amount       decimal.Decimal `json:"amount"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Total        decimal.Decimal `json:"total"`
	Status       string          `json:"status"`
	Date         time.Time       `json:"date"`
	UserEmail    string          `json:"user_email"`
	Counterparty string          `json:"counterparty,omitempty"` // exchanges only
}

// LimitOrder is a conditional buy that executes once the observed price
// falls to or below LimitPrice before ExpiresAt. No cash is held while the
// order is active.
type LimitOrder struct {
	ID         string          `json:"id"`
	UserEmail  string          `json:"user_email"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Status     string          `json:"status"`
	TxnID      string          `json:"txn_id"` // pending ledger entry patched on terminal transition
	CreatedAt  time.Time       `json:"created_at"`
}

// Ticker is one asset snapshot as delivered by the price API. Numeric fields
// arrive string-encoded and are parsed where needed.
type Ticker struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	PriceUSD     string `json:"price_usd"`
	PercentChg1h string `json:"percent_change_1h"`
	PercentChg24 string `json:"percent_change_24h"`
	PercentChg7d string `json:"percent_change_7d"`
	MarketCapUSD string `json:"market_cap_usd"`
	Volume24     string `json:"volume24"`
	CSupply      string `json:"csupply"`
	TSupply      string `json:"tsupply"`
}

// Price parses the string-encoded USD price.
func (t Ticker) Price() (decimal.Decimal, error) {
	return decimal.NewFromString(t.PriceUSD)
}

// Comment is one entry in a per-asset discussion thread.
type Comment struct {
	ID          string          `json:"id"`
	AssetID     string          `json:"asset_id"`
	Text        string          `json:"text"`
	AuthorEmail string          `json:"author_email"`
	PriceUSD    decimal.Decimal `json:"price_usd"` // asset price when posted
	CreatedAt   time.Time       `json:"created_at"`
}

// ValueSample is one point of a user's portfolio value history ring.
type ValueSample struct {
	Time  time.Time       `json:"time"`
	Value decimal.Decimal `json:"value"`
}
