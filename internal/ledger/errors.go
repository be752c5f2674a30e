package ledger

import "errors"

// Rejection reasons. Every rejected operation leaves balances untouched;
// the API layer maps these to user-facing messages.
var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrUserNotFound         = errors.New("user not found")
	ErrSelfExchange         = errors.New("cannot exchange with yourself")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderNotActive       = errors.New("order is not active")
	ErrExpiryNotFuture      = errors.New("expiry must be in the future")
)
