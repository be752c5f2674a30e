package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Lcs-93/Binance-like/internal/auth"
	"github.com/Lcs-93/Binance-like/internal/events"
	"github.com/Lcs-93/Binance-like/internal/feed"
	"github.com/Lcs-93/Binance-like/internal/journal"
	"github.com/Lcs-93/Binance-like/internal/ledger"
	"github.com/Lcs-93/Binance-like/internal/models"
	"github.com/Lcs-93/Binance-like/internal/store"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store       *store.Store
	Engine      *ledger.Engine
	Recorder    *journal.Recorder
	AuthService *auth.Service
	Poller      *feed.Poller
	Feed        *feed.Client
	Bus         *events.Bus
	Log         *zap.Logger

	HistoryLength int
}

// NewHandler creates a new handler
func NewHandler(st *store.Store, eng *ledger.Engine, rec *journal.Recorder, authService *auth.Service, poller *feed.Poller, client *feed.Client, bus *events.Bus, log *zap.Logger, historyLength int) *Handler {
	return &Handler{
		Store:         st,
		Engine:        eng,
		Recorder:      rec,
		AuthService:   authService,
		Poller:        poller,
		Feed:          client,
		Bus:           bus,
		Log:           log,
		HistoryLength: historyLength,
	}
}

// rejectionStatus maps engine rejections to HTTP statuses. Unknown errors
// are treated as internal.
func rejectionStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUserNotFound), errors.Is(err, ledger.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInsufficientCash),
		errors.Is(err, ledger.ErrInsufficientHoldings),
		errors.Is(err, ledger.ErrSelfExchange),
		errors.Is(err, ledger.ErrOrderNotActive),
		errors.Is(err, ledger.ErrExpiryNotFuture):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// userView strips the password hash from API responses.
func userView(u *models.User) map[string]interface{} {
	return map[string]interface{}{
		"id":          u.ID,
		"username":    u.Username,
		"email":       u.Email,
		"cash":        u.Cash,
		"cryptos":     u.Cryptos,
		"last_update": u.LastUpdate,
	}
}

// Register handles account creation
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.AuthService.Register(req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, userView(user))
}

// Login handles authentication and opens the session
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, sess, err := h.AuthService.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"email": sess.Email,
	})
}

// Logout destroys the active session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.AuthService.Logout(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to log out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// JWTAuthMiddleware verifies tokens and stores the account email in context
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		email, err := h.AuthService.EmailFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), "email", email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) session(r *http.Request) (*ledger.Session, bool) {
	email, ok := r.Context().Value("email").(string)
	if !ok || email == "" {
		return nil, false
	}
	return &ledger.Session{Email: email}, true
}

// Me returns the session user's account
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	user, err := h.Store.GetUser(sess.Email)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

// Deposit credits cash to the session user
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.Engine.Deposit(sess, req.Amount)
	if err != nil {
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

// Withdraw debits cash from the session user
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.Engine.Withdraw(sess, req.Amount)
	if err != nil {
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

// Buy executes a market buy at the submitted unit price
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		Symbol    string          `json:"symbol"`
		Quantity  decimal.Decimal `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "Symbol required")
		return
	}

	user, err := h.Engine.Buy(sess, req.Symbol, req.Quantity, req.UnitPrice)
	if err != nil {
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

// Sell executes a market sell at the submitted unit price
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		Symbol    string          `json:"symbol"`
		Quantity  decimal.Decimal `json:"quantity"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "Symbol required")
		return
	}

	user, err := h.Engine.Sell(sess, req.Symbol, req.Quantity, req.UnitPrice)
	if err != nil {
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

// Exchange sends holdings to another registered account
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		Counterparty string          `json:"counterparty"`
		Symbol       string          `json:"symbol"`
		Quantity     decimal.Decimal `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Symbol == "" || req.Counterparty == "" {
		writeError(w, http.StatusBadRequest, "Symbol and counterparty required")
		return
	}

	user, err := h.Engine.ExternalExchange(sess, req.Counterparty, req.Symbol, req.Quantity)
	if err != nil {
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

// PlaceOrder registers a limit order
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req struct {
		Symbol     string          `json:"symbol"`
		Quantity   decimal.Decimal `json:"quantity"`
		LimitPrice decimal.Decimal `json:"limit_price"`
		ExpiresAt  time.Time       `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "Symbol required")
		return
	}

	order, err := h.Engine.PlaceLimitOrder(sess, req.Symbol, req.Quantity, req.LimitPrice, req.ExpiresAt)
	if err != nil {
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetOrders returns the session user's limit-order book
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	orders, err := h.Store.Orders(sess.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}
	if orders == nil {
		orders = []models.LimitOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder cancels an active limit order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	orderID := chi.URLParam(r, "id")
	if err := h.Engine.CancelLimitOrder(sess, orderID); err != nil {
		writeError(w, rejectionStatus(err), "Failed to cancel order: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Order cancelled"})
}

// GetTransactions returns the session user's ledger, most-recent-first
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	txns, err := h.Recorder.List(sess.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// GetPortfolio values the session user's holdings at the latest snapshot
// and appends a sample to the value history ring
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	user, err := h.Store.GetUser(sess.Email)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	snap := h.Poller.Latest()
	prices := map[string]decimal.Decimal{}
	if snap != nil {
		prices = snap.Prices()
	}

	type holding struct {
		Symbol   string          `json:"symbol"`
		Quantity decimal.Decimal `json:"quantity"`
		Price    decimal.Decimal `json:"price"`
		Value    decimal.Decimal `json:"value"`
	}
	holdings := []holding{}
	cryptoTotal := decimal.Zero
	for symbol, qty := range user.Cryptos {
		price := prices[symbol]
		value := qty.Mul(price)
		cryptoTotal = cryptoTotal.Add(value)
		holdings = append(holdings, holding{Symbol: symbol, Quantity: qty, Price: price, Value: value})
	}
	total := cryptoTotal.Add(user.Cash)

	if snap != nil {
		sample := models.ValueSample{Time: time.Now().UTC(), Value: total}
		if err := h.Store.AppendHistory(sess.Email, sample, h.HistoryLength); err != nil {
			h.Log.Warn("failed to append value history", zap.Error(err))
		}
	}
	history, err := h.Store.History(sess.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cash":         user.Cash,
		"holdings":     holdings,
		"crypto_total": cryptoTotal,
		"total":        total,
		"history":      history,
	})
}

// GetTickers returns the latest polled snapshot
func (h *Handler) GetTickers(w http.ResponseWriter, r *http.Request) {
	snap := h.Poller.Latest()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "Price feed not available yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       snap.Tickers,
		"fetched_at": snap.FetchedAt,
	})
}

// GetTicker returns one asset, from the snapshot when possible
func (h *Handler) GetTicker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if snap := h.Poller.Latest(); snap != nil {
		if t := snap.Find(id); t != nil {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	ticker, err := h.Feed.Ticker(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Asset not found")
		return
	}
	writeJSON(w, http.StatusOK, ticker)
}

// GetComments returns an asset's comment thread
func (h *Handler) GetComments(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "id")
	comments, err := h.Store.Comments(assetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve comments")
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// PostComment appends to an asset's thread, tagged with the current price
func (h *Handler) PostComment(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	assetID := chi.URLParam(r, "id")
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "Comment text required")
		return
	}

	price := decimal.Zero
	if snap := h.Poller.Latest(); snap != nil {
		if t := snap.Find(assetID); t != nil {
			if p, err := t.Price(); err == nil {
				price = p
			}
		}
	}

	comment := models.Comment{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Text:        req.Text,
		AuthorEmail: sess.Email,
		PriceUSD:    price,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Store.AppendComment(comment); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save comment")
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}
