package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// NewRouter wires all routes onto a chi router with permissive CORS.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket event stream
	r.Get("/ws", h.HandleWebSocket)

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/tickers", h.GetTickers)
	r.Get("/tickers/{id}", h.GetTicker)
	r.Get("/assets/{id}/comments", h.GetComments)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/auth/logout", h.Logout)
		r.Get("/me", h.Me)
		r.Post("/deposit", h.Deposit)
		r.Post("/withdraw", h.Withdraw)
		r.Post("/buy", h.Buy)
		r.Post("/sell", h.Sell)
		r.Post("/exchange", h.Exchange)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetOrders)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/transactions", h.GetTransactions)
		r.Get("/portfolio", h.GetPortfolio)
		r.Post("/assets/{id}/comments", h.PostComment)
	})

	return r
}
