package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Lcs-93/Binance-like/internal/api"
	"github.com/Lcs-93/Binance-like/internal/auth"
	"github.com/Lcs-93/Binance-like/internal/config"
	"github.com/Lcs-93/Binance-like/internal/events"
	"github.com/Lcs-93/Binance-like/internal/feed"
	"github.com/Lcs-93/Binance-like/internal/journal"
	"github.com/Lcs-93/Binance-like/internal/ledger"
	"github.com/Lcs-93/Binance-like/internal/logger"
	"github.com/Lcs-93/Binance-like/internal/orders"
	"github.com/Lcs-93/Binance-like/internal/store"
)

// Main entry point: opens the record store, wires the ledger engine, order
// evaluator and price poller, and serves the HTTP API.
func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	startingCash, err := decimal.NewFromString(cfg.StartingCash)
	if err != nil {
		log.Fatal("invalid STARTING_CASH", zap.String("value", cfg.StartingCash))
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatal("failed to open record store", zap.Error(err))
	}
	defer st.Close()

	bus := events.NewBus()
	recorder := journal.NewRecorder(st, bus)
	engine := ledger.NewEngine(st, recorder, bus, log)
	evaluator := orders.NewEvaluator(st, engine, log)
	authService := auth.NewService(st, cfg.JWTSecret, startingCash)

	client := feed.NewClient(cfg.FeedBaseURL)
	poller := feed.NewPoller(client, cfg.PollInterval, bus, log, func(snap feed.Snapshot) {
		evaluator.EvaluateAll(snap.Prices(), time.Now())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller.Start(ctx)
	defer poller.Stop()

	handler := api.NewHandler(st, engine, recorder, authService, poller, client, bus, log, cfg.HistoryLength)
	router := api.NewRouter(handler)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", zap.String("addr", cfg.ListenAddr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
}
