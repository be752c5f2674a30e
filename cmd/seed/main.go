package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Lcs-93/Binance-like/internal/auth"
	"github.com/Lcs-93/Binance-like/internal/config"
	"github.com/Lcs-93/Binance-like/internal/events"
	"github.com/Lcs-93/Binance-like/internal/journal"
	"github.com/Lcs-93/Binance-like/internal/ledger"
	"github.com/Lcs-93/Binance-like/internal/logger"
	"github.com/Lcs-93/Binance-like/internal/store"
)

// Seed the record store with demo accounts and a few starter trades.
func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatal("failed to open record store", zap.Error(err))
	}
	defer st.Close()

	users, err := st.Directory()
	if err != nil {
		log.Fatal("failed to read directory", zap.Error(err))
	}
	if len(users) > 0 {
		fmt.Printf("Store already has %d accounts. No need to seed.\n", len(users))
		return
	}

	startingCash, err := decimal.NewFromString(cfg.StartingCash)
	if err != nil {
		log.Fatal("invalid STARTING_CASH", zap.String("value", cfg.StartingCash))
	}

	bus := events.NewBus()
	recorder := journal.NewRecorder(st, bus)
	engine := ledger.NewEngine(st, recorder, bus, log)
	authService := auth.NewService(st, cfg.JWTSecret, startingCash)

	demo := []struct {
		username, email string
	}{
		{"trader1", "trader1@example.com"},
		{"trader2", "trader2@example.com"},
	}
	for _, d := range demo {
		if _, err := authService.Register(d.username, d.email, "password"); err != nil {
			log.Fatal("failed to create demo account", zap.String("email", d.email), zap.Error(err))
		}
	}

	// Give trader1 a position so exchanges and sells work out of the box.
	sess := ledger.NewSession("trader1@example.com")
	if _, err := engine.Deposit(sess, decimal.NewFromInt(5000)); err != nil {
		log.Fatal("failed to seed deposit", zap.Error(err))
	}
	if _, err := engine.Buy(sess, "BTC", decimal.NewFromFloat(0.05), decimal.NewFromInt(60000)); err != nil {
		log.Fatal("failed to seed buy", zap.Error(err))
	}

	fmt.Println("Seeded 2 demo accounts (password: password).")
}
