// Package journal is the transaction recorder: an append-only,
// most-recent-first ledger of every balance-affecting operation.
package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lcs-93/Binance-like/internal/events"
	"github.com/Lcs-93/Binance-like/internal/models"
	"github.com/Lcs-93/Binance-like/internal/store"
)

// ErrTxnNotFound is returned when a patched entry does not exist.
var ErrTxnNotFound = errors.New("transaction not found")

// Recorder appends ledger entries and publishes LedgerChanged after every
// write. Entries are immutable once recorded except for the limit-order
// status lifecycle handled by PatchStatus.
type Recorder struct {
	store *store.Store
	bus   *events.Bus
}

// NewRecorder creates a recorder over the given store and event bus.
func NewRecorder(st *store.Store, bus *events.Bus) *Recorder {
	return &Recorder{store: st, bus: bus}
}

// Record timestamps the entry, tags it with a fresh id when the caller did
// not assign one, prepends it to the owner's ledger and persists it. The
// completed entry is returned.
func (r *Recorder) Record(txn models.Transaction) (*models.Transaction, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	txn.Date = time.Now().UTC()

	ledger, err := r.store.Transactions(txn.UserEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	ledger = append([]models.Transaction{txn}, ledger...)
	if err := r.store.SaveTransactions(txn.UserEmail, ledger); err != nil {
		return nil, fmt.Errorf("failed to save ledger: %w", err)
	}

	r.bus.Publish(events.LedgerChanged)
	return &txn, nil
}

// List returns the owner's ledger, most-recent-first.
func (r *Recorder) List(email string) ([]models.Transaction, error) {
	return r.store.Transactions(email)
}

// PatchStatus transitions the status of one entry. This is the only allowed
// mutation of a recorded entry; amount, type and date never change.
func (r *Recorder) PatchStatus(email, txnID, status string) error {
	ledger, err := r.store.Transactions(email)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	found := false
	for i := range ledger {
		if ledger[i].ID == txnID {
			ledger[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return ErrTxnNotFound
	}
	if err := r.store.SaveTransactions(email, ledger); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}

	r.bus.Publish(events.LedgerChanged)
	return nil
}
