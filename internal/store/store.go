// Package store is the persistent record store: a BadgerDB-backed key-value
// layer holding the session record, the user directory, per-email user
// records, transaction ledgers, limit-order books, per-asset comment threads
// and portfolio value history. It carries no business logic.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/Lcs-93/Binance-like/internal/models"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("record not found")

// Storage keys. The same logical user is mirrored under the session key,
// the directory and the per-email record; divergence between them is a bug,
// so every write goes through SaveUser/SaveUsers.
const (
	keySession   = "session"
	keyDirectory = "users"
)

func userKey(email string) []byte       { return []byte("user:" + email) }
func ledgerKey(email string) []byte     { return []byte("ledger:" + email) }
func ordersKey(email string) []byte     { return []byte("orders:" + email) }
func commentsKey(assetID string) []byte { return []byte("comments:" + assetID) }
func historyKey(email string) []byte    { return []byte("history:" + email) }

// Store wraps a Badger database.
type Store struct {
	db *badger.DB
}

// Open initializes the store at the given path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func getJSON(txn *badger.Txn, key []byte, dst interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, src interface{}) error {
	val, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

// GetUser retrieves the per-email record.
func (s *Store) GetUser(email string) (*models.User, error) {
	user := &models.User{}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(email), user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Directory returns all registered accounts.
func (s *Store) Directory() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, []byte(keyDirectory), &users)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// SaveUser writes one logical user update fanned out to the three views:
// the per-email record, the directory entry and, when the account is the
// active session, the session copy. All three land in a single transaction.
func (s *Store) SaveUser(user *models.User) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return saveUserTxn(txn, user)
	})
}

// SaveUsers is the multi-account variant of SaveUser: all accounts are
// persisted in one transaction, or none. Peer exchanges rely on this.
func (s *Store) SaveUsers(users ...*models.User) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, u := range users {
			if err := saveUserTxn(txn, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveUserTxn(txn *badger.Txn, user *models.User) error {
	if err := setJSON(txn, userKey(user.Email), user); err != nil {
		return fmt.Errorf("failed to save user record: %w", err)
	}

	var users []models.User
	if err := getJSON(txn, []byte(keyDirectory), &users); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	found := false
	for i := range users {
		if users[i].Email == user.Email {
			users[i] = *user
			found = true
			break
		}
	}
	if !found {
		users = append(users, *user)
	}
	if err := setJSON(txn, []byte(keyDirectory), users); err != nil {
		return fmt.Errorf("failed to save directory: %w", err)
	}

	var session models.User
	err := getJSON(txn, []byte(keySession), &session)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if session.Email == user.Email {
		if err := setJSON(txn, []byte(keySession), user); err != nil {
			return fmt.Errorf("failed to save session copy: %w", err)
		}
	}
	return nil
}

// SaveUserAndOrders persists a balance update and the owner's order book in
// one transaction: an executed order and its balance change land together or
// not at all.
func (s *Store) SaveUserAndOrders(user *models.User, orders []models.LimitOrder) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := saveUserTxn(txn, user); err != nil {
			return err
		}
		return setJSON(txn, ordersKey(user.Email), orders)
	})
}

// SetSession marks the account as the active session.
func (s *Store) SetSession(user *models.User) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte(keySession), user)
	})
}

// Session returns the active session account, ErrNotFound when logged out.
func (s *Store) Session() (*models.User, error) {
	user := &models.User{}
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(keySession), user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ClearSession removes the active session record.
func (s *Store) ClearSession() error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(keySession))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Transactions returns a user's ledger, most-recent-first as stored.
func (s *Store) Transactions(email string) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, ledgerKey(email), &txns)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// SaveTransactions replaces a user's ledger.
func (s *Store) SaveTransactions(email string, txns []models.Transaction) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, ledgerKey(email), txns)
	})
}

// Orders returns a user's limit-order book.
func (s *Store) Orders(email string) ([]models.LimitOrder, error) {
	var orders []models.LimitOrder
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, ordersKey(email), &orders)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// SaveOrders replaces a user's limit-order book.
func (s *Store) SaveOrders(email string, orders []models.LimitOrder) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, ordersKey(email), orders)
	})
}

// Comments returns an asset's comment thread, oldest first.
func (s *Store) Comments(assetID string) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, commentsKey(assetID), &comments)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// AppendComment appends to an asset's thread.
func (s *Store) AppendComment(comment models.Comment) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var comments []models.Comment
		if err := getJSON(txn, commentsKey(comment.AssetID), &comments); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		comments = append(comments, comment)
		return setJSON(txn, commentsKey(comment.AssetID), comments)
	})
}

// History returns a user's portfolio value samples, oldest first.
func (s *Store) History(email string) ([]models.ValueSample, error) {
	var samples []models.ValueSample
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, historyKey(email), &samples)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// AppendHistory appends a value sample, keeping at most limit recent ones.
// The ring is display trend only, never ledger input.
func (s *Store) AppendHistory(email string, sample models.ValueSample, limit int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var samples []models.ValueSample
		if err := getJSON(txn, historyKey(email), &samples); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		samples = append(samples, sample)
		if limit > 0 && len(samples) > limit {
			samples = samples[len(samples)-limit:]
		}
		return setJSON(txn, historyKey(email), samples)
	})
}
