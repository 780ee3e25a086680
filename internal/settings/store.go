package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/Resinat/vpncore/internal/state"
)

// DefaultMaxUpdateRetries bounds read-modify-write attempts lost to
// concurrent writers.
const DefaultMaxUpdateRetries = 20

var (
	// ErrNotFound means no settings are stored for the account.
	ErrNotFound = errors.New("tunnel settings not found")
	// ErrAlreadyExists means settings are already stored for the account.
	ErrAlreadyExists = errors.New("tunnel settings already exist")
	// ErrTooManyConflicts means every update attempt lost to another writer.
	ErrTooManyConflicts = errors.New("tunnel settings update kept conflicting")
)

// Keychain is the revisioned credential store backing the settings.
type Keychain interface {
	Load(term state.SearchTerm) (state.KeychainItem, error)
	Add(account string, data []byte) (state.KeychainItem, error)
	Store(account string, data []byte, expectedRevision int64) (state.KeychainItem, error)
	Remove(account string) error
}

// Accounts tracks which account is logged in.
type Accounts interface {
	CurrentAccount() (string, bool, error)
	SetCurrentAccount(token string) error
	ClearCurrentAccount() error
}

// Store reads and transactionally updates tunnel settings.
type Store struct {
	keychain   Keychain
	accounts   Accounts
	maxRetries int
}

// NewStore creates a Store.
func NewStore(keychain Keychain, accounts Accounts) *Store {
	return &Store{keychain: keychain, accounts: accounts, maxRetries: DefaultMaxUpdateRetries}
}

// CurrentAccount returns the logged-in account token.
func (s *Store) CurrentAccount(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return s.accounts.CurrentAccount()
}

// SetCurrentAccount switches the logged-in account.
func (s *Store) SetCurrentAccount(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.accounts.SetCurrentAccount(token)
}

// ClearCurrentAccount logs out without deleting stored settings.
func (s *Store) ClearCurrentAccount(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.accounts.ClearCurrentAccount()
}

// Load returns the settings stored for token.
func (s *Store) Load(ctx context.Context, token string) (TunnelSettings, error) {
	if err := ctx.Err(); err != nil {
		return TunnelSettings{}, err
	}
	ts, _, err := s.load(token)
	return ts, err
}

func (s *Store) load(token string) (TunnelSettings, int64, error) {
	item, err := s.keychain.Load(state.ByAccount(token))
	if errors.Is(err, state.ErrNotFound) {
		return TunnelSettings{}, 0, ErrNotFound
	}
	if err != nil {
		return TunnelSettings{}, 0, fmt.Errorf("load tunnel settings: %w", err)
	}
	var ts TunnelSettings
	if err := json.Unmarshal(item.Data, &ts); err != nil {
		return TunnelSettings{}, 0, fmt.Errorf("decode tunnel settings: %w", err)
	}
	return ts, item.Revision, nil
}

// Add stores initial settings for token.
func (s *Store) Add(ctx context.Context, token string, ts TunnelSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encode tunnel settings: %w", err)
	}
	if _, err := s.keychain.Add(token, data); err != nil {
		if errors.Is(err, state.ErrConflict) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("add tunnel settings: %w", err)
	}
	return nil
}

// Update applies mutate to the latest stored settings and writes the result
// if nobody else wrote in between, retrying otherwise. mutate may run more
// than once and should only touch the fields its caller owns. An error from
// mutate aborts the update.
func (s *Store) Update(ctx context.Context, token string, mutate func(*TunnelSettings) error) (TunnelSettings, error) {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return TunnelSettings{}, err
		}

		ts, revision, err := s.load(token)
		if err != nil {
			return TunnelSettings{}, err
		}
		if err := mutate(&ts); err != nil {
			return TunnelSettings{}, err
		}
		data, err := json.Marshal(ts)
		if err != nil {
			return TunnelSettings{}, fmt.Errorf("encode tunnel settings: %w", err)
		}

		_, err = s.keychain.Store(token, data, revision)
		switch {
		case err == nil:
			return ts, nil
		case errors.Is(err, state.ErrRevisionMismatch):
			log.Printf("[settings] update conflict on attempt %d/%d, retrying", attempt, s.maxRetries)
			continue
		case errors.Is(err, state.ErrNotFound):
			return TunnelSettings{}, ErrNotFound
		default:
			return TunnelSettings{}, fmt.Errorf("store tunnel settings: %w", err)
		}
	}
	return TunnelSettings{}, ErrTooManyConflicts
}

// Remove deletes the settings stored for token.
func (s *Store) Remove(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.keychain.Remove(token)
}
