package state

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AccountRepo persists the account the device is logged in to and its
// last known expiry.
type AccountRepo struct {
	db  *sql.DB
	now func() time.Time
	mu  sync.Mutex
}

func newAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db, now: time.Now}
}

// CurrentAccount returns the logged-in account token, if any.
func (r *AccountRepo) CurrentAccount() (string, bool, error) {
	var token string
	err := r.db.QueryRow("SELECT token FROM account WHERE id = 1").Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("scan account: %w", err)
	}
	return token, true, nil
}

// SetCurrentAccount switches to token. The stored expiry is reset unless the
// token is unchanged.
func (r *AccountRepo) SetCurrentAccount(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO account (id, token, expiry_ns, updated_at_ns)
		VALUES (1, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			expiry_ns     = CASE WHEN account.token = excluded.token THEN account.expiry_ns ELSE 0 END,
			token         = excluded.token,
			updated_at_ns = excluded.updated_at_ns
	`, token, r.now().UnixNano())
	return err
}

// ClearCurrentAccount logs out.
func (r *AccountRepo) ClearCurrentAccount() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("DELETE FROM account WHERE id = 1")
	return err
}

// Expiry returns the stored expiry for token. It reports false when token is
// not the current account or no expiry has been recorded yet.
func (r *AccountRepo) Expiry(token string) (time.Time, bool, error) {
	var expiryNs int64
	err := r.db.QueryRow("SELECT expiry_ns FROM account WHERE id = 1 AND token = ?", token).Scan(&expiryNs)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("scan account expiry: %w", err)
	}
	if expiryNs == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, expiryNs).UTC(), true, nil
}

// SaveExpiry records expiry for token. Returns ErrNotFound if token is no
// longer the current account.
func (r *AccountRepo) SaveExpiry(token string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(
		"UPDATE account SET expiry_ns = ?, updated_at_ns = ? WHERE id = 1 AND token = ?",
		expiry.UnixNano(), r.now().UnixNano(), token,
	)
	if err != nil {
		return fmt.Errorf("save account expiry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
