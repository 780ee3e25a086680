package state

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// KeychainItem is one secret stored under (service, account). Revision
// starts at 1 and increases by one on every successful write.
type KeychainItem struct {
	PersistentRef int64
	Service       string
	Account       string
	Data          []byte
	Revision      int64
	CreatedAtNs   int64
	UpdatedAtNs   int64
}

// SearchTerm locates a keychain item by account or by persistent reference.
type SearchTerm struct {
	account       string
	persistentRef int64
}

// ByAccount matches the item stored for account.
func ByAccount(account string) SearchTerm {
	return SearchTerm{account: account}
}

// ByPersistentRef matches the item with the given persistent reference.
func ByPersistentRef(ref int64) SearchTerm {
	return SearchTerm{persistentRef: ref}
}

func (t SearchTerm) String() string {
	if t.persistentRef != 0 {
		return fmt.Sprintf("ref=%d", t.persistentRef)
	}
	return "account"
}

// KeychainRepo is the secure credential store. All writes are serialized by
// an internal mutex; concurrent writers are detected by revision.
type KeychainRepo struct {
	db      *sql.DB
	service string
	now     func() time.Time
	mu      sync.Mutex
}

func newKeychainRepo(db *sql.DB, service string) *KeychainRepo {
	return &KeychainRepo{db: db, service: service, now: time.Now}
}

const selectKeychainItemSQL = `
	SELECT id, service, account, data, revision, created_at_ns, updated_at_ns
	FROM keychain_items`

// Load returns the item matching term, or ErrNotFound.
func (r *KeychainRepo) Load(term SearchTerm) (KeychainItem, error) {
	var row *sql.Row
	if term.persistentRef != 0 {
		row = r.db.QueryRow(selectKeychainItemSQL+" WHERE service = ? AND id = ?", r.service, term.persistentRef)
	} else {
		row = r.db.QueryRow(selectKeychainItemSQL+" WHERE service = ? AND account = ?", r.service, term.account)
	}

	var it KeychainItem
	err := row.Scan(&it.PersistentRef, &it.Service, &it.Account, &it.Data, &it.Revision, &it.CreatedAtNs, &it.UpdatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return KeychainItem{}, ErrNotFound
	}
	if err != nil {
		return KeychainItem{}, fmt.Errorf("load keychain item (%s): %w", term, err)
	}
	return it, nil
}

// Add creates a new item at revision 1. Returns ErrConflict when an item
// already exists for account.
func (r *KeychainRepo) Add(account string, data []byte) (KeychainItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nowNs := r.now().UnixNano()
	res, err := r.db.Exec(`
		INSERT INTO keychain_items (service, account, data, revision, created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(service, account) DO NOTHING
	`, r.service, account, data, nowNs, nowNs)
	if err != nil {
		return KeychainItem{}, fmt.Errorf("add keychain item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return KeychainItem{}, ErrConflict
	}
	id, err := res.LastInsertId()
	if err != nil {
		return KeychainItem{}, fmt.Errorf("add keychain item: %w", err)
	}
	return KeychainItem{
		PersistentRef: id,
		Service:       r.service,
		Account:       account,
		Data:          data,
		Revision:      1,
		CreatedAtNs:   nowNs,
		UpdatedAtNs:   nowNs,
	}, nil
}

// Store replaces the data for account if its revision still equals
// expectedRevision. Returns ErrRevisionMismatch when another writer got
// there first and ErrNotFound when the item is gone.
func (r *KeychainRepo) Store(account string, data []byte, expectedRevision int64) (KeychainItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nowNs := r.now().UnixNano()
	res, err := r.db.Exec(`
		UPDATE keychain_items
		SET data = ?, revision = revision + 1, updated_at_ns = ?
		WHERE service = ? AND account = ? AND revision = ?
	`, data, nowNs, r.service, account, expectedRevision)
	if err != nil {
		return KeychainItem{}, fmt.Errorf("store keychain item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Load(ByAccount(account)); err != nil {
			return KeychainItem{}, err
		}
		return KeychainItem{}, ErrRevisionMismatch
	}
	return r.Load(ByAccount(account))
}

// Remove deletes the item for account. Removing a missing item is not an error.
func (r *KeychainRepo) Remove(account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("DELETE FROM keychain_items WHERE service = ? AND account = ?", r.service, account)
	return err
}

// Accounts lists the accounts that have an item, oldest first.
func (r *KeychainRepo) Accounts() ([]string, error) {
	rows, err := r.db.Query("SELECT account FROM keychain_items WHERE service = ? ORDER BY created_at_ns, id", r.service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, err
		}
		result = append(result, account)
	}
	return result, rows.Err()
}
