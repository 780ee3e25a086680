package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// AddressCache is the persisted list of API entry-point addresses.
type AddressCache struct {
	Endpoints []netip.AddrPort
	UpdatedAt time.Time
}

// RelayCache is the persisted relay list payload and its fingerprint.
type RelayCache struct {
	Data        []byte
	Fingerprint string
	UpdatedAt   time.Time
}

// CacheRepo wraps cache.db. Its contents can be rebuilt from the network.
type CacheRepo struct {
	db *sql.DB
	mu sync.Mutex
}

func newCacheRepo(db *sql.DB) *CacheRepo {
	return &CacheRepo{db: db}
}

// LoadAddressCache returns the stored address cache or ErrNotFound.
func (r *CacheRepo) LoadAddressCache() (AddressCache, error) {
	var endpointsJSON string
	var updatedAtNs int64
	err := r.db.QueryRow("SELECT endpoints_json, updated_at_ns FROM address_cache WHERE id = 1").
		Scan(&endpointsJSON, &updatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return AddressCache{}, ErrNotFound
	}
	if err != nil {
		return AddressCache{}, fmt.Errorf("scan address_cache: %w", err)
	}

	var endpoints []netip.AddrPort
	if err := json.Unmarshal([]byte(endpointsJSON), &endpoints); err != nil {
		return AddressCache{}, fmt.Errorf("unmarshal address_cache: %w", err)
	}
	return AddressCache{Endpoints: endpoints, UpdatedAt: time.Unix(0, updatedAtNs)}, nil
}

// SaveAddressCache replaces the stored address cache.
func (r *CacheRepo) SaveAddressCache(c AddressCache) error {
	data, err := json.Marshal(c.Endpoints)
	if err != nil {
		return fmt.Errorf("marshal address_cache: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.Exec(`
		INSERT INTO address_cache (id, endpoints_json, updated_at_ns)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			endpoints_json = excluded.endpoints_json,
			updated_at_ns  = excluded.updated_at_ns
	`, string(data), c.UpdatedAt.UnixNano())
	return err
}

// LoadRelayCache returns the stored relay list or ErrNotFound.
func (r *CacheRepo) LoadRelayCache() (RelayCache, error) {
	var relaysJSON string
	var c RelayCache
	var updatedAtNs int64
	err := r.db.QueryRow("SELECT relays_json, fingerprint, updated_at_ns FROM relay_cache WHERE id = 1").
		Scan(&relaysJSON, &c.Fingerprint, &updatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return RelayCache{}, ErrNotFound
	}
	if err != nil {
		return RelayCache{}, fmt.Errorf("scan relay_cache: %w", err)
	}
	c.Data = []byte(relaysJSON)
	c.UpdatedAt = time.Unix(0, updatedAtNs)
	return c, nil
}

// SaveRelayCache replaces the stored relay list.
func (r *CacheRepo) SaveRelayCache(c RelayCache) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO relay_cache (id, relays_json, fingerprint, updated_at_ns)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			relays_json   = excluded.relays_json,
			fingerprint   = excluded.fingerprint,
			updated_at_ns = excluded.updated_at_ns
	`, string(c.Data), c.Fingerprint, c.UpdatedAt.UnixNano())
	return err
}
