package state

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// KeychainService namespaces credential store items written by this module.
const KeychainService = "net.vpncore.tunnel-settings"

// Repos groups the repositories backed by state.db and cache.db.
type Repos struct {
	Keychain *KeychainRepo
	Accounts *AccountRepo
	Cache    *CacheRepo
}

// persistenceCloser holds DB handles for cleanup. Implements io.Closer.
type persistenceCloser struct {
	stateDB *sql.DB
	cacheDB *sql.DB
}

func (c *persistenceCloser) Close() error {
	return errors.Join(c.stateDB.Close(), c.cacheDB.Close())
}

// PersistenceBootstrap opens state.db under stateDir and cache.db under
// cacheDir, applies migrations, and returns the repositories plus an
// io.Closer for the DB handles.
func PersistenceBootstrap(stateDir, cacheDir string) (*Repos, io.Closer, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create cache dir %s: %w", cacheDir, err)
	}

	stateDB, err := OpenDB(filepath.Join(stateDir, "state.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open state.db: %w", err)
	}

	cacheDB, err := OpenDB(filepath.Join(cacheDir, "cache.db"))
	if err != nil {
		stateDB.Close()
		return nil, nil, fmt.Errorf("open cache.db: %w", err)
	}

	if err := MigrateStateDB(stateDB); err != nil {
		stateDB.Close()
		cacheDB.Close()
		return nil, nil, fmt.Errorf("migrate state.db: %w", err)
	}
	if err := MigrateCacheDB(cacheDB); err != nil {
		stateDB.Close()
		cacheDB.Close()
		return nil, nil, fmt.Errorf("migrate cache.db: %w", err)
	}

	repos := &Repos{
		Keychain: newKeychainRepo(stateDB, KeychainService),
		Accounts: newAccountRepo(stateDB),
		Cache:    newCacheRepo(cacheDB),
	}
	return repos, &persistenceCloser{stateDB: stateDB, cacheDB: cacheDB}, nil
}
