package state

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

func newTestRepos(t *testing.T) *Repos {
	t.Helper()
	dir := t.TempDir()
	repos, closer, err := PersistenceBootstrap(dir+"/state", dir+"/cache")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { closer.Close() })
	return repos
}

func TestPersistenceBootstrap_Reopen(t *testing.T) {
	dir := t.TempDir()
	repos, closer, err := PersistenceBootstrap(dir, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repos.Keychain.Add("1234", []byte("x")); err != nil {
		t.Fatal(err)
	}
	closer.Close()

	repos, closer, err = PersistenceBootstrap(dir, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer closer.Close()
	it, err := repos.Keychain.Load(ByAccount("1234"))
	if err != nil {
		t.Fatal(err)
	}
	if string(it.Data) != "x" {
		t.Fatalf("data = %q", it.Data)
	}
}

func TestKeychainRepo_RevisionedStore(t *testing.T) {
	repo := newTestRepos(t).Keychain

	if _, err := repo.Load(ByAccount("1111")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing: err = %v, want ErrNotFound", err)
	}

	added, err := repo.Add("1111", []byte(`{"v":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if added.Revision != 1 || added.PersistentRef == 0 {
		t.Fatalf("added = %+v", added)
	}
	if _, err := repo.Add("1111", []byte("dup")); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Add: err = %v, want ErrConflict", err)
	}

	stored, err := repo.Store("1111", []byte(`{"v":2}`), 1)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Revision != 2 || string(stored.Data) != `{"v":2}` {
		t.Fatalf("stored = %+v", stored)
	}

	if _, err := repo.Store("1111", []byte(`{"v":3}`), 1); !errors.Is(err, ErrRevisionMismatch) {
		t.Fatalf("stale Store: err = %v, want ErrRevisionMismatch", err)
	}
	if _, err := repo.Store("2222", []byte(`{}`), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Store missing: err = %v, want ErrNotFound", err)
	}

	byRef, err := repo.Load(ByPersistentRef(added.PersistentRef))
	if err != nil {
		t.Fatal(err)
	}
	if byRef.Account != "1111" || byRef.Revision != 2 {
		t.Fatalf("byRef = %+v", byRef)
	}

	if _, err := repo.Add("2222", []byte("b")); err != nil {
		t.Fatal(err)
	}
	accounts, err := repo.Accounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 || accounts[0] != "1111" || accounts[1] != "2222" {
		t.Fatalf("accounts = %v", accounts)
	}

	if err := repo.Remove("1111"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Load(ByAccount("1111")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Remove: err = %v", err)
	}
}

func TestAccountRepo_CurrentAccountAndExpiry(t *testing.T) {
	repo := newTestRepos(t).Accounts

	if _, ok, err := repo.CurrentAccount(); err != nil || ok {
		t.Fatalf("empty repo: ok=%v err=%v", ok, err)
	}
	if err := repo.SaveExpiry("1111", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveExpiry without account: err = %v", err)
	}

	if err := repo.SetCurrentAccount("1111"); err != nil {
		t.Fatal(err)
	}
	token, ok, err := repo.CurrentAccount()
	if err != nil || !ok || token != "1111" {
		t.Fatalf("CurrentAccount = %q %v %v", token, ok, err)
	}
	if _, ok, _ := repo.Expiry("1111"); ok {
		t.Fatal("expiry should be unknown before first save")
	}

	expiry := time.Date(2027, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := repo.SaveExpiry("1111", expiry); err != nil {
		t.Fatal(err)
	}
	got, ok, err := repo.Expiry("1111")
	if err != nil || !ok || !got.Equal(expiry) {
		t.Fatalf("Expiry = %v %v %v", got, ok, err)
	}

	if err := repo.SetCurrentAccount("1111"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := repo.Expiry("1111"); !ok {
		t.Fatal("re-selecting the same account must keep its expiry")
	}

	if err := repo.SetCurrentAccount("2222"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := repo.Expiry("2222"); ok {
		t.Fatal("switching account must reset expiry")
	}

	if err := repo.ClearCurrentAccount(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := repo.CurrentAccount(); ok {
		t.Fatal("account should be cleared")
	}
}

func TestCacheRepo_RoundTrip(t *testing.T) {
	repo := newTestRepos(t).Cache

	if _, err := repo.LoadAddressCache(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadAddressCache empty: err = %v", err)
	}
	if _, err := repo.LoadRelayCache(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadRelayCache empty: err = %v", err)
	}

	updated := time.Unix(1700000000, 0)
	addrs := AddressCache{
		Endpoints: []netip.AddrPort{
			netip.MustParseAddrPort("45.83.223.196:443"),
			netip.MustParseAddrPort("[2a03:1b20:b:f011::a02]:443"),
		},
		UpdatedAt: updated,
	}
	if err := repo.SaveAddressCache(addrs); err != nil {
		t.Fatal(err)
	}
	gotAddrs, err := repo.LoadAddressCache()
	if err != nil {
		t.Fatal(err)
	}
	if len(gotAddrs.Endpoints) != 2 || gotAddrs.Endpoints[1] != addrs.Endpoints[1] || !gotAddrs.UpdatedAt.Equal(updated) {
		t.Fatalf("address cache = %+v", gotAddrs)
	}

	if err := repo.SaveRelayCache(RelayCache{Data: []byte(`{"a":1}`), Fingerprint: "f1", UpdatedAt: updated}); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveRelayCache(RelayCache{Data: []byte(`{"a":2}`), Fingerprint: "f2", UpdatedAt: updated.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	gotRelays, err := repo.LoadRelayCache()
	if err != nil {
		t.Fatal(err)
	}
	if string(gotRelays.Data) != `{"a":2}` || gotRelays.Fingerprint != "f2" {
		t.Fatalf("relay cache = %+v", gotRelays)
	}
}
