package relaycache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resinat/vpncore/internal/relay"
	"github.com/Resinat/vpncore/internal/state"
)

const relayListJSON = `{
  "locations": {"se-got": {"country": "Sweden", "city": "Gothenburg", "latitude": 57.7, "longitude": 11.9}},
  "wireguard": {
    "port_ranges": [[51820, 51820]],
    "ipv4_gateway": "10.64.0.1",
    "ipv6_gateway": "fc00:bbbb:bbbb:bb01::1",
    "relays": [
      {"hostname": "se-got-wg-001", "active": true, "location": "se-got", "weight": 100,
       "include_in_country": true, "ipv4_addr_in": "185.213.154.68", "public_key": "AQIDBA=="}
    ]
  }
}`

type fetcherFunc func(ctx context.Context) (*relay.ServerRelaysResponse, []byte, error)

func (f fetcherFunc) GetRelayList(ctx context.Context) (*relay.ServerRelaysResponse, []byte, error) {
	return f(ctx)
}

func staticFetcher(t *testing.T, raw string, calls *atomic.Int32) Fetcher {
	t.Helper()
	return fetcherFunc(func(context.Context) (*relay.ServerRelaysResponse, []byte, error) {
		calls.Add(1)
		var list relay.ServerRelaysResponse
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, nil, err
		}
		return &list, []byte(raw), nil
	})
}

type memStore struct {
	mu    sync.Mutex
	c     *state.RelayCache
	saves int
}

func (m *memStore) LoadRelayCache() (state.RelayCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		return state.RelayCache{}, state.ErrNotFound
	}
	return *m.c, nil
}

func (m *memStore) SaveRelayCache(c state.RelayCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c = &c
	m.saves++
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func TestFingerprint_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := Fingerprint([]byte(`{"a":1,"b":[1,2]}`))
	b := Fingerprint([]byte("{\n  \"b\": [1, 2],\n  \"a\": 1\n}"))
	if a != b {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("fingerprint length = %d, want 32", len(a))
	}
	if c := Fingerprint([]byte(`{"a":2,"b":[1,2]}`)); c == a {
		t.Fatal("different payloads share a fingerprint")
	}
	if Fingerprint([]byte("not json")) == "" {
		t.Fatal("unparseable payload must still be fingerprinted")
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(Config{Store: &memStore{}, UpdateSchedule: "every now and then"})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestUpdateNow_PersistsAndNotifiesOnce(t *testing.T) {
	var calls atomic.Int32
	store := &memStore{}
	tr, err := New(Config{Fetcher: staticFetcher(t, relayListJSON, &calls), Store: store})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	var notified atomic.Int32
	h := tr.Subscribe(func(c Cached) { notified.Add(1) })
	defer h.Release()

	changed, err := tr.UpdateNow(context.Background())
	if err != nil || !changed {
		t.Fatalf("first UpdateNow = %v, %v", changed, err)
	}
	changed, err = tr.UpdateNow(context.Background())
	if err != nil || changed {
		t.Fatalf("second UpdateNow = %v, %v; want unchanged", changed, err)
	}
	tr.observers.Flush()

	if calls.Load() != 2 {
		t.Fatalf("fetches = %d, want 2", calls.Load())
	}
	if store.saveCount() != 1 {
		t.Fatalf("saves = %d, want 1", store.saveCount())
	}
	if notified.Load() != 1 {
		t.Fatalf("notifications = %d, want 1", notified.Load())
	}

	got, ok := tr.Read()
	if !ok {
		t.Fatal("Read reported no relay list")
	}
	relays := got.Relays.WithLocations()
	if len(relays) != 1 || relays[0].Relay.Hostname != "se-got-wg-001" {
		t.Fatalf("relays = %+v", relays)
	}
	if got.Fingerprint != Fingerprint([]byte(relayListJSON)) {
		t.Fatalf("fingerprint = %s", got.Fingerprint)
	}
}

func TestUpdateNow_FetchError(t *testing.T) {
	cause := errors.New("network down")
	tr, err := New(Config{
		Fetcher: fetcherFunc(func(context.Context) (*relay.ServerRelaysResponse, []byte, error) {
			return nil, nil, cause
		}),
		Store: &memStore{},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	if _, err := tr.UpdateNow(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("err = %v, want %v", err, cause)
	}
	if _, ok := tr.Read(); ok {
		t.Fatal("failed fetch must not publish a relay list")
	}
}

func TestStart_LoadsFreshCacheWithoutFetching(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{c: &state.RelayCache{
		Data:        []byte(relayListJSON),
		Fingerprint: Fingerprint([]byte(relayListJSON)),
		UpdatedAt:   now.Add(-10 * time.Minute),
	}}
	var calls atomic.Int32
	tr, err := New(Config{
		Fetcher: staticFetcher(t, relayListJSON, &calls),
		Store:   store,
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.Stop()

	got, ok := tr.Read()
	if !ok || len(got.Relays.Wireguard.Relays) != 1 {
		t.Fatalf("Read = %+v, %v", got, ok)
	}
	if calls.Load() != 0 {
		t.Fatalf("fresh cache triggered %d fetches", calls.Load())
	}
}

func TestStart_StaleCacheRefreshes(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{c: &state.RelayCache{
		Data:        []byte(`{"locations":{},"wireguard":{"relays":[]}}`),
		Fingerprint: "stale",
		UpdatedAt:   now.Add(-5 * time.Hour),
	}}
	var calls atomic.Int32
	tr, err := New(Config{
		Fetcher: staticFetcher(t, relayListJSON, &calls),
		Store:   store,
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.saveCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stale cache was not refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Fatalf("fetches = %d, want 1", calls.Load())
	}
}

func TestStop_WaitsForStartupRefresh(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	tr, err := New(Config{
		Fetcher: fetcherFunc(func(ctx context.Context) (*relay.ServerRelaysResponse, []byte, error) {
			close(started)
			<-ctx.Done()
			time.Sleep(30 * time.Millisecond)
			finished.Store(true)
			return nil, nil, ctx.Err()
		}),
		Store: &memStore{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("startup refresh never ran")
	}
	tr.Stop()
	if !finished.Load() {
		t.Fatal("Stop returned while the startup refresh was still running")
	}
}
