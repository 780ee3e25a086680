package addrcache

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Resinat/vpncore/internal/state"
)

type fetcherFunc func(ctx context.Context) ([]netip.AddrPort, error)

func (f fetcherFunc) GetAddressList(ctx context.Context) ([]netip.AddrPort, error) {
	return f(ctx)
}

type memStore struct {
	mu    sync.Mutex
	cache *state.AddressCache
	saves int
}

func (s *memStore) LoadAddressCache() (state.AddressCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return state.AddressCache{}, state.ErrNotFound
	}
	return *s.cache, nil
}

func (s *memStore) SaveAddressCache(c state.AddressCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = &c
	s.saves++
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testAddrs = []netip.AddrPort{
	netip.MustParseAddrPort("45.83.223.196:443"),
	netip.MustParseAddrPort("185.65.135.117:443"),
}

func TestUpdateEndpoints_SecondCallWithinIntervalIsNoop(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	var calls atomic.Int32
	store := &memStore{}
	r := New(Config{
		Fetcher: fetcherFunc(func(context.Context) ([]netip.AddrPort, error) {
			calls.Add(1)
			return testAddrs, nil
		}),
		Store: store,
		Now:   clock.Now,
	})

	updated, err := r.UpdateEndpoints(context.Background())
	if err != nil || !updated {
		t.Fatalf("first update = %v, %v", updated, err)
	}
	clock.Advance(time.Hour)
	updated, err = r.UpdateEndpoints(context.Background())
	if err != nil || updated {
		t.Fatalf("second update = %v, %v, want no-op", updated, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("network calls = %d, want 1", calls.Load())
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}
	if want := clock.Now().Add(-time.Hour).Add(DefaultUpdateInterval); !r.NextScheduleDate().Equal(want) {
		t.Fatalf("NextScheduleDate = %v, want %v", r.NextScheduleDate(), want)
	}

	clock.Advance(DefaultUpdateInterval)
	if updated, _ := r.UpdateEndpoints(context.Background()); !updated {
		t.Fatal("refresh should be due after the steady interval")
	}
}

func TestUpdateEndpoints_FailureUsesRetryInterval(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	fail := errors.New("connection refused")
	var calls atomic.Int32
	r := New(Config{
		Fetcher: fetcherFunc(func(context.Context) ([]netip.AddrPort, error) {
			if calls.Add(1) == 1 {
				return nil, fail
			}
			return testAddrs, nil
		}),
		Bootstrap:     testAddrs[:1],
		RetryInterval: 10 * time.Minute,
		Now:           clock.Now,
	})

	if _, err := r.UpdateEndpoints(context.Background()); !errors.Is(err, fail) {
		t.Fatalf("err = %v, want %v", err, fail)
	}
	want := clock.Now().Add(10 * time.Minute)
	for i := 0; i < 3; i++ {
		if got := r.NextScheduleDate(); !got.Equal(want) {
			t.Fatalf("NextScheduleDate = %v, want %v", got, want)
		}
	}
	if eps := r.Endpoints(); len(eps) != 1 || eps[0] != testAddrs[0] {
		t.Fatalf("failure must keep the previous cache, got %v", eps)
	}

	clock.Advance(5 * time.Minute)
	if updated, _ := r.UpdateEndpoints(context.Background()); updated {
		t.Fatal("retry not due yet")
	}
	clock.Advance(5 * time.Minute)
	if updated, err := r.UpdateEndpoints(context.Background()); !updated || err != nil {
		t.Fatalf("retry = %v, %v", updated, err)
	}
	if len(r.Endpoints()) != 2 {
		t.Fatalf("endpoints = %v", r.Endpoints())
	}
}

func TestNew_SeedsFromStore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := &memStore{cache: &state.AddressCache{Endpoints: testAddrs, UpdatedAt: clock.Now().Add(-time.Hour)}}
	r := New(Config{
		Fetcher: fetcherFunc(func(context.Context) ([]netip.AddrPort, error) {
			t.Fatal("fetch should not be due")
			return nil, nil
		}),
		Store: store,
		Now:   clock.Now,
	})
	if updated, err := r.UpdateEndpoints(context.Background()); updated || err != nil {
		t.Fatalf("update = %v, %v", updated, err)
	}
	if cur, ok := r.Current(); !ok || cur != testAddrs[0] {
		t.Fatalf("Current = %v, %v", cur, ok)
	}
}

func TestMarkFailed_Rotates(t *testing.T) {
	r := New(Config{Bootstrap: testAddrs, Fetcher: fetcherFunc(func(context.Context) ([]netip.AddrPort, error) { return nil, nil })})

	r.MarkFailed(testAddrs[1])
	if cur, _ := r.Current(); cur != testAddrs[0] {
		t.Fatalf("non-preferred failure must not rotate, current = %s", cur)
	}
	r.MarkFailed(testAddrs[0])
	if cur, _ := r.Current(); cur != testAddrs[1] {
		t.Fatalf("current = %s, want %s", cur, testAddrs[1])
	}
}

func TestStart_RefreshesImmediatelyWhenStale(t *testing.T) {
	var calls atomic.Int32
	r := New(Config{
		Fetcher: fetcherFunc(func(context.Context) ([]netip.AddrPort, error) {
			calls.Add(1)
			return testAddrs, nil
		}),
	})
	r.Start()
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if len(r.Endpoints()) != 2 {
		t.Fatalf("endpoints = %v", r.Endpoints())
	}
}

func TestRefreshNow_IgnoresSchedule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := &memStore{cache: &state.AddressCache{Endpoints: testAddrs[:1], UpdatedAt: clock.Now()}}
	var calls atomic.Int32
	r := New(Config{
		Fetcher: fetcherFunc(func(context.Context) ([]netip.AddrPort, error) {
			calls.Add(1)
			return testAddrs, nil
		}),
		Store: store,
		Now:   clock.Now,
	})

	if updated, _ := r.UpdateEndpoints(context.Background()); updated {
		t.Fatal("fresh cache should not be refreshed")
	}
	clock.Advance(time.Minute)
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if len(r.Endpoints()) != 2 || store.saves != 1 {
		t.Fatalf("endpoints = %v, saves = %d", r.Endpoints(), store.saves)
	}
	if want := clock.Now().Add(DefaultUpdateInterval); !r.NextScheduleDate().Equal(want) {
		t.Fatalf("NextScheduleDate = %v, want %v", r.NextScheduleDate(), want)
	}
}
