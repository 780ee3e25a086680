// Package addrcache keeps the list of API entry-point addresses fresh.
package addrcache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/Resinat/vpncore/internal/account"
	"github.com/Resinat/vpncore/internal/scheduler"
	"github.com/Resinat/vpncore/internal/state"
)

const (
	DefaultUpdateInterval = 24 * time.Hour
	DefaultRetryInterval  = 15 * time.Minute
)

// Fetcher fetches the current address list.
type Fetcher interface {
	GetAddressList(ctx context.Context) ([]netip.AddrPort, error)
}

// Store persists the address cache.
type Store interface {
	LoadAddressCache() (state.AddressCache, error)
	SaveAddressCache(c state.AddressCache) error
}

// Config configures a Refresher.
type Config struct {
	Fetcher        Fetcher
	Store          Store            // optional
	Bootstrap      []netip.AddrPort // used until the first successful fetch
	UpdateInterval time.Duration
	RetryInterval  time.Duration
	Now            func() time.Time
}

// Refresher refreshes the address cache on a long steady interval, backing
// off to a short retry interval after a failure.
type Refresher struct {
	fetcher        Fetcher
	store          Store
	updateInterval time.Duration
	retryInterval  time.Duration
	now            func() time.Time

	mu          sync.Mutex
	cache       state.AddressCache
	lastFailure time.Time

	updateMu sync.Mutex
	sched    *scheduler.Scheduler
}

// New creates a stopped Refresher, seeded from the store when it has data.
func New(cfg Config) *Refresher {
	r := &Refresher{
		fetcher:        cfg.Fetcher,
		store:          cfg.Store,
		updateInterval: cfg.UpdateInterval,
		retryInterval:  cfg.RetryInterval,
		now:            cfg.Now,
	}
	if r.updateInterval <= 0 {
		r.updateInterval = DefaultUpdateInterval
	}
	if r.retryInterval <= 0 {
		r.retryInterval = DefaultRetryInterval
	}
	if r.now == nil {
		r.now = time.Now
	}

	r.cache = state.AddressCache{Endpoints: slices.Clone(cfg.Bootstrap)}
	if r.store != nil {
		stored, err := r.store.LoadAddressCache()
		switch {
		case err == nil && len(stored.Endpoints) > 0:
			r.cache = stored
		case err != nil && !errors.Is(err, state.ErrNotFound):
			log.Printf("[addrcache] load cached addresses failed: %v", err)
		}
	}

	r.sched = scheduler.New(scheduler.Config{
		Name: "addrcache",
		Now:  r.now,
		Job: func(ctx context.Context) error {
			r.updateMu.Lock()
			defer r.updateMu.Unlock()
			_, err := r.refresh(ctx)
			return err
		},
		Policy: scheduler.PolicyFuncs{
			First: func(time.Time) time.Time { return r.NextScheduleDate() },
			Next: func(time.Time, error) (time.Time, bool) {
				return r.NextScheduleDate(), true
			},
		},
	})
	return r
}

// Start begins periodic refresh. Idempotent.
func (r *Refresher) Start() {
	r.sched.Start()
}

// Stop cancels the pending refresh. Idempotent.
func (r *Refresher) Stop() {
	r.sched.Stop()
}

// NextScheduleDate returns when the next refresh is due.
func (r *Refresher) NextScheduleDate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastFailure.IsZero() {
		return r.lastFailure.Add(r.retryInterval)
	}
	return r.cache.UpdatedAt.Add(r.updateInterval)
}

// UpdateEndpoints refreshes the cache if a refresh is due. It reports
// whether the cache was replaced; a refresh that is not yet due returns
// false without touching the network.
func (r *Refresher) UpdateEndpoints(ctx context.Context) (bool, error) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	if r.now().Before(r.NextScheduleDate()) {
		return false, nil
	}
	return r.refresh(ctx)
}

// RefreshNow refreshes the cache regardless of the schedule.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	_, err := r.refresh(ctx)
	return err
}

func (r *Refresher) refresh(ctx context.Context) (bool, error) {
	endpoints, err := r.fetcher.GetAddressList(ctx)
	if err == nil && len(endpoints) == 0 {
		err = fmt.Errorf("empty address list")
	}
	if err != nil {
		if account.IsCancelled(err) {
			log.Printf("[addrcache] refresh cancelled")
			return false, err
		}
		log.Printf("[addrcache] refresh failed: %v", err)
		r.mu.Lock()
		r.lastFailure = r.now()
		r.mu.Unlock()
		return false, err
	}

	updated := state.AddressCache{Endpoints: slices.Clone(endpoints), UpdatedAt: r.now()}
	r.mu.Lock()
	r.cache = updated
	r.lastFailure = time.Time{}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveAddressCache(updated); err != nil {
			log.Printf("[addrcache] persist addresses failed: %v", err)
		}
	}
	log.Printf("[addrcache] refreshed %d addresses", len(endpoints))
	return true, nil
}

// Endpoints returns a copy of the cached addresses in preference order.
func (r *Refresher) Endpoints() []netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.cache.Endpoints)
}

// Current returns the preferred address.
func (r *Refresher) Current() (netip.AddrPort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache.Endpoints) == 0 {
		return netip.AddrPort{}, false
	}
	return r.cache.Endpoints[0], true
}

// MarkFailed moves addr to the back of the list if it is the preferred one.
func (r *Refresher) MarkFailed(addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eps := r.cache.Endpoints
	if len(eps) < 2 || eps[0] != addr {
		return
	}
	rotated := make([]netip.AddrPort, 0, len(eps))
	rotated = append(rotated, eps[1:]...)
	rotated = append(rotated, addr)
	r.cache.Endpoints = rotated
}
