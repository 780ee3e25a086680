// Package relaycache keeps the relay list fresh on a cron schedule and
// persists it to the cache database.
package relaycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resinat/vpncore/internal/observer"
	"github.com/Resinat/vpncore/internal/relay"
	"github.com/Resinat/vpncore/internal/state"
	"github.com/robfig/cron/v3"
)

// DefaultUpdateSchedule refreshes the relay list hourly.
const DefaultUpdateSchedule = "@every 1h"

// Fetcher downloads the relay list. raw is the payload as received.
type Fetcher interface {
	GetRelayList(ctx context.Context) (list *relay.ServerRelaysResponse, raw []byte, err error)
}

// Store persists the relay list.
type Store interface {
	LoadRelayCache() (state.RelayCache, error)
	SaveRelayCache(c state.RelayCache) error
}

// Cached is a relay list snapshot. Never mutated after publication.
type Cached struct {
	Relays      *relay.ServerRelaysResponse
	Fingerprint string
	UpdatedAt   time.Time
}

// Config configures a Tracker.
type Config struct {
	Fetcher        Fetcher
	Store          Store
	UpdateSchedule string          // cron expression, default DefaultUpdateSchedule
	Queue          *observer.Queue // optional delivery queue
	Now            func() time.Time
}

// Tracker holds the current relay list and refreshes it on a schedule.
type Tracker struct {
	fetcher Fetcher
	store   Store
	now     func() time.Time

	mu     sync.RWMutex
	cached *Cached

	cron        *cron.Cron
	cronEntryID cron.EntryID
	updateMu    sync.Mutex // serializes UpdateNow calls
	lifeCtx     context.Context
	lifeCancel  context.CancelFunc
	background  sync.WaitGroup

	observers *observer.Registry[Cached]
}

// New creates a Tracker. The schedule is validated here.
func New(cfg Config) (*Tracker, error) {
	if cfg.UpdateSchedule == "" {
		cfg.UpdateSchedule = DefaultUpdateSchedule
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	t := &Tracker{
		fetcher:    cfg.Fetcher,
		store:      cfg.Store,
		now:        now,
		cron:       cron.New(),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		observers:  observer.NewRegistry[Cached](cfg.Queue),
	}

	entryID, err := t.cron.AddFunc(cfg.UpdateSchedule, func() {
		if _, err := t.UpdateNow(t.lifeCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[relaycache] scheduled update failed: %v", err)
		}
	})
	if err != nil {
		lifeCancel()
		return nil, fmt.Errorf("relaycache: invalid update schedule %q: %w", cfg.UpdateSchedule, err)
	}
	t.cronEntryID = entryID
	return t, nil
}

// Start loads the persisted relay list, triggers a background refresh when
// it is missing or stale, and starts the cron scheduler.
func (t *Tracker) Start() error {
	stored, err := t.store.LoadRelayCache()
	switch {
	case errors.Is(err, state.ErrNotFound):
		log.Println("[relaycache] no cached relay list, triggering background download")
		t.refreshInBackground("initial download")
	case err != nil:
		return fmt.Errorf("relaycache: load cache: %w", err)
	default:
		var list relay.ServerRelaysResponse
		if err := json.Unmarshal(stored.Data, &list); err != nil {
			log.Printf("[relaycache] cached relay list unreadable, refetching: %v", err)
			t.refreshInBackground("initial download")
			break
		}
		t.mu.Lock()
		t.cached = &Cached{Relays: &list, Fingerprint: stored.Fingerprint, UpdatedAt: stored.UpdatedAt}
		t.mu.Unlock()

		if t.isStale(stored.UpdatedAt) {
			log.Println("[relaycache] relay list is stale, triggering background update")
			t.refreshInBackground("startup update")
		}
	}
	t.cron.Start()
	return nil
}

func (t *Tracker) refreshInBackground(what string) {
	t.background.Add(1)
	go func() {
		defer t.background.Done()
		if _, err := t.UpdateNow(t.lifeCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[relaycache] %s failed: %v", what, err)
		}
	}()
}

// isStale reports whether updatedAt is older than twice the gap between two
// consecutive scheduled runs.
func (t *Tracker) isStale(updatedAt time.Time) bool {
	entry := t.cron.Entry(t.cronEntryID)
	interval := time.Hour
	if entry.ID != 0 && entry.Schedule != nil {
		next := entry.Schedule.Next(t.now())
		if gap := entry.Schedule.Next(next).Sub(next); gap > 0 {
			interval = gap
		}
	}
	return t.now().Sub(updatedAt) > 2*interval
}

// Stop stops the schedule, cancels an in-flight refresh and waits for a
// running cron job or startup refresh to return.
func (t *Tracker) Stop() {
	t.lifeCancel()
	<-t.cron.Stop().Done()
	t.background.Wait()
	t.observers.Close()
}

// Read returns the current relay list.
func (t *Tracker) Read() (Cached, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cached == nil {
		return Cached{}, false
	}
	return *t.cached, true
}

// Subscribe registers fn for relay list changes.
func (t *Tracker) Subscribe(fn func(Cached)) *observer.Handle {
	return t.observers.Add(fn)
}

// UpdateNow fetches the relay list. It reports whether the list changed;
// an unchanged list is neither rewritten nor announced.
func (t *Tracker) UpdateNow(ctx context.Context) (bool, error) {
	t.updateMu.Lock()
	defer t.updateMu.Unlock()

	list, raw, err := t.fetcher.GetRelayList(ctx)
	if err != nil {
		return false, fmt.Errorf("relaycache: fetch relay list: %w", err)
	}
	fp := Fingerprint(raw)

	t.mu.RLock()
	unchanged := t.cached != nil && t.cached.Fingerprint == fp
	t.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	next := Cached{Relays: list, Fingerprint: fp, UpdatedAt: t.now()}
	if err := t.store.SaveRelayCache(state.RelayCache{
		Data:        raw,
		Fingerprint: fp,
		UpdatedAt:   next.UpdatedAt,
	}); err != nil {
		// Keep serving the fresh list from memory.
		log.Printf("[relaycache] persist relay list failed: %v", err)
	}

	t.mu.Lock()
	t.cached = &next
	t.mu.Unlock()

	log.Printf("[relaycache] relay list updated: %d relays, fingerprint %s", len(list.Wireguard.Relays), fp)
	t.observers.Notify(next)
	return true, nil
}
