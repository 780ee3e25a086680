// Package expiry polls the account expiry for as long as anyone listens.
package expiry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Resinat/vpncore/internal/account"
	"github.com/Resinat/vpncore/internal/observer"
	"github.com/Resinat/vpncore/internal/scheduler"
	"github.com/Resinat/vpncore/internal/state"
	"github.com/maypok86/otter"
)

const (
	DefaultInterval = time.Minute

	expiryCacheEntries = 16
)

// Fetcher fetches an account's expiry from the account service.
type Fetcher interface {
	GetAccountExpiry(ctx context.Context, token string) (time.Time, error)
}

// AccountStore persists the current account and its last known expiry.
type AccountStore interface {
	CurrentAccount() (string, bool, error)
	Expiry(token string) (time.Time, bool, error)
	SaveExpiry(token string, expiry time.Time) error
}

// Event is delivered to subscribers when the expiry changes or when the
// account service rejects a poll. Network failures and cancellation are
// retried on the next tick without an event.
type Event struct {
	Expiry time.Time
	Err    error
}

// Config configures a Poller.
type Config struct {
	Fetcher  Fetcher
	Accounts AccountStore
	Interval time.Duration
	Queue    *observer.Queue // optional delivery queue
}

// Poller fetches the account expiry on a fixed interval while it has
// subscribers and notifies them when the value changes.
type Poller struct {
	fetcher  Fetcher
	accounts AccountStore

	mu        sync.Mutex
	observers *observer.Registry[Event]
	sched     *scheduler.Scheduler

	updateMu sync.Mutex
	seen     otter.Cache[string, time.Time]
}

// New creates an idle Poller.
func New(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	seen, err := otter.MustBuilder[string, time.Time](expiryCacheEntries).
		Cost(func(_ string, _ time.Time) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("expiry: failed to create expiry cache: " + err.Error())
	}

	p := &Poller{
		fetcher:   cfg.Fetcher,
		accounts:  cfg.Accounts,
		observers: observer.NewRegistry[Event](cfg.Queue),
		seen:      seen,
	}
	p.sched = scheduler.New(scheduler.Config{
		Name:   "expiry",
		Job:    p.tick,
		Policy: scheduler.Fixed(interval),
	})
	return p
}

// Subscribe registers fn for expiry events. Polling starts with the first
// subscriber and stops after the last handle is released.
func (p *Poller) Subscribe(fn func(Event)) *observer.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.observers.Add(fn)
	p.sched.Start()
	return h
}

// Running reports whether polling is active.
func (p *Poller) Running() bool {
	return p.sched.Enabled()
}

// Close stops polling and delivery.
func (p *Poller) Close() {
	p.sched.Cancel()
	p.sched.Wait()
	p.observers.Close()
	p.seen.Close()
}

func (p *Poller) tick(ctx context.Context) error {
	p.mu.Lock()
	if p.observers.Prune() == 0 {
		p.sched.Stop()
		p.mu.Unlock()
		log.Printf("[expiry] no observers left, polling stopped")
		return nil
	}
	p.mu.Unlock()

	_, _, err := p.Update(ctx)
	return err
}

// Update fetches the expiry for the current account now. It reports false
// when no account is logged in. Subscribers are notified if the value
// differs from the last one seen, or with the error when the account
// service rejected the request.
func (p *Poller) Update(ctx context.Context) (time.Time, bool, error) {
	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	token, ok, err := p.accounts.CurrentAccount()
	if err != nil {
		return time.Time{}, false, err
	}
	if !ok {
		return time.Time{}, false, nil
	}

	expiry, err := p.fetcher.GetAccountExpiry(ctx, token)
	if err != nil {
		switch {
		case account.IsCancelled(err):
			log.Printf("[expiry] fetch cancelled")
		case account.IsRetryable(err):
			log.Printf("[expiry] fetch failed, retrying on next tick: %v", err)
		default:
			log.Printf("[expiry] fetch failed: %v", err)
			p.observers.Notify(Event{Err: err})
		}
		return time.Time{}, true, err
	}

	if prev, known := p.previous(token); known && prev.Equal(expiry) {
		return expiry, true, nil
	}
	p.seen.Set(token, expiry)
	if err := p.accounts.SaveExpiry(token, expiry); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			// Logged out or switched account while fetching.
			return expiry, true, nil
		}
		log.Printf("[expiry] persist expiry failed: %v", err)
	}
	p.observers.Notify(Event{Expiry: expiry})
	return expiry, true, nil
}

func (p *Poller) previous(token string) (time.Time, bool) {
	if v, ok := p.seen.Get(token); ok {
		return v, true
	}
	v, ok, err := p.accounts.Expiry(token)
	if err != nil {
		log.Printf("[expiry] load stored expiry failed: %v", err)
		return time.Time{}, false
	}
	if ok {
		p.seen.Set(token, v)
	}
	return v, ok
}
