// Package keyrotation periodically replaces the tunnel key once it has
// reached its rotation age.
package keyrotation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resinat/vpncore/internal/account"
	"github.com/Resinat/vpncore/internal/observer"
	"github.com/Resinat/vpncore/internal/scheduler"
	"github.com/Resinat/vpncore/internal/settings"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const (
	DefaultInterval      = 4 * 24 * time.Hour
	DefaultRetryInterval = 5 * time.Minute
)

var (
	// ErrRotationInProgress is returned when a rotation is already running.
	ErrRotationInProgress = errors.New("key rotation already in progress")
	// ErrMissingAccount means there is no logged-in account with settings.
	ErrMissingAccount = errors.New("no account to rotate key for")
	// ErrKeyChanged means the stored key changed while the rotation was
	// talking to the account service.
	ErrKeyChanged = errors.New("tunnel key changed during rotation")
)

// KeyReplacer replaces a tunnel public key with the account service.
type KeyReplacer interface {
	ReplaceKey(ctx context.Context, token string, oldKey, newKey wgtypes.Key) (account.AssociatedAddresses, error)
}

// SettingsStore reads and updates tunnel settings.
type SettingsStore interface {
	CurrentAccount(ctx context.Context) (string, bool, error)
	Load(ctx context.Context, token string) (settings.TunnelSettings, error)
	Update(ctx context.Context, token string, mutate func(*settings.TunnelSettings) error) (settings.TunnelSettings, error)
}

// Result describes the key in use after a rotation check.
type Result struct {
	IsNew        bool
	CreationDate time.Time
	PublicKey    wgtypes.Key
}

// Event is delivered to subscribers after every rotation attempt that was
// not cancelled.
type Event struct {
	Result Result
	Err    error
}

// State is the coordinator's rotation state.
type State int

const (
	Idle State = iota
	Rotating
)

func (s State) String() string {
	if s == Rotating {
		return "rotating"
	}
	return "idle"
}

// Config configures a Coordinator.
type Config struct {
	Settings      SettingsStore
	Replacer      KeyReplacer
	Interval      time.Duration
	RetryInterval time.Duration
	Now           func() time.Time
	GenerateKey   func() (wgtypes.Key, error) // optional
	Queue         *observer.Queue              // optional delivery queue
}

// Coordinator rotates the tunnel key when due. At most one rotation runs at
// a time.
type Coordinator struct {
	settings      SettingsStore
	replacer      KeyReplacer
	interval      time.Duration
	retryInterval time.Duration
	now           func() time.Time
	generateKey   func() (wgtypes.Key, error)

	mu         sync.Mutex
	state      State
	cancel     context.CancelFunc
	lastResult Result

	observers *observer.Registry[Event]
	sched     *scheduler.Scheduler
}

// New creates a Coordinator with automatic rotation stopped.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		settings:      cfg.Settings,
		replacer:      cfg.Replacer,
		interval:      cfg.Interval,
		retryInterval: cfg.RetryInterval,
		now:           cfg.Now,
		generateKey:   cfg.GenerateKey,
		observers:     observer.NewRegistry[Event](cfg.Queue),
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.retryInterval <= 0 {
		c.retryInterval = DefaultRetryInterval
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.generateKey == nil {
		c.generateKey = wgtypes.GeneratePrivateKey
	}
	c.sched = scheduler.New(scheduler.Config{
		Name: "keyrotation",
		Job: func(ctx context.Context) error {
			_, err := c.RotateIfDue(ctx)
			return err
		},
		Policy: scheduler.PolicyFuncs{
			First: func(now time.Time) time.Time { return now },
			Next:  c.nextDeadline,
		},
		Now: c.now,
	})
	return c
}

// StartAutomaticRotation checks the key now and then on the rotation cadence.
func (c *Coordinator) StartAutomaticRotation() {
	c.sched.Start()
}

// StopAutomaticRotation cancels the pending check and any replace-key
// request in flight.
func (c *Coordinator) StopAutomaticRotation() {
	c.sched.Cancel()
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
}

// Close stops rotation and the private delivery queue.
func (c *Coordinator) Close() {
	c.StopAutomaticRotation()
	c.sched.Wait()
	c.observers.Close()
}

// State reports whether a rotation is running.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for rotation events until the handle is released.
func (c *Coordinator) Subscribe(fn func(Event)) *observer.Handle {
	return c.observers.Add(fn)
}

// RotateIfDue replaces the key when it is at least one rotation interval
// old. Otherwise it returns the current key with IsNew false without any
// network traffic.
func (c *Coordinator) RotateIfDue(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.state == Rotating {
		c.mu.Unlock()
		return Result{}, ErrRotationInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	c.state = Rotating
	c.cancel = cancel
	c.mu.Unlock()

	res, err := c.rotate(ctx)
	cancel()

	c.mu.Lock()
	c.state = Idle
	c.cancel = nil
	if err == nil {
		c.lastResult = res
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		if res.IsNew {
			log.Printf("[keyrotation] rotated key, new public key %s", res.PublicKey)
		}
	case account.IsCancelled(err):
		log.Printf("[keyrotation] rotation cancelled")
		return res, err
	default:
		log.Printf("[keyrotation] rotation failed: %v", err)
	}
	c.observers.Notify(Event{Result: res, Err: err})
	return res, err
}

func (c *Coordinator) rotate(ctx context.Context) (Result, error) {
	token, ok, err := c.settings.CurrentAccount(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read current account: %w", err)
	}
	if !ok {
		return Result{}, ErrMissingAccount
	}
	ts, err := c.settings.Load(ctx, token)
	if errors.Is(err, settings.ErrNotFound) {
		return Result{}, ErrMissingAccount
	}
	if err != nil {
		return Result{}, err
	}

	current := ts.Interface.PrivateKey
	now := c.now()
	if now.Before(current.CreationDate.Add(c.interval)) {
		return Result{CreationDate: current.CreationDate, PublicKey: current.PublicKey()}, nil
	}

	newPrivate, err := c.generateKey()
	if err != nil {
		return Result{}, fmt.Errorf("generate key: %w", err)
	}
	next := settings.PrivateKey{Key: newPrivate, CreationDate: now.UTC()}

	addrs, err := c.replacer.ReplaceKey(ctx, token, current.PublicKey(), next.PublicKey())
	if err != nil {
		return Result{}, err
	}

	// The service already holds the new key; persist it even if the caller
	// gives up now.
	_, err = c.settings.Update(context.WithoutCancel(ctx), token, func(s *settings.TunnelSettings) error {
		if s.Interface.PrivateKey.Key != current.Key {
			return ErrKeyChanged
		}
		s.Interface.PrivateKey = next
		s.Interface.Addresses = addrs.Prefixes()
		return nil
	})
	if errors.Is(err, ErrKeyChanged) {
		// Put the previous key back on the account so the discarded one
		// does not occupy a key slot.
		if _, undoErr := c.replacer.ReplaceKey(context.WithoutCancel(ctx), token, next.PublicKey(), current.PublicKey()); undoErr != nil {
			log.Printf("[keyrotation] restore previous key after concurrent change failed: %v", undoErr)
		}
		return Result{}, err
	}
	if err != nil {
		return Result{}, fmt.Errorf("persist rotated key: %w", err)
	}
	return Result{IsNew: true, CreationDate: next.CreationDate, PublicKey: next.PublicKey()}, nil
}

func (c *Coordinator) nextDeadline(now time.Time, err error) (time.Time, bool) {
	if err != nil {
		return now.Add(c.retryInterval), true
	}
	c.mu.Lock()
	last := c.lastResult
	c.mu.Unlock()
	return last.CreationDate.Add(c.interval), true
}
