package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Resinat/vpncore/internal/account"
	"github.com/Resinat/vpncore/internal/addrcache"
	"github.com/Resinat/vpncore/internal/api"
	"github.com/Resinat/vpncore/internal/buildinfo"
	"github.com/Resinat/vpncore/internal/config"
	"github.com/Resinat/vpncore/internal/expiry"
	"github.com/Resinat/vpncore/internal/keyrotation"
	"github.com/Resinat/vpncore/internal/observer"
	"github.com/Resinat/vpncore/internal/relaycache"
	"github.com/Resinat/vpncore/internal/service"
	"github.com/Resinat/vpncore/internal/settings"
	"github.com/Resinat/vpncore/internal/state"
	"github.com/Resinat/vpncore/internal/tunnelipc"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout     = 5 * time.Second
	tunnelReloadTimeout = 10 * time.Second
	apiMaxConns         = 64
)

type vpncoreApp struct {
	envCfg    *config.EnvConfig
	queue     *observer.Queue
	addresses *addrcache.Refresher
	relays    *relaycache.Tracker
	keys      *keyrotation.Coordinator
	expiry    *expiry.Poller
	tunnelCh  *tunnelipc.SessionChannel
	tunnel    *tunnelipc.Client
	apiSrv    *api.Server

	// Observer handles are weak; the app keeps them alive.
	handles []*observer.Handle

	// Tunnel reloads triggered by observers run off the delivery queue.
	reloadMu     sync.Mutex
	reloadCtx    context.Context
	reloadCancel context.CancelFunc
	reloads      sync.WaitGroup
}

func runDaemon(ctx context.Context) error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	if config.IsWeakToken(envCfg.AdminToken) {
		log.Println("Warning: VPNCORE_ADMIN_TOKEN is weak; anyone who can reach the management API may guess it")
	}

	repos, dbCloser, err := state.PersistenceBootstrap(envCfg.StateDir, envCfg.CacheDir)
	if err != nil {
		return fmt.Errorf("persistence bootstrap: %w", err)
	}
	log.Println("Persistence bootstrap complete")
	defer func() {
		if err := dbCloser.Close(); err != nil {
			log.Printf("Persistence close error: %v", err)
		}
	}()

	app, err := newVPNCoreApp(envCfg, repos)
	if err != nil {
		return err
	}
	return app.run(ctx)
}

func newVPNCoreApp(envCfg *config.EnvConfig, repos *state.Repos) (*vpncoreApp, error) {
	sched := envCfg.Schedules
	app := &vpncoreApp{envCfg: envCfg, queue: observer.NewQueue()}

	client := account.NewClient(envCfg.AccountAPIURL, envCfg.RPCTimeout)
	app.addresses = addrcache.New(addrcache.Config{
		Fetcher:        client,
		Store:          repos.Cache,
		UpdateInterval: sched.AddressCacheUpdateInterval.Std(),
		RetryInterval:  sched.AddressCacheRetryInterval.Std(),
	})
	client.SetAddressPicker(app.addresses)

	relays, err := relaycache.New(relaycache.Config{
		Fetcher:        client,
		Store:          repos.Cache,
		UpdateSchedule: sched.RelayListUpdateSchedule,
		Queue:          app.queue,
	})
	if err != nil {
		return nil, fmt.Errorf("relay cache: %w", err)
	}
	app.relays = relays

	store := settings.NewStore(repos.Keychain, repos.Accounts)
	app.keys = keyrotation.New(keyrotation.Config{
		Settings:      store,
		Replacer:      client,
		Interval:      sched.KeyRotationInterval.Std(),
		RetryInterval: sched.KeyRotationRetryInterval.Std(),
		Queue:         app.queue,
	})
	app.expiry = expiry.New(expiry.Config{
		Fetcher:  client,
		Accounts: repos.Accounts,
		Interval: sched.AccountExpiryPollInterval.Std(),
		Queue:    app.queue,
	})

	app.tunnelCh = tunnelipc.NewSessionChannel(tunnelipc.NetDialer(envCfg.TunnelIPCNetwork, envCfg.TunnelIPCAddress))
	app.tunnel = tunnelipc.NewClient(app.tunnelCh)

	cp := &service.ControlPlaneService{
		Settings:  store,
		Relays:    app.relays,
		Tunnel:    app.tunnel,
		Keys:      app.keys,
		Expiry:    app.expiry,
		Addresses: app.addresses,
		KeyPusher: client,
	}
	info := service.SystemInfo{
		Version:   buildinfo.Version,
		GitCommit: buildinfo.GitCommit,
		BuildTime: buildinfo.BuildTime,
		StartedAt: time.Now().UTC(),
	}
	cp.Info = info
	app.apiSrv = api.NewServer(envCfg, info, cp)
	return app, nil
}

// subscribe wires component events to each other. Deliveries run on the
// shared observer queue.
func (a *vpncoreApp) subscribe() {
	a.handles = append(a.handles,
		a.keys.Subscribe(func(ev keyrotation.Event) {
			if ev.Err != nil || !ev.Result.IsNew {
				return
			}
			a.reloadTunnelAsync("key rotation")
		}),
		a.expiry.Subscribe(func(ev expiry.Event) {
			if ev.Err != nil {
				if account.IsServerCode(ev.Err, account.CodeAccountDoesNotExist) {
					log.Printf("[vpncore] account no longer exists")
					return
				}
				log.Printf("[vpncore] account expiry check rejected: %v", ev.Err)
				return
			}
			t := ev.Expiry
			if !time.Now().Before(t) {
				log.Printf("[vpncore] account expired at %s", t.UTC().Format(time.RFC3339))
				return
			}
			log.Printf("[vpncore] account expiry is %s", t.UTC().Format(time.RFC3339))
		}),
		a.relays.Subscribe(func(c relaycache.Cached) {
			log.Printf("[vpncore] relay list updated: %d relays, fingerprint %s",
				len(c.Relays.Wireguard.Relays), c.Fingerprint)
		}),
	)
}

// reloadTunnelAsync asks the tunnel runtime to reload its settings without
// blocking the caller. stopReloads cancels and waits for pending reloads.
func (a *vpncoreApp) reloadTunnelAsync(reason string) {
	a.reloadMu.Lock()
	base := a.reloadContextLocked()
	if base.Err() != nil {
		a.reloadMu.Unlock()
		return
	}
	a.reloads.Add(1)
	a.reloadMu.Unlock()

	go func() {
		defer a.reloads.Done()
		ctx, cancel := context.WithTimeout(base, tunnelReloadTimeout)
		defer cancel()
		if err := a.tunnel.ReloadSettings(ctx); err != nil {
			log.Printf("[vpncore] tunnel reload after %s failed: %v", reason, err)
		}
	}()
}

func (a *vpncoreApp) stopReloads() {
	a.reloadMu.Lock()
	a.reloadContextLocked()
	a.reloadCancel()
	a.reloadMu.Unlock()
	a.reloads.Wait()
}

func (a *vpncoreApp) reloadContextLocked() context.Context {
	if a.reloadCtx == nil {
		a.reloadCtx, a.reloadCancel = context.WithCancel(context.Background())
	}
	return a.reloadCtx
}

func (a *vpncoreApp) startBackgroundServices() error {
	a.addresses.Start()
	log.Println("Address cache refresher started")
	if err := a.relays.Start(); err != nil {
		return fmt.Errorf("relay cache start: %w", err)
	}
	log.Println("Relay list tracker started")
	a.keys.StartAutomaticRotation()
	log.Println("Key rotation started")
	return nil
}

func (a *vpncoreApp) run(ctx context.Context) error {
	addr := net.JoinHostPort(a.envCfg.ListenAddress, strconv.Itoa(a.envCfg.APIPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	ln = netutil.LimitListener(ln, apiMaxConns)

	a.subscribe()
	if err := a.startBackgroundServices(); err != nil {
		_ = ln.Close()
		a.shutdown()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Management API listening on http://%s", addr)
		if err := a.apiSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.apiSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.shutdown()
	return err
}

// shutdown stops background work in reverse start order.
func (a *vpncoreApp) shutdown() {
	a.keys.Close()
	a.expiry.Close()
	a.relays.Stop()
	a.addresses.Stop()
	a.stopReloads()
	if err := a.tunnelCh.Close(); err != nil {
		log.Printf("Tunnel IPC close error: %v", err)
	}
	for _, h := range a.handles {
		h.Release()
	}
	a.queue.Close()
	log.Println("Control plane stopped")
}
