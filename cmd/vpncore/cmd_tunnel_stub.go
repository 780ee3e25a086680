package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Resinat/vpncore/internal/config"
	"github.com/Resinat/vpncore/internal/relay"
	"github.com/Resinat/vpncore/internal/tunnelipc"
	"github.com/spf13/cobra"
)

// stubTunnel answers tunnel IPC requests without a real tunnel. Reconnects
// are recorded so that status reflects the last requested relay.
type stubTunnel struct {
	mu          sync.Mutex
	connectedTo *relay.Result
	since       time.Time
	reloads     int
}

func (s *stubTunnel) ReloadSettings(context.Context) error {
	s.mu.Lock()
	s.reloads++
	n := s.reloads
	s.mu.Unlock()
	log.Printf("[tunnel-stub] reload settings (#%d)", n)
	return nil
}

func (s *stubTunnel) TunnelStatus(context.Context) (tunnelipc.TunnelStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := tunnelipc.TunnelStatus{IsNetworkReachable: true}
	if s.connectedTo == nil {
		return status, nil
	}
	loc := relay.CityLocation(s.connectedTo.Location.CountryCode, s.connectedTo.Location.CityCode)
	since := s.since
	status.ConnectingSince = &since
	status.Connection = &tunnelipc.ConnectionInfo{
		Hostname:  s.connectedTo.Relay.Hostname,
		IPv4Relay: s.connectedTo.Endpoint.IPv4Relay,
		IPv6Relay: s.connectedTo.Endpoint.IPv6Relay,
		Location:  &loc,
	}
	return status, nil
}

func (s *stubTunnel) Reconnect(_ context.Context, r *relay.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r != nil {
		s.connectedTo = r
		log.Printf("[tunnel-stub] reconnect to %s", r.Relay.Hostname)
	} else {
		log.Printf("[tunnel-stub] reconnect")
	}
	s.since = time.Now().UTC()
	return nil
}

func newTunnelStubCmd() *cobra.Command {
	var network, address string
	var maxConns int
	cmd := &cobra.Command{
		Use:   "tunnel-stub",
		Short: "Serve the tunnel IPC protocol without a tunnel, for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if network == "unix" {
				if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("remove stale socket: %w", err)
				}
			}
			ln, err := net.Listen(network, address)
			if err != nil {
				return fmt.Errorf("tunnel ipc listen: %w", err)
			}
			srv := tunnelipc.NewServer(&stubTunnel{}, maxConns)
			stop := context.AfterFunc(cmd.Context(), func() { _ = srv.Close() })
			defer stop()

			log.Printf("[tunnel-stub] serving on %s %s", network, address)
			if err := srv.Serve(ln); err != nil && !errors.Is(err, tunnelipc.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&network, "network", config.EnvString("VPNCORE_TUNNEL_IPC_NETWORK", "unix"), "listen network (unix or tcp)")
	f.StringVar(&address, "address", config.EnvString("VPNCORE_TUNNEL_IPC_ADDRESS", config.DefaultTunnelIPCAddress), "listen address")
	f.IntVar(&maxConns, "max-conns", tunnelipc.DefaultMaxConns, "maximum concurrent connections")
	return cmd
}
