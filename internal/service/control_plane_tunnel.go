package service

import (
	"context"

	"github.com/Resinat/vpncore/internal/relay"
	"github.com/Resinat/vpncore/internal/tunnelipc"
)

// TunnelStatus asks the tunnel runtime for its live status.
func (s *ControlPlaneService) TunnelStatus(ctx context.Context) (tunnelipc.TunnelStatus, error) {
	if s.Tunnel == nil {
		return tunnelipc.TunnelStatus{}, unavailable("tunnel runtime not configured", nil)
	}
	status, err := s.Tunnel.TunnelStatus(ctx)
	if err != nil {
		return tunnelipc.TunnelStatus{}, tunnelError("get tunnel status", err)
	}
	return status, nil
}

// ReloadTunnelRequest controls how the tunnel runtime is reloaded.
type ReloadTunnelRequest struct {
	// Reconnect makes the runtime reconnect, to Relay when set.
	Reconnect bool
	Relay     *relay.Result
}

// ReloadTunnel pushes the stored settings to the tunnel runtime and
// optionally reconnects it.
func (s *ControlPlaneService) ReloadTunnel(ctx context.Context, req ReloadTunnelRequest) error {
	if s.Tunnel == nil {
		return unavailable("tunnel runtime not configured", nil)
	}
	if req.Relay != nil && !req.Reconnect {
		return invalidArg("relay: only allowed with reconnect")
	}
	if err := s.Tunnel.ReloadSettings(ctx); err != nil {
		return tunnelError("reload tunnel settings", err)
	}
	if req.Reconnect {
		if err := s.Tunnel.Reconnect(ctx, req.Relay); err != nil {
			return tunnelError("reconnect tunnel", err)
		}
	}
	return nil
}
