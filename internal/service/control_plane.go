package service

import (
	"time"

	"github.com/Resinat/vpncore/internal/addrcache"
	"github.com/Resinat/vpncore/internal/expiry"
	"github.com/Resinat/vpncore/internal/keyrotation"
	"github.com/Resinat/vpncore/internal/relaycache"
	"github.com/Resinat/vpncore/internal/settings"
	"github.com/Resinat/vpncore/internal/tunnelipc"
)

// ControlPlaneService provides all control plane operations.
// Handlers call its methods; business logic lives here, not in handlers.
type ControlPlaneService struct {
	Settings  *settings.Store
	Relays    *relaycache.Tracker
	Tunnel    *tunnelipc.Client
	Keys      *keyrotation.Coordinator
	Expiry    *expiry.Poller
	Addresses *addrcache.Refresher
	KeyPusher KeyPusher
	Info      SystemInfo
	Now       func() time.Time // optional, defaults to time.Now
}

func (s *ControlPlaneService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SystemInfo returns version and runtime information.
func (s *ControlPlaneService) SystemInfo() SystemInfo {
	return s.Info
}
