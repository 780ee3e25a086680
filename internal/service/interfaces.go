// Package service holds the control plane operations that the management
// API and CLI call. Concrete components are wired in main.
package service

import (
	"context"
	"time"

	"github.com/Resinat/vpncore/internal/account"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// SystemInfo contains version and runtime information.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// KeyPusher registers a new tunnel key with the account service.
type KeyPusher interface {
	PushKey(ctx context.Context, token string, key wgtypes.Key) (account.AssociatedAddresses, error)
}
