// Package settings holds per-account tunnel settings and persists them in
// the credential store with optimistic concurrency.
package settings

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/Resinat/vpncore/internal/relay"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// TunnelSettings is everything the tunnel runtime needs for one account.
type TunnelSettings struct {
	RelayConstraints relay.Constraints `json:"relay_constraints"`
	Interface        InterfaceSettings `json:"interface"`
}

// InterfaceSettings describe the local tunnel interface.
type InterfaceSettings struct {
	PrivateKey PrivateKey     `json:"private_key"`
	Addresses  []netip.Prefix `json:"addresses"`
	DNS        DNSSettings    `json:"dns"`
}

// DNSSettings control resolver behavior inside the tunnel.
type DNSSettings struct {
	BlockAdvertising bool         `json:"block_advertising"`
	BlockTracking    bool         `json:"block_tracking"`
	CustomServers    []netip.Addr `json:"custom_servers,omitempty"`
}

// PrivateKey is a tunnel private key and the time it was generated.
type PrivateKey struct {
	Key          wgtypes.Key
	CreationDate time.Time
}

// NewPrivateKey generates a fresh key stamped with now.
func NewPrivateKey(now time.Time) (PrivateKey, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generate private key: %w", err)
	}
	return PrivateKey{Key: k, CreationDate: now.UTC()}, nil
}

// PublicKey derives the public half.
func (k PrivateKey) PublicKey() wgtypes.Key {
	return k.Key.PublicKey()
}

type privateKeyJSON struct {
	Key          string    `json:"key"`
	CreationDate time.Time `json:"creation_date"`
}

func (k PrivateKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(privateKeyJSON{Key: k.Key.String(), CreationDate: k.CreationDate})
}

func (k *PrivateKey) UnmarshalJSON(b []byte) error {
	var raw privateKeyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	key, err := wgtypes.ParseKey(raw.Key)
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	*k = PrivateKey{Key: key, CreationDate: raw.CreationDate}
	return nil
}

// New returns default settings around a freshly generated key.
func New(now time.Time) (TunnelSettings, error) {
	key, err := NewPrivateKey(now)
	if err != nil {
		return TunnelSettings{}, err
	}
	return TunnelSettings{
		RelayConstraints: relay.DefaultConstraints(),
		Interface:        InterfaceSettings{PrivateKey: key},
	}, nil
}
