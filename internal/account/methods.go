package account

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/Resinat/vpncore/internal/relay"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// AssociatedAddresses are the tunnel interface addresses assigned to a key.
type AssociatedAddresses struct {
	IPv4Address netip.Prefix `json:"ipv4_address"`
	IPv6Address netip.Prefix `json:"ipv6_address"`
}

// Prefixes returns the valid addresses, IPv4 first.
func (a AssociatedAddresses) Prefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, 2)
	for _, p := range []netip.Prefix{a.IPv4Address, a.IPv6Address} {
		if p.IsValid() {
			out = append(out, p)
		}
	}
	return out
}

// GetAccountExpiry returns when the account's paid time runs out.
func (c *Client) GetAccountExpiry(ctx context.Context, token string) (time.Time, error) {
	raw, err := c.call(ctx, "get_expiry", token)
	if err != nil {
		return time.Time{}, err
	}
	expiry, err := decodeResult[time.Time](raw)
	if err != nil {
		return time.Time{}, err
	}
	return expiry.UTC(), nil
}

// ReplaceKey swaps the account's tunnel public key oldKey for newKey and
// returns the addresses associated with the new key.
func (c *Client) ReplaceKey(ctx context.Context, token string, oldKey, newKey wgtypes.Key) (AssociatedAddresses, error) {
	raw, err := c.call(ctx, "replace_wireguard_key", token, oldKey.String(), newKey.String())
	if err != nil {
		return AssociatedAddresses{}, err
	}
	return decodeAssociatedAddresses(raw)
}

func decodeAssociatedAddresses(raw []byte) (AssociatedAddresses, error) {
	addrs, err := decodeResult[AssociatedAddresses](raw)
	if err != nil {
		return AssociatedAddresses{}, err
	}
	if !addrs.IPv4Address.IsValid() {
		return AssociatedAddresses{}, &DecodingError{Err: fmt.Errorf("missing ipv4_address")}
	}
	return addrs, nil
}

// PushKey registers a new tunnel public key with the account.
func (c *Client) PushKey(ctx context.Context, token string, key wgtypes.Key) (AssociatedAddresses, error) {
	raw, err := c.call(ctx, "push_wireguard_key", token, key.String())
	if err != nil {
		return AssociatedAddresses{}, err
	}
	return decodeAssociatedAddresses(raw)
}

// GetAddressList returns the API entry-point addresses.
func (c *Client) GetAddressList(ctx context.Context) ([]netip.AddrPort, error) {
	raw, err := c.call(ctx, "get_api_addrs")
	if err != nil {
		return nil, err
	}
	return decodeResult[[]netip.AddrPort](raw)
}

// GetRelayList returns the relay list together with its raw encoding.
func (c *Client) GetRelayList(ctx context.Context) (*relay.ServerRelaysResponse, []byte, error) {
	raw, err := c.call(ctx, "relay_list_v3")
	if err != nil {
		return nil, nil, err
	}
	list, err := decodeResult[relay.ServerRelaysResponse](raw)
	if err != nil {
		return nil, nil, err
	}
	return &list, raw, nil
}
