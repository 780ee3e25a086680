package service

import (
	"context"
	"errors"
	"log"
	"net/netip"

	"github.com/Resinat/vpncore/internal/relay"
	"github.com/Resinat/vpncore/internal/settings"
)

// RelaySummary is the API view of one relay in the cached list.
type RelaySummary struct {
	Hostname    string     `json:"hostname"`
	Active      bool       `json:"active"`
	Owned       bool       `json:"owned"`
	Provider    string     `json:"provider"`
	CountryCode string     `json:"country_code"`
	CityCode    string     `json:"city_code"`
	Country     string     `json:"country"`
	City        string     `json:"city"`
	IPv4AddrIn  netip.Addr `json:"ipv4_addr_in"`
	Weight      uint64     `json:"weight"`
}

// ListRelaysFilter narrows ListRelays. Zero values match everything.
type ListRelaysFilter struct {
	CountryCode string
	Active      *bool
}

// ListRelays returns the relays in the cached relay list.
func (s *ControlPlaneService) ListRelays(f ListRelaysFilter) ([]RelaySummary, error) {
	cached, ok := s.Relays.Read()
	if !ok {
		return nil, unavailable("relay list not loaded yet", nil)
	}
	out := make([]RelaySummary, 0, len(cached.Relays.Wireguard.Relays))
	for _, r := range cached.Relays.WithLocations() {
		if f.CountryCode != "" && r.Location.CountryCode != f.CountryCode {
			continue
		}
		if f.Active != nil && r.Relay.Active != *f.Active {
			continue
		}
		out = append(out, RelaySummary{
			Hostname:    r.Relay.Hostname,
			Active:      r.Relay.Active,
			Owned:       r.Relay.Owned,
			Provider:    r.Relay.Provider,
			CountryCode: r.Location.CountryCode,
			CityCode:    r.Location.CityCode,
			Country:     r.Location.Country,
			City:        r.Location.City,
			IPv4AddrIn:  r.Relay.IPv4AddrIn,
			Weight:      r.Relay.Weight,
		})
	}
	return out, nil
}

// SelectRelayRequest selects a relay for the next connection attempt.
type SelectRelayRequest struct {
	// Constraints overrides the account's stored constraints when set.
	Constraints    *relay.Constraints
	FailedAttempts uint
}

// SelectRelay picks a relay from the cached relay list. Without an override,
// the logged-in account's constraints are used, or the defaults when no
// account is logged in.
func (s *ControlPlaneService) SelectRelay(ctx context.Context, req SelectRelayRequest) (relay.Result, error) {
	cached, ok := s.Relays.Read()
	if !ok {
		return relay.Result{}, unavailable("relay list not loaded yet", nil)
	}

	constraints := relay.DefaultConstraints()
	if req.Constraints != nil {
		constraints = *req.Constraints
	} else {
		stored, err := s.storedConstraints(ctx)
		if err != nil {
			return relay.Result{}, err
		}
		if stored != nil {
			constraints = *stored
		}
	}

	result, ok := relay.EvaluateWithAttempts(cached.Relays, constraints, req.FailedAttempts, nil)
	if !ok {
		return relay.Result{}, notFound("no relay matches the constraints")
	}
	return result, nil
}

func (s *ControlPlaneService) storedConstraints(ctx context.Context) (*relay.Constraints, error) {
	token, ok, err := s.Settings.CurrentAccount(ctx)
	if err != nil {
		return nil, internal("load current account", err)
	}
	if !ok {
		return nil, nil
	}
	ts, err := s.Settings.Load(ctx, token)
	if errors.Is(err, settings.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal("load tunnel settings", err)
	}
	return &ts.RelayConstraints, nil
}

// SetRelayConstraints stores constraints for the logged-in account and asks
// the tunnel runtime to reload. A runtime that cannot be reached is not an
// error; it picks the settings up when it next starts.
func (s *ControlPlaneService) SetRelayConstraints(ctx context.Context, c relay.Constraints) (relay.Constraints, error) {
	token, ok, err := s.Settings.CurrentAccount(ctx)
	if err != nil {
		return relay.Constraints{}, internal("load current account", err)
	}
	if !ok {
		return relay.Constraints{}, notFound("no account is logged in")
	}

	updated, err := s.Settings.Update(ctx, token, func(ts *settings.TunnelSettings) error {
		ts.RelayConstraints = c
		return nil
	})
	switch {
	case errors.Is(err, settings.ErrNotFound):
		return relay.Constraints{}, notFound("no tunnel settings for the current account")
	case errors.Is(err, settings.ErrTooManyConflicts):
		return relay.Constraints{}, conflict("tunnel settings are being modified concurrently")
	case err != nil:
		return relay.Constraints{}, internal("update tunnel settings", err)
	}

	s.reloadTunnelBestEffort(ctx)
	return updated.RelayConstraints, nil
}

func (s *ControlPlaneService) reloadTunnelBestEffort(ctx context.Context) {
	if s.Tunnel == nil {
		return
	}
	if err := s.Tunnel.ReloadSettings(ctx); err != nil {
		log.Printf("[service] tunnel reload after settings change failed: %v", err)
	}
}
