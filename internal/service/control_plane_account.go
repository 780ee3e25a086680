package service

import (
	"context"
	"errors"
	"log"
	"net/netip"
	"strings"
	"time"

	"github.com/Resinat/vpncore/internal/keyrotation"
	"github.com/Resinat/vpncore/internal/settings"
)

// ------------------------------------------------------------------
// Account
// ------------------------------------------------------------------

// AccountStatus is the API view of the logged-in account.
type AccountStatus struct {
	LoggedIn  bool   `json:"logged_in"`
	Token     string `json:"token,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// SetAccount logs in with token. An account seen for the first time gets
// fresh tunnel settings whose key is registered with the account service.
func (s *ControlPlaneService) SetAccount(ctx context.Context, token string) (AccountStatus, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AccountStatus{}, invalidArg("token: must not be empty")
	}

	ts, err := s.Settings.Load(ctx, token)
	if errors.Is(err, settings.ErrNotFound) {
		ts, err = s.createSettings(ctx, token)
	}
	if err != nil {
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			return AccountStatus{}, svcErr
		}
		return AccountStatus{}, internal("load tunnel settings", err)
	}

	if err := s.Settings.SetCurrentAccount(ctx, token); err != nil {
		return AccountStatus{}, internal("set current account", err)
	}
	s.reloadTunnelBestEffort(ctx)
	return AccountStatus{LoggedIn: true, Token: token, PublicKey: ts.Interface.PrivateKey.PublicKey().String()}, nil
}

func (s *ControlPlaneService) createSettings(ctx context.Context, token string) (settings.TunnelSettings, error) {
	ts, err := settings.New(s.now())
	if err != nil {
		return settings.TunnelSettings{}, internal("generate tunnel key", err)
	}
	if s.KeyPusher == nil {
		return settings.TunnelSettings{}, unavailable("account service not configured", nil)
	}
	addrs, err := s.KeyPusher.PushKey(ctx, token, ts.Interface.PrivateKey.PublicKey())
	if err != nil {
		return settings.TunnelSettings{}, accountServiceError("register tunnel key", err)
	}
	ts.Interface.Addresses = addrs.Prefixes()

	if err := s.Settings.Add(ctx, token, ts); err != nil {
		if errors.Is(err, settings.ErrAlreadyExists) {
			// Created concurrently; use the stored copy.
			return s.Settings.Load(ctx, token)
		}
		return settings.TunnelSettings{}, internal("store tunnel settings", err)
	}
	log.Printf("[service] created tunnel settings for new account")
	return ts, nil
}

// ClearAccount logs out. Stored tunnel settings are kept.
func (s *ControlPlaneService) ClearAccount(ctx context.Context) error {
	if err := s.Settings.ClearCurrentAccount(ctx); err != nil {
		return internal("clear current account", err)
	}
	s.reloadTunnelBestEffort(ctx)
	return nil
}

// AccountExpiryStatus is the API view of the account expiry.
type AccountExpiryStatus struct {
	Expiry  time.Time `json:"expiry"`
	Expired bool      `json:"expired"`
}

// AccountExpiry fetches the logged-in account's expiry now.
func (s *ControlPlaneService) AccountExpiry(ctx context.Context) (AccountExpiryStatus, error) {
	expiry, ok, err := s.Expiry.Update(ctx)
	if err != nil {
		return AccountExpiryStatus{}, accountServiceError("fetch account expiry", err)
	}
	if !ok {
		return AccountExpiryStatus{}, notFound("no account is logged in")
	}
	return AccountExpiryStatus{Expiry: expiry.UTC(), Expired: !s.now().Before(expiry)}, nil
}

// ------------------------------------------------------------------
// Keys
// ------------------------------------------------------------------

// KeyRotationStatus is the API view of a rotation check.
type KeyRotationStatus struct {
	Rotated      bool      `json:"rotated"`
	PublicKey    string    `json:"public_key"`
	CreationDate time.Time `json:"creation_date"`
}

// RotateKeyNow runs a rotation check immediately. The key is replaced only
// when it is due.
func (s *ControlPlaneService) RotateKeyNow(ctx context.Context) (KeyRotationStatus, error) {
	res, err := s.Keys.RotateIfDue(ctx)
	switch {
	case err == nil:
		return KeyRotationStatus{
			Rotated:      res.IsNew,
			PublicKey:    res.PublicKey.String(),
			CreationDate: res.CreationDate.UTC(),
		}, nil
	case errors.Is(err, keyrotation.ErrRotationInProgress):
		return KeyRotationStatus{}, conflict("a key rotation is already in progress")
	case errors.Is(err, keyrotation.ErrMissingAccount), errors.Is(err, settings.ErrNotFound):
		return KeyRotationStatus{}, notFound("no account is logged in")
	case errors.Is(err, keyrotation.ErrKeyChanged):
		return KeyRotationStatus{}, conflict("tunnel key changed during rotation")
	default:
		return KeyRotationStatus{}, accountServiceError("rotate key", err)
	}
}

// ------------------------------------------------------------------
// API addresses
// ------------------------------------------------------------------

// APIAddressesStatus is the API view of the address cache.
type APIAddressesStatus struct {
	Updated      bool             `json:"updated"`
	Endpoints    []netip.AddrPort `json:"endpoints"`
	NextUpdateAt time.Time        `json:"next_update_at"`
}

// RefreshAPIAddresses refreshes the API address cache when due, or
// unconditionally with force.
func (s *ControlPlaneService) RefreshAPIAddresses(ctx context.Context, force bool) (APIAddressesStatus, error) {
	var updated bool
	var err error
	if force {
		err = s.Addresses.RefreshNow(ctx)
		updated = err == nil
	} else {
		updated, err = s.Addresses.UpdateEndpoints(ctx)
	}
	if err != nil {
		return APIAddressesStatus{}, accountServiceError("refresh API addresses", err)
	}
	return APIAddressesStatus{
		Updated:      updated,
		Endpoints:    s.Addresses.Endpoints(),
		NextUpdateAt: s.Addresses.NextScheduleDate().UTC(),
	}, nil
}
