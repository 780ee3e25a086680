// Package relay models the relay list served by the account API and selects
// a relay and endpoint for a tunnel from user constraints.
package relay

import (
	"fmt"
	"net/netip"
	"strings"
)

// ServerRelaysResponse is the relay list payload.
type ServerRelaysResponse struct {
	Locations map[string]ServerLocation `json:"locations"`
	Wireguard WireguardRelays           `json:"wireguard"`
}

// ServerLocation describes one "<country>-<city>" location key.
type ServerLocation struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// WireguardRelays holds the tunnel protocol parameters shared by every relay
// plus the relay descriptors themselves.
type WireguardRelays struct {
	PortRanges  [][2]uint16 `json:"port_ranges"`
	IPv4Gateway netip.Addr  `json:"ipv4_gateway"`
	IPv6Gateway netip.Addr  `json:"ipv6_gateway"`
	Relays      []Relay     `json:"relays"`
}

// Relay is a single relay server descriptor.
type Relay struct {
	Hostname         string     `json:"hostname"`
	Active           bool       `json:"active"`
	Owned            bool       `json:"owned"`
	Location         string     `json:"location"`
	Provider         string     `json:"provider"`
	Weight           uint64     `json:"weight"`
	IncludeInCountry bool       `json:"include_in_country"`
	IPv4AddrIn       netip.Addr `json:"ipv4_addr_in"`
	IPv6AddrIn       netip.Addr `json:"ipv6_addr_in,omitzero"`
	PublicKey        []byte     `json:"public_key"`
}

// ResolvedLocation is a relay's location with both codes and display names.
type ResolvedLocation struct {
	CountryCode string  `json:"country_code"`
	CityCode    string  `json:"city_code"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// RelayWithLocation pairs a relay with its resolved location.
type RelayWithLocation struct {
	Relay    Relay
	Location ResolvedLocation
}

// Endpoint is the concrete address a tunnel connects to.
type Endpoint struct {
	IPv4Relay   netip.AddrPort `json:"ipv4_relay"`
	IPv6Relay   netip.AddrPort `json:"ipv6_relay,omitzero"`
	IPv4Gateway netip.Addr     `json:"ipv4_gateway"`
	IPv6Gateway netip.Addr     `json:"ipv6_gateway,omitzero"`
	PublicKey   []byte         `json:"public_key"`
}

// Result is the outcome of a successful selection.
type Result struct {
	Relay    Relay            `json:"relay"`
	Endpoint Endpoint         `json:"endpoint"`
	Location ResolvedLocation `json:"location"`
}

// Ownership restricts relays by hosting arrangement.
type Ownership string

const (
	OwnershipAny    Ownership = ""
	OwnershipOwned  Ownership = "owned"
	OwnershipRented Ownership = "rented"
)

// Filter narrows the candidate relays before location matching.
type Filter struct {
	Providers []string  `json:"providers,omitempty"`
	Ownership Ownership `json:"ownership,omitempty"`
}

func (f Filter) matches(r Relay) bool {
	switch f.Ownership {
	case OwnershipOwned:
		if !r.Owned {
			return false
		}
	case OwnershipRented:
		if r.Owned {
			return false
		}
	}
	if len(f.Providers) == 0 {
		return true
	}
	for _, p := range f.Providers {
		if p == r.Provider {
			return true
		}
	}
	return false
}

// Constraints are the user's relay selection preferences.
type Constraints struct {
	Location Constraint[Location] `json:"location"`
	Port     Constraint[uint16]   `json:"port"`
	Filter   Constraint[Filter]   `json:"filter"`
}

// DefaultConstraints prefers Sweden, matching a fresh install.
func DefaultConstraints() Constraints {
	return Constraints{Location: Only(CountryLocation("se"))}
}

// splitLocationKey splits a "<country>-<city>" key. City codes never contain
// a dash; country codes are two letters.
func splitLocationKey(key string) (country, city string, err error) {
	country, city, ok := strings.Cut(key, "-")
	if !ok || country == "" || city == "" {
		return "", "", fmt.Errorf("malformed location key %q", key)
	}
	return country, city, nil
}

// WithLocations resolves every relay's location key. Relays whose key is
// malformed or missing from the locations table are skipped.
func (r *ServerRelaysResponse) WithLocations() []RelayWithLocation {
	if r == nil {
		return nil
	}
	out := make([]RelayWithLocation, 0, len(r.Wireguard.Relays))
	for _, rel := range r.Wireguard.Relays {
		loc, ok := r.Locations[rel.Location]
		if !ok {
			continue
		}
		countryCode, cityCode, err := splitLocationKey(rel.Location)
		if err != nil {
			continue
		}
		out = append(out, RelayWithLocation{
			Relay: rel,
			Location: ResolvedLocation{
				CountryCode: countryCode,
				CityCode:    cityCode,
				Country:     loc.Country,
				City:        loc.City,
				Latitude:    loc.Latitude,
				Longitude:   loc.Longitude,
			},
		})
	}
	return out
}
