package relay

import (
	"math/rand/v2"
	"net/netip"
	"sync"
)

// fallbackPort is tried on alternating pairs of failed connection attempts
// when the port is unconstrained.
const fallbackPort uint16 = 53

var selectorRNGPool = sync.Pool{
	New: func() any {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	},
}

// NewRand returns a deterministic random source for Evaluate.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Evaluate picks a relay and endpoint satisfying constraints. It reports
// false when no relay qualifies or no port can be chosen. A nil rng uses a
// pooled, randomly seeded source.
func Evaluate(relays *ServerRelaysResponse, constraints Constraints, rng *rand.Rand) (Result, bool) {
	return EvaluateWithAttempts(relays, constraints, 0, rng)
}

// EvaluateWithAttempts is Evaluate with knowledge of how many connection
// attempts have failed so far, which influences port choice.
func EvaluateWithAttempts(
	relays *ServerRelaysResponse,
	constraints Constraints,
	failedAttempts uint,
	rng *rand.Rand,
) (Result, bool) {
	if relays == nil {
		return Result{}, false
	}
	if rng == nil {
		pooled := selectorRNGPool.Get().(*rand.Rand)
		defer selectorRNGPool.Put(pooled)
		rng = pooled
	}

	candidates := applyConstraints(constraints, relays.WithLocations())
	picked, ok := pickWeighted(candidates, rng)
	if !ok {
		return Result{}, false
	}
	port, ok := pickPort(constraints.Port, relays.Wireguard.PortRanges, failedAttempts, rng)
	if !ok {
		return Result{}, false
	}

	endpoint := Endpoint{
		IPv4Relay:   netip.AddrPortFrom(picked.Relay.IPv4AddrIn, port),
		IPv4Gateway: relays.Wireguard.IPv4Gateway,
		IPv6Gateway: relays.Wireguard.IPv6Gateway,
		PublicKey:   picked.Relay.PublicKey,
	}
	if picked.Relay.IPv6AddrIn.IsValid() {
		endpoint.IPv6Relay = netip.AddrPortFrom(picked.Relay.IPv6AddrIn, port)
	}
	return Result{Relay: picked.Relay, Endpoint: endpoint, Location: picked.Location}, true
}

func applyConstraints(constraints Constraints, relays []RelayWithLocation) []RelayWithLocation {
	filter, hasFilter := constraints.Filter.Value()
	out := relays[:0:0]
	for _, r := range relays {
		if !r.Relay.Active {
			continue
		}
		if hasFilter && !filter.matches(r.Relay) {
			continue
		}
		if !matchesLocation(constraints.Location, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesLocation(c Constraint[Location], r RelayWithLocation) bool {
	loc, ok := c.Value()
	if !ok {
		return true
	}
	switch loc.Kind() {
	case LocationCountry:
		return r.Location.CountryCode == loc.Country && r.Relay.IncludeInCountry
	case LocationCity:
		return r.Location.CountryCode == loc.Country && r.Location.CityCode == loc.City
	case LocationHostname:
		return r.Location.CountryCode == loc.Country &&
			r.Location.CityCode == loc.City &&
			r.Relay.Hostname == loc.Hostname
	default:
		return false
	}
}

// pickWeighted draws i in [1, total] and walks the list subtracting weights;
// the first relay at which the counter reaches zero wins. With a total of
// zero every relay is equally likely.
func pickWeighted(relays []RelayWithLocation, rng *rand.Rand) (RelayWithLocation, bool) {
	if len(relays) == 0 {
		return RelayWithLocation{}, false
	}

	var total uint64
	for _, r := range relays {
		next := total + r.Relay.Weight
		if next < total {
			next = ^uint64(0)
		}
		total = next
	}
	if total == 0 {
		return relays[rng.IntN(len(relays))], true
	}

	i := rng.Uint64N(total) + 1
	for _, r := range relays {
		if i <= r.Relay.Weight {
			return r, true
		}
		i -= r.Relay.Weight
	}
	return relays[len(relays)-1], true
}

func pickPort(c Constraint[uint16], ranges [][2]uint16, failedAttempts uint, rng *rand.Rand) (uint16, bool) {
	if port, ok := c.Value(); ok {
		return port, true
	}
	if failedAttempts%4 == 2 || failedAttempts%4 == 3 {
		return fallbackPort, true
	}

	valid := make([][2]uint16, 0, len(ranges))
	for _, r := range ranges {
		if r[0] <= r[1] {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return 0, false
	}
	chosen := valid[rng.IntN(len(valid))]
	span := uint(chosen[1]-chosen[0]) + 1
	return chosen[0] + uint16(rng.UintN(span)), true
}
