package relay

import (
	"encoding/json"
	"net/netip"
	"testing"
)

func testRelays() *ServerRelaysResponse {
	return &ServerRelaysResponse{
		Locations: map[string]ServerLocation{
			"se-got": {Country: "Sweden", City: "Gothenburg", Latitude: 57.7, Longitude: 11.9},
			"se-sto": {Country: "Sweden", City: "Stockholm", Latitude: 59.3, Longitude: 18.0},
			"de-ber": {Country: "Germany", City: "Berlin", Latitude: 52.5, Longitude: 13.4},
		},
		Wireguard: WireguardRelays{
			PortRanges:  [][2]uint16{{53, 53}, {4000, 33433}},
			IPv4Gateway: netip.MustParseAddr("10.64.0.1"),
			IPv6Gateway: netip.MustParseAddr("fc00:bbbb:bbbb:bb01::1"),
			Relays: []Relay{
				{Hostname: "se-got-wg-001", Active: true, Owned: true, Location: "se-got", Provider: "31173", Weight: 100, IncludeInCountry: true, IPv4AddrIn: netip.MustParseAddr("185.213.154.68"), IPv6AddrIn: netip.MustParseAddr("2a03:1b20:5:f011::a01f")},
				{Hostname: "se-got-wg-002", Active: true, Location: "se-got", Provider: "M247", Weight: 100, IncludeInCountry: false, IPv4AddrIn: netip.MustParseAddr("185.213.154.69")},
				{Hostname: "se-sto-wg-001", Active: false, Location: "se-sto", Weight: 100, IncludeInCountry: true, IPv4AddrIn: netip.MustParseAddr("185.195.233.76")},
				{Hostname: "de-ber-wg-001", Active: true, Location: "de-ber", Provider: "31173", Weight: 50, IncludeInCountry: true, IPv4AddrIn: netip.MustParseAddr("193.32.248.66")},
				{Hostname: "xx-yyy-wg-001", Active: true, Location: "xx-yyy", Weight: 50, IncludeInCountry: true, IPv4AddrIn: netip.MustParseAddr("192.0.2.1")},
			},
		},
	}
}

func TestEvaluate_DeterministicForSeed(t *testing.T) {
	relays := testRelays()
	constraints := Constraints{}

	for seed := uint64(0); seed < 20; seed++ {
		a, okA := Evaluate(relays, constraints, NewRand(seed))
		b, okB := Evaluate(relays, constraints, NewRand(seed))
		if !okA || !okB {
			t.Fatalf("seed %d: expected a selection", seed)
		}
		if a.Relay.Hostname != b.Relay.Hostname || a.Endpoint.IPv4Relay != b.Endpoint.IPv4Relay {
			t.Fatalf("seed %d: got %s/%s and %s/%s", seed,
				a.Relay.Hostname, a.Endpoint.IPv4Relay, b.Relay.Hostname, b.Endpoint.IPv4Relay)
		}
	}
}

func TestEvaluate_CountryRequiresIncludeInCountry(t *testing.T) {
	relays := testRelays()
	constraints := Constraints{Location: Only(CountryLocation("se"))}
	rng := NewRand(7)

	for i := 0; i < 500; i++ {
		res, ok := Evaluate(relays, constraints, rng)
		if !ok {
			t.Fatal("expected a selection")
		}
		if res.Location.CountryCode != "se" {
			t.Fatalf("country = %q, want se", res.Location.CountryCode)
		}
		if !res.Relay.IncludeInCountry {
			t.Fatalf("selected %s which is excluded from country selection", res.Relay.Hostname)
		}
		if !res.Relay.Active {
			t.Fatalf("selected inactive relay %s", res.Relay.Hostname)
		}
	}
}

func TestEvaluate_CityIgnoresIncludeInCountry(t *testing.T) {
	relays := testRelays()
	constraints := Constraints{Location: Only(CityLocation("se", "got"))}
	rng := NewRand(11)

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		res, ok := Evaluate(relays, constraints, rng)
		if !ok {
			t.Fatal("expected a selection")
		}
		seen[res.Relay.Hostname] = true
	}
	if !seen["se-got-wg-001"] || !seen["se-got-wg-002"] || len(seen) != 2 {
		t.Fatalf("unexpected selection set: %v", seen)
	}
}

func TestEvaluate_Hostname(t *testing.T) {
	relays := testRelays()
	constraints := Constraints{Location: Only(HostnameLocation("se", "got", "se-got-wg-002"))}

	res, ok := Evaluate(relays, constraints, NewRand(1))
	if !ok {
		t.Fatal("expected a selection")
	}
	if res.Relay.Hostname != "se-got-wg-002" {
		t.Fatalf("hostname = %q", res.Relay.Hostname)
	}
	if res.Endpoint.IPv6Relay.IsValid() {
		t.Fatalf("relay without IPv6 should yield no IPv6 endpoint, got %s", res.Endpoint.IPv6Relay)
	}
}

func TestEvaluate_NoMatchReturnsFalse(t *testing.T) {
	relays := testRelays()
	cases := map[string]Constraints{
		"unknown_country":        {Location: Only(CountryLocation("fr"))},
		"inactive_only":          {Location: Only(CityLocation("se", "sto"))},
		"missing_location_entry": {Location: Only(CountryLocation("xx"))},
		"filter_excludes_all": {
			Location: Only(CountryLocation("de")),
			Filter:   Only(Filter{Ownership: OwnershipOwned}),
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			if res, ok := Evaluate(relays, c, NewRand(3)); ok {
				t.Fatalf("expected no selection, got %s", res.Relay.Hostname)
			}
		})
	}

	if _, ok := Evaluate(nil, Constraints{}, nil); ok {
		t.Fatal("nil relay list must not select")
	}
	if _, ok := Evaluate(&ServerRelaysResponse{}, Constraints{}, nil); ok {
		t.Fatal("empty relay list must not select")
	}
}

func TestEvaluate_ZeroWeightUniform(t *testing.T) {
	relays := &ServerRelaysResponse{
		Locations: map[string]ServerLocation{"se-got": {Country: "Sweden", City: "Gothenburg"}},
		Wireguard: WireguardRelays{
			PortRanges:  [][2]uint16{{51820, 51820}},
			IPv4Gateway: netip.MustParseAddr("10.64.0.1"),
			Relays: []Relay{
				{Hostname: "a", Active: true, Location: "se-got", IncludeInCountry: true, IPv4AddrIn: netip.MustParseAddr("192.0.2.10")},
				{Hostname: "b", Active: true, Location: "se-got", IncludeInCountry: true, IPv4AddrIn: netip.MustParseAddr("192.0.2.11")},
			},
		},
	}
	constraints := Constraints{Location: Only(CountryLocation("se"))}
	rng := NewRand(42)

	const draws = 10000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		res, ok := Evaluate(relays, constraints, rng)
		if !ok {
			t.Fatal("expected a selection")
		}
		counts[res.Relay.Hostname]++
	}
	for _, h := range []string{"a", "b"} {
		share := float64(counts[h]) / draws
		if share < 0.45 || share > 0.55 {
			t.Fatalf("relay %s selected %.3f of draws, want 0.45-0.55 (counts=%v)", h, share, counts)
		}
	}
}

func TestPickWeighted_FirstRelayReachingZero(t *testing.T) {
	relays := []RelayWithLocation{
		{Relay: Relay{Hostname: "zero", Weight: 0}},
		{Relay: Relay{Hostname: "heavy", Weight: 3}},
		{Relay: Relay{Hostname: "light", Weight: 1}},
	}
	rng := NewRand(5)
	counts := map[string]int{}
	for i := 0; i < 4000; i++ {
		r, ok := pickWeighted(relays, rng)
		if !ok {
			t.Fatal("expected a pick")
		}
		counts[r.Relay.Hostname]++
	}
	if counts["zero"] != 0 {
		t.Fatalf("zero-weight relay picked %d times alongside weighted relays", counts["zero"])
	}
	if counts["heavy"] < 2*counts["light"] {
		t.Fatalf("weight not respected: %v", counts)
	}
}

func TestEvaluate_PortSelection(t *testing.T) {
	relays := testRelays()
	loc := Only(HostnameLocation("se", "got", "se-got-wg-001"))

	res, ok := Evaluate(relays, Constraints{Location: loc, Port: Only[uint16](51820)}, NewRand(1))
	if !ok || res.Endpoint.IPv4Relay.Port() != 51820 {
		t.Fatalf("port constraint not honored: %v %v", ok, res.Endpoint.IPv4Relay)
	}
	if res.Endpoint.IPv6Relay.Port() != 51820 {
		t.Fatalf("IPv6 endpoint port = %d", res.Endpoint.IPv6Relay.Port())
	}

	rng := NewRand(9)
	for i := 0; i < 200; i++ {
		res, ok := Evaluate(relays, Constraints{Location: loc}, rng)
		if !ok {
			t.Fatal("expected a selection")
		}
		p := res.Endpoint.IPv4Relay.Port()
		if p != 53 && (p < 4000 || p > 33433) {
			t.Fatalf("port %d outside configured ranges", p)
		}
	}

	for attempts, want := range map[uint]bool{0: false, 1: false, 2: true, 3: true, 6: true, 8: false} {
		res, ok := EvaluateWithAttempts(relays, Constraints{Location: loc, Port: Any[uint16]()}, attempts, NewRand(77))
		if !ok {
			t.Fatal("expected a selection")
		}
		if want && res.Endpoint.IPv4Relay.Port() != 53 {
			t.Fatalf("attempts=%d: port = %d, want 53", attempts, res.Endpoint.IPv4Relay.Port())
		}
	}

	noRanges := testRelays()
	noRanges.Wireguard.PortRanges = nil
	if _, ok := Evaluate(noRanges, Constraints{Location: loc}, NewRand(1)); ok {
		t.Fatal("expected no selection without port ranges")
	}
}

func TestConstraints_JSON(t *testing.T) {
	in := Constraints{
		Location: Only(CityLocation("se", "got")),
		Port:     Any[uint16](),
		Filter:   Only(Filter{Providers: []string{"31173"}}),
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"location":{"only":["se","got"]},"port":"any","filter":{"only":{"providers":["31173"]}}}`
	if string(b) != want {
		t.Fatalf("json = %s, want %s", b, want)
	}

	var out Constraints
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	loc, ok := out.Location.Value()
	if !ok || loc != CityLocation("se", "got") {
		t.Fatalf("location = %v", out.Location)
	}
	if !out.Port.IsAny() {
		t.Fatalf("port = %v, want any", out.Port)
	}

	var bad Constraints
	if err := json.Unmarshal([]byte(`{"location":{"only":[]}}`), &bad); err == nil {
		t.Fatal("expected error for empty location")
	}
}

func TestLocation_Ascendants(t *testing.T) {
	h := HostnameLocation("se", "got", "se-got-wg-001")
	asc := h.Ascendants()
	if len(asc) != 2 || asc[0] != CityLocation("se", "got") || asc[1] != CountryLocation("se") {
		t.Fatalf("ascendants = %v", asc)
	}
	if len(CountryLocation("se").Ascendants()) != 0 {
		t.Fatal("country has no ascendants")
	}
	if h.String() != "se-got-se-got-wg-001" {
		t.Fatalf("String() = %q", h.String())
	}
}
