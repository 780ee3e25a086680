package relay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LocationKind identifies the granularity of a Location.
type LocationKind int

const (
	LocationCountry LocationKind = iota + 1
	LocationCity
	LocationHostname
)

func (k LocationKind) String() string {
	switch k {
	case LocationCountry:
		return "country"
	case LocationCity:
		return "city"
	case LocationHostname:
		return "hostname"
	default:
		return fmt.Sprintf("LocationKind(%d)", int(k))
	}
}

// Location is a country, a city within a country, or a single relay host.
// Construct values with CountryLocation, CityLocation or HostnameLocation;
// a Location with an empty Country is invalid.
type Location struct {
	Country  string
	City     string
	Hostname string
}

func CountryLocation(country string) Location {
	return Location{Country: country}
}

func CityLocation(country, city string) Location {
	return Location{Country: country, City: city}
}

func HostnameLocation(country, city, hostname string) Location {
	return Location{Country: country, City: city, Hostname: hostname}
}

// Kind reports the granularity of l.
func (l Location) Kind() LocationKind {
	switch {
	case l.Hostname != "":
		return LocationHostname
	case l.City != "":
		return LocationCity
	default:
		return LocationCountry
	}
}

// Ascendants returns the broader locations containing l, nearest first.
func (l Location) Ascendants() []Location {
	switch l.Kind() {
	case LocationHostname:
		return []Location{CityLocation(l.Country, l.City), CountryLocation(l.Country)}
	case LocationCity:
		return []Location{CountryLocation(l.Country)}
	default:
		return nil
	}
}

func (l Location) components() []string {
	switch l.Kind() {
	case LocationHostname:
		return []string{l.Country, l.City, l.Hostname}
	case LocationCity:
		return []string{l.Country, l.City}
	default:
		return []string{l.Country}
	}
}

func (l Location) String() string {
	return strings.Join(l.components(), "-")
}

// ParseLocation builds a Location from one to three components:
// country, city and hostname.
func ParseLocation(parts []string) (Location, error) {
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Location{}, fmt.Errorf("location component %d is empty", i)
		}
	}
	switch len(parts) {
	case 1:
		return CountryLocation(parts[0]), nil
	case 2:
		return CityLocation(parts[0], parts[1]), nil
	case 3:
		return HostnameLocation(parts[0], parts[1], parts[2]), nil
	default:
		return Location{}, fmt.Errorf("location must have 1-3 components, got %d", len(parts))
	}
}

// MarshalJSON encodes l as an array of its components, e.g. ["se","got"].
func (l Location) MarshalJSON() ([]byte, error) {
	if l.Country == "" {
		return nil, fmt.Errorf("location: empty country")
	}
	return json.Marshal(l.components())
}

func (l *Location) UnmarshalJSON(b []byte) error {
	var parts []string
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	parsed, err := ParseLocation(parts)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
