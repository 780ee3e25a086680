package api

import (
	"net/http"

	"github.com/Resinat/vpncore/internal/relay"
	"github.com/Resinat/vpncore/internal/service"
)

var relaySortFields = []string{"hostname", "country_code", "city_code", "provider"}

func relaySortKey(field string) func(service.RelaySummary) string {
	switch field {
	case "country_code":
		return func(r service.RelaySummary) string { return r.CountryCode + "\x00" + r.Hostname }
	case "city_code":
		return func(r service.RelaySummary) string { return r.CountryCode + "-" + r.CityCode + "\x00" + r.Hostname }
	case "provider":
		return func(r service.RelaySummary) string { return r.Provider }
	default:
		return func(r service.RelaySummary) string { return r.Hostname }
	}
}

// HandleListRelays returns a handler for GET /api/v1/relays.
func HandleListRelays(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		sorting, ok := parseSortingOrWriteInvalid(w, r, relaySortFields, "hostname", "asc")
		if !ok {
			return
		}
		active, ok := parseBoolQueryOrWriteInvalid(w, r, "active")
		if !ok {
			return
		}

		relays, err := cp.ListRelays(service.ListRelaysFilter{
			CountryCode: r.URL.Query().Get("country"),
			Active:      active,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		SortSlice(relays, sorting, relaySortKey(sorting.SortBy))
		WritePage(w, http.StatusOK, relays, pg)
	}
}

// HandleSelectRelay returns a handler for GET /api/v1/relays/select.
//
// Query parameters override the stored constraints: location (comma
// separated, e.g. "se,got"), port, and failed_attempts.
func HandleSelectRelay(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, ok := parseLocationQuery(w, r, "location")
		if !ok {
			return
		}
		port, ok := parseUintQueryOrWriteInvalid(w, r, "port", 16)
		if !ok {
			return
		}
		attempts, ok := parseUintQueryOrWriteInvalid(w, r, "failed_attempts", 32)
		if !ok {
			return
		}

		req := service.SelectRelayRequest{}
		if attempts != nil {
			req.FailedAttempts = uint(*attempts)
		}
		if loc != nil || port != nil {
			c := relay.DefaultConstraints()
			if loc != nil {
				c.Location = relay.Only(*loc)
			}
			if port != nil {
				c.Port = relay.Only(uint16(*port))
			}
			req.Constraints = &c
		}

		result, err := cp.SelectRelay(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

// HandleSetRelayConstraints returns a handler for
// PUT /api/v1/settings/relay-constraints.
func HandleSetRelayConstraints(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c relay.Constraints
		if !decodeBodyOrWriteInvalid(w, r, &c) {
			return
		}
		stored, err := cp.SetRelayConstraints(r.Context(), c)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stored)
	}
}
