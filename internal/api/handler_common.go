package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Resinat/vpncore/internal/relay"
)

func parsePaginationOrWriteInvalid(w http.ResponseWriter, r *http.Request) (Pagination, bool) {
	pg, err := ParsePagination(r)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return Pagination{}, false
	}
	return pg, true
}

func parseSortingOrWriteInvalid(
	w http.ResponseWriter,
	r *http.Request,
	allowed []string,
	defaultField string,
	defaultOrder string,
) (Sorting, bool) {
	s, err := ParseSorting(r, allowed, defaultField, defaultOrder)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return Sorting{}, false
	}
	return s, true
}

func parseBoolQueryOrWriteInvalid(w http.ResponseWriter, r *http.Request, key string) (*bool, bool) {
	v, err := ParseBoolQuery(r, key)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return nil, false
	}
	return v, true
}

func parseUintQueryOrWriteInvalid(w http.ResponseWriter, r *http.Request, key string, bitSize int) (*uint64, bool) {
	v, err := ParseUintQuery(r, key, bitSize)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return nil, false
	}
	return v, true
}

func decodeBodyOrWriteInvalid(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := DecodeBody(r, v); err != nil {
		writeDecodeBodyError(w, err)
		return false
	}
	return true
}

// parseLocationQuery reads a comma separated location such as
// "se,got,se-got-wg-001". Returns nil when the parameter is not present.
func parseLocationQuery(w http.ResponseWriter, r *http.Request, key string) (*relay.Location, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}
	loc, err := relay.ParseLocation(strings.Split(v, ","))
	if err != nil {
		writeInvalidArgument(w, fmt.Sprintf("%s: %v", key, err))
		return nil, false
	}
	return &loc, true
}
