package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseSorting(t *testing.T) {
	allowed := []string{"hostname", "country_code"}

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	s, err := ParseSorting(r, allowed, "hostname", "asc")
	if err != nil || s.SortBy != "hostname" || s.SortOrder != "asc" {
		t.Fatalf("defaults = %+v, %v", s, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/test?sort_by=country_code&sort_order=DESC", nil)
	s, err = ParseSorting(r, allowed, "hostname", "asc")
	if err != nil || s.SortBy != "country_code" || s.SortOrder != "desc" {
		t.Fatalf("custom = %+v, %v", s, err)
	}

	for _, q := range []string{"sort_by=weight", "sort_order=sideways"} {
		r = httptest.NewRequest(http.MethodGet, "/test?"+q, nil)
		if _, err := ParseSorting(r, allowed, "hostname", "asc"); err == nil {
			t.Errorf("%s: expected error", q)
		}
	}
}

func TestSortSlice(t *testing.T) {
	items := []string{"se-got-wg-001", "de-fra-wg-001", "us-nyc-wg-001"}
	SortSlice(items, Sorting{SortBy: "hostname", SortOrder: "asc"}, func(s string) string { return s })
	if items[0] != "de-fra-wg-001" || items[2] != "us-nyc-wg-001" {
		t.Errorf("asc order: %v", items)
	}
	SortSlice(items, Sorting{SortBy: "hostname", SortOrder: "desc"}, func(s string) string { return s })
	if items[0] != "us-nyc-wg-001" || items[2] != "de-fra-wg-001" {
		t.Errorf("desc order: %v", items)
	}

	unsorted := []string{"b", "a"}
	SortSlice(unsorted, Sorting{SortOrder: "asc"}, func(s string) string { return s })
	if unsorted[0] != "b" {
		t.Errorf("expected no sort without sort_by, got %v", unsorted)
	}
	SortSlice([]string(nil), Sorting{SortBy: "hostname"}, func(s string) string { return s })
}

func TestPaginateSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	if page := PaginateSlice(items, Pagination{Limit: 2, Offset: 3}); len(page) != 2 || page[0] != 4 {
		t.Fatalf("page = %v", page)
	}
	if page := PaginateSlice(items, Pagination{Limit: 10, Offset: 4}); len(page) != 1 {
		t.Fatalf("tail page = %v", page)
	}
	page := PaginateSlice([]string{}, Pagination{Limit: 50})
	if page == nil || len(page) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", page)
	}
}

func TestParsePagination(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	if p, err := ParsePagination(r); err != nil || p.Limit != defaultPageLimit || p.Offset != 0 {
		t.Fatalf("defaults = %+v, %v", p, err)
	}
	for _, q := range []string{"limit=-1", "limit=abc", "offset=-3", "limit=10001"} {
		r = httptest.NewRequest(http.MethodGet, "/test?"+q, nil)
		if _, err := ParsePagination(r); err == nil {
			t.Errorf("%s: expected error", q)
		}
	}
}

func TestParseUintQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test?port=51820&big=65536", nil)
	if v, err := ParseUintQuery(r, "port", 16); err != nil || v == nil || *v != 51820 {
		t.Fatalf("port = %v, %v", v, err)
	}
	if _, err := ParseUintQuery(r, "big", 16); err == nil {
		t.Fatal("expected overflow error")
	}
	if v, err := ParseUintQuery(r, "missing", 16); err != nil || v != nil {
		t.Fatalf("missing = %v, %v", v, err)
	}
}
