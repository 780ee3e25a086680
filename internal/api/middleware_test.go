package api

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   int
		reason string
	}{
		{name: "valid", header: "Bearer secret-token", want: http.StatusOK},
		{name: "missing", header: "", want: http.StatusUnauthorized, reason: "missing Authorization header"},
		{name: "wrong token", header: "Bearer wrong-token", want: http.StatusUnauthorized, reason: "invalid admin token"},
		{name: "prefix of token", header: "Bearer secret", want: http.StatusUnauthorized, reason: "invalid admin token"},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", want: http.StatusUnauthorized, reason: "invalid Authorization header format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := AuthMiddleware("secret-token", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("status: got %d, want %d", rec.Code, tc.want)
			}
			if tc.reason != "" {
				assertBodyContains(t, rec, "UNAUTHORIZED")
				assertBodyContains(t, rec, tc.reason)
			}
		})
	}
}

func TestRequestBodyLimitMiddleware(t *testing.T) {
	handler := RequestBodyLimitMiddleware(4, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		var maxErr *http.MaxBytesError
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.As(err, &maxErr):
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		default:
			t.Fatalf("unexpected read error: %v", err)
		}
	}))

	for body, want := range map[string]int{
		"1234":  http.StatusOK,
		"12345": http.StatusRequestEntityTooLarge,
	} {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("body %q: status got %d, want %d", body, rec.Code, want)
		}
	}
}

func TestRequestBodyLimitMiddleware_DisabledWhenNonPositive(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if got := RequestBodyLimitMiddleware(0, next); got == nil {
		t.Fatal("nil handler")
	}
}

func assertBodyContains(t *testing.T, rec *httptest.ResponseRecorder, substr string) {
	t.Helper()
	body := rec.Body.String()
	if !strings.Contains(body, substr) {
		t.Errorf("body %q does not contain %q", body, substr)
	}
}
