package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/Resinat/vpncore/internal/config"
	"github.com/Resinat/vpncore/internal/service"
)

// Server wraps the HTTP server and mux for the management API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
// cp may be nil if the control plane is not yet initialized.
func NewServer(envCfg *config.EnvConfig, systemInfo service.SystemInfo, cp *service.ControlPlaneService) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	// Authenticated routes
	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/system/info", HandleSystemInfo(systemInfo))
	authed.Handle("GET /api/v1/system/config/env", HandleSystemEnvConfig(envCfg))

	if cp != nil {
		// Relays.
		authed.Handle("GET /api/v1/relays", HandleListRelays(cp))
		authed.Handle("GET /api/v1/relays/select", HandleSelectRelay(cp))

		// Account and per-account settings.
		authed.Handle("PUT /api/v1/account", HandleSetAccount(cp))
		authed.Handle("DELETE /api/v1/account", HandleClearAccount(cp))
		authed.Handle("GET /api/v1/account/expiry", HandleAccountExpiry(cp))
		authed.Handle("POST /api/v1/keys/actions/rotate", HandleRotateKey(cp))
		authed.Handle("PUT /api/v1/settings/relay-constraints", HandleSetRelayConstraints(cp))

		// Tunnel runtime.
		authed.Handle("GET /api/v1/tunnel/status", HandleTunnelStatus(cp))
		authed.Handle("POST /api/v1/tunnel/actions/reload", HandleReloadTunnel(cp))

		// Account service addresses.
		authed.Handle("POST /api/v1/api-addresses/actions/refresh", HandleRefreshAPIAddresses(cp))
	}

	limitedAuthed := RequestBodyLimitMiddleware(int64(envCfg.APIMaxBodyBytes), authed)
	mux.Handle("/api/", AuthMiddleware(envCfg.AdminToken, limitedAuthed))

	srv := &http.Server{
		Addr:              net.JoinHostPort(envCfg.ListenAddress, strconv.Itoa(envCfg.APIPort)),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln. It blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
