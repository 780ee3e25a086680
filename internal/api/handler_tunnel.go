package api

import (
	"net/http"

	"github.com/Resinat/vpncore/internal/relay"
	"github.com/Resinat/vpncore/internal/service"
)

// HandleTunnelStatus returns a handler for GET /api/v1/tunnel/status.
func HandleTunnelStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := cp.TunnelStatus(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

type reloadTunnelRequest struct {
	Reconnect bool          `json:"reconnect"`
	Relay     *relay.Result `json:"relay,omitempty"`
}

// HandleReloadTunnel returns a handler for POST /api/v1/tunnel/actions/reload.
// The body is optional.
func HandleReloadTunnel(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body reloadTunnelRequest
		if r.ContentLength != 0 && !decodeBodyOrWriteInvalid(w, r, &body) {
			return
		}
		err := cp.ReloadTunnel(r.Context(), service.ReloadTunnelRequest{
			Reconnect: body.Reconnect,
			Relay:     body.Relay,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
