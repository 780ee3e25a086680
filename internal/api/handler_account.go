package api

import (
	"net/http"

	"github.com/Resinat/vpncore/internal/service"
)

type setAccountRequest struct {
	Token string `json:"token"`
}

// HandleSetAccount returns a handler for PUT /api/v1/account.
func HandleSetAccount(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body setAccountRequest
		if !decodeBodyOrWriteInvalid(w, r, &body) {
			return
		}
		status, err := cp.SetAccount(r.Context(), body.Token)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

// HandleClearAccount returns a handler for DELETE /api/v1/account.
func HandleClearAccount(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cp.ClearAccount(r.Context()); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleAccountExpiry returns a handler for GET /api/v1/account/expiry.
func HandleAccountExpiry(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := cp.AccountExpiry(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

// HandleRotateKey returns a handler for
// POST /api/v1/keys/actions/rotate.
func HandleRotateKey(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := cp.RotateKeyNow(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

// HandleRefreshAPIAddresses returns a handler for
// POST /api/v1/api-addresses/actions/refresh. With force=true the refresh
// runs even when it is not due.
func HandleRefreshAPIAddresses(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, ok := parseBoolQueryOrWriteInvalid(w, r, "force")
		if !ok {
			return
		}
		status, err := cp.RefreshAPIAddresses(r.Context(), force != nil && *force)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}
