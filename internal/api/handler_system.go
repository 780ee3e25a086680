package api

import (
	"net/http"

	"github.com/Resinat/vpncore/internal/config"
	"github.com/Resinat/vpncore/internal/service"
)

// HandleHealthz returns a handler for GET /healthz.
// No authentication is required.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo(info service.SystemInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}

type envConfigResponse struct {
	StateDir          string           `json:"state_dir"`
	CacheDir          string           `json:"cache_dir"`
	ListenAddress     string           `json:"listen_address"`
	APIPort           int              `json:"api_port"`
	APIMaxBodyBytes   int              `json:"api_max_body_bytes"`
	AccountAPIURL     string           `json:"account_api_url"`
	RPCTimeout        config.Duration  `json:"rpc_timeout"`
	TunnelIPCNetwork  string           `json:"tunnel_ipc_network"`
	TunnelIPCAddress  string           `json:"tunnel_ipc_address"`
	TunnelIPCMaxConns int              `json:"tunnel_ipc_max_conns"`
	ScheduleFile      string           `json:"schedule_file,omitempty"`
	Schedules         config.Schedules `json:"schedules"`
}

// HandleSystemEnvConfig returns a handler for GET /api/v1/system/config/env.
// The admin token is never included.
func HandleSystemEnvConfig(envCfg *config.EnvConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, envConfigResponse{
			StateDir:          envCfg.StateDir,
			CacheDir:          envCfg.CacheDir,
			ListenAddress:     envCfg.ListenAddress,
			APIPort:           envCfg.APIPort,
			APIMaxBodyBytes:   envCfg.APIMaxBodyBytes,
			AccountAPIURL:     envCfg.AccountAPIURL,
			RPCTimeout:        config.Duration(envCfg.RPCTimeout),
			TunnelIPCNetwork:  envCfg.TunnelIPCNetwork,
			TunnelIPCAddress:  envCfg.TunnelIPCAddress,
			TunnelIPCMaxConns: envCfg.TunnelIPCMaxConns,
			ScheduleFile:      envCfg.ScheduleFile,
			Schedules:         envCfg.Schedules,
		})
	}
}
