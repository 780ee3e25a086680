// Package config handles environment-based configuration loading and the
// background job schedule.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Default locations used when the corresponding variables are unset.
const (
	DefaultStateDir         = "/var/lib/vpncore"
	DefaultCacheDir         = "/var/cache/vpncore"
	DefaultTunnelIPCAddress = "/run/vpncore/tunnel.sock"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string
	CacheDir string

	// Management API
	ListenAddress   string
	APIPort         int
	APIMaxBodyBytes int
	AdminToken      string

	// Account service
	AccountAPIURL string
	RPCTimeout    time.Duration

	// Tunnel runtime IPC
	TunnelIPCNetwork  string
	TunnelIPCAddress  string
	TunnelIPCMaxConns int

	// Background jobs
	ScheduleFile string
	Schedules    Schedules
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("VPNCORE_STATE_DIR", DefaultStateDir)
	cfg.CacheDir = envStr("VPNCORE_CACHE_DIR", DefaultCacheDir)

	// --- Management API ---
	cfg.ListenAddress = strings.TrimSpace(envStr("VPNCORE_LISTEN_ADDRESS", "127.0.0.1"))
	cfg.APIPort = envInt("VPNCORE_API_PORT", 1180, &errs)
	cfg.APIMaxBodyBytes = envInt("VPNCORE_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Account service ---
	cfg.AccountAPIURL = strings.TrimSpace(envStr("VPNCORE_ACCOUNT_API_URL", "https://api.vpncore.net/rpc/"))
	cfg.RPCTimeout = envDuration("VPNCORE_RPC_TIMEOUT", 15*time.Second, &errs)

	// --- Tunnel runtime IPC ---
	cfg.TunnelIPCNetwork = envStr("VPNCORE_TUNNEL_IPC_NETWORK", "unix")
	cfg.TunnelIPCAddress = envStr("VPNCORE_TUNNEL_IPC_ADDRESS", DefaultTunnelIPCAddress)
	cfg.TunnelIPCMaxConns = envInt("VPNCORE_TUNNEL_IPC_MAX_CONNS", 8, &errs)

	// --- Background jobs: defaults, then the schedule file, then env ---
	cfg.Schedules = DefaultSchedules()
	cfg.ScheduleFile = strings.TrimSpace(envStr("VPNCORE_SCHEDULE_FILE", ""))
	if cfg.ScheduleFile != "" {
		s, err := LoadScheduleFile(cfg.ScheduleFile, cfg.Schedules)
		if err != nil {
			errs = append(errs, fmt.Sprintf("VPNCORE_SCHEDULE_FILE: %v", err))
		} else {
			cfg.Schedules = s
		}
	}
	s := &cfg.Schedules
	s.AddressCacheUpdateInterval = Duration(envDuration("VPNCORE_ADDRESS_CACHE_UPDATE_INTERVAL", s.AddressCacheUpdateInterval.Std(), &errs))
	s.AddressCacheRetryInterval = Duration(envDuration("VPNCORE_ADDRESS_CACHE_RETRY_INTERVAL", s.AddressCacheRetryInterval.Std(), &errs))
	s.KeyRotationInterval = Duration(envDuration("VPNCORE_KEY_ROTATION_INTERVAL", s.KeyRotationInterval.Std(), &errs))
	s.KeyRotationRetryInterval = Duration(envDuration("VPNCORE_KEY_ROTATION_RETRY_INTERVAL", s.KeyRotationRetryInterval.Std(), &errs))
	s.AccountExpiryPollInterval = Duration(envDuration("VPNCORE_ACCOUNT_EXPIRY_POLL_INTERVAL", s.AccountExpiryPollInterval.Std(), &errs))
	s.RelayListUpdateSchedule = envStr("VPNCORE_RELAY_LIST_UPDATE_SCHEDULE", s.RelayListUpdateSchedule)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("VPNCORE_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "VPNCORE_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "VPNCORE_LISTEN_ADDRESS must not be empty")
	}
	if cfg.StateDir == "" {
		errs = append(errs, "VPNCORE_STATE_DIR must not be empty")
	}
	if cfg.CacheDir == "" {
		errs = append(errs, "VPNCORE_CACHE_DIR must not be empty")
	}
	validatePort("VPNCORE_API_PORT", cfg.APIPort, &errs)
	validatePositive("VPNCORE_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)

	if u, err := url.Parse(cfg.AccountAPIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("VPNCORE_ACCOUNT_API_URL: invalid http(s) URL %q", cfg.AccountAPIURL))
	}
	if cfg.RPCTimeout <= 0 {
		errs = append(errs, "VPNCORE_RPC_TIMEOUT must be positive")
	}

	switch cfg.TunnelIPCNetwork {
	case "unix", "tcp":
	default:
		errs = append(errs, fmt.Sprintf("VPNCORE_TUNNEL_IPC_NETWORK: invalid value %q (allowed: unix, tcp)", cfg.TunnelIPCNetwork))
	}
	if strings.TrimSpace(cfg.TunnelIPCAddress) == "" {
		errs = append(errs, "VPNCORE_TUNNEL_IPC_ADDRESS must not be empty")
	}
	validatePositive("VPNCORE_TUNNEL_IPC_MAX_CONNS", cfg.TunnelIPCMaxConns, &errs)

	errs = append(errs, cfg.Schedules.validate()...)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

// EnvString returns the value of key, or defaultVal when it is unset. It
// serves tools that need a single variable without full validation.
func EnvString(key, defaultVal string) string {
	return envStr(key, defaultVal)
}

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validateCron(name, expr string, errs *[]string) {
	if _, err := cron.ParseStandard(expr); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid cron expression %q: %v", name, expr, err))
	}
}
