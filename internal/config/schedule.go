package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Schedules holds the cadence of every background job. Each steady
// interval must exceed its retry interval.
type Schedules struct {
	AddressCacheUpdateInterval Duration `json:"address_cache_update_interval" yaml:"address_cache_update_interval"`
	AddressCacheRetryInterval  Duration `json:"address_cache_retry_interval" yaml:"address_cache_retry_interval"`
	KeyRotationInterval        Duration `json:"key_rotation_interval" yaml:"key_rotation_interval"`
	KeyRotationRetryInterval   Duration `json:"key_rotation_retry_interval" yaml:"key_rotation_retry_interval"`
	AccountExpiryPollInterval  Duration `json:"account_expiry_poll_interval" yaml:"account_expiry_poll_interval"`
	RelayListUpdateSchedule    string   `json:"relay_list_update_schedule" yaml:"relay_list_update_schedule"`
}

// DefaultSchedules returns the built-in job cadence.
func DefaultSchedules() Schedules {
	return Schedules{
		AddressCacheUpdateInterval: Duration(24 * time.Hour),
		AddressCacheRetryInterval:  Duration(15 * time.Minute),
		KeyRotationInterval:        Duration(4 * 24 * time.Hour),
		KeyRotationRetryInterval:   Duration(5 * time.Minute),
		AccountExpiryPollInterval:  Duration(time.Minute),
		RelayListUpdateSchedule:    "@every 1h",
	}
}

// LoadScheduleFile reads a YAML document and overlays the keys it sets on
// base. Unknown keys are rejected.
func LoadScheduleFile(path string, base Schedules) (Schedules, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, err
	}
	defer f.Close()

	out := base
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

func (s Schedules) validate() []string {
	var errs []string
	positive := []struct {
		name string
		d    Duration
	}{
		{"VPNCORE_ADDRESS_CACHE_UPDATE_INTERVAL", s.AddressCacheUpdateInterval},
		{"VPNCORE_ADDRESS_CACHE_RETRY_INTERVAL", s.AddressCacheRetryInterval},
		{"VPNCORE_KEY_ROTATION_INTERVAL", s.KeyRotationInterval},
		{"VPNCORE_KEY_ROTATION_RETRY_INTERVAL", s.KeyRotationRetryInterval},
		{"VPNCORE_ACCOUNT_EXPIRY_POLL_INTERVAL", s.AccountExpiryPollInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive", p.name))
		}
	}
	if s.AddressCacheRetryInterval >= s.AddressCacheUpdateInterval {
		errs = append(errs, "VPNCORE_ADDRESS_CACHE_RETRY_INTERVAL must be less than VPNCORE_ADDRESS_CACHE_UPDATE_INTERVAL")
	}
	if s.KeyRotationRetryInterval >= s.KeyRotationInterval {
		errs = append(errs, "VPNCORE_KEY_ROTATION_RETRY_INTERVAL must be less than VPNCORE_KEY_ROTATION_INTERVAL")
	}
	validateCron("VPNCORE_RELAY_LIST_UPDATE_SCHEDULE", s.RelayListUpdateSchedule, &errs)
	return errs
}
