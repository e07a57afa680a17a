// Package config loads the tagscope configuration from an optional file and
// TAGSCOPE_* environment variables.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/Resinat/Tagscope/internal/device"
	"github.com/Resinat/Tagscope/internal/session"
)

// EnvPrefix prefixes every environment override, e.g. TAGSCOPE_PORT.
const EnvPrefix = "TAGSCOPE"

// Config holds every setting. Field tags name the file keys; environment
// variables use the upper-cased key with EnvPrefix.
type Config struct {
	// Device
	Device  string `mapstructure:"device"`
	SimSeed uint64 `mapstructure:"sim_seed"`

	// Directories
	StateDir  string `mapstructure:"state_dir"`
	ExportDir string `mapstructure:"export_dir"`

	// HTTP
	ListenAddress   string `mapstructure:"listen_address"`
	Port            int    `mapstructure:"port"`
	APIMaxBodyBytes int    `mapstructure:"api_max_body_bytes"`
	AdminToken      string `mapstructure:"admin_token"`

	LogLevel string `mapstructure:"log_level"`

	// Live view
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	WindowCapacity int           `mapstructure:"window_capacity"`
	LiveChannels   []int         `mapstructure:"live_channels"`

	// Acquisition
	ExposureMs            int `mapstructure:"exposure_ms"`
	CoincidenceWindowBins int `mapstructure:"coincidence_window_bins"`

	// Heralded g2
	Hg2Idler    int           `mapstructure:"hg2_idler"`
	Hg2Channel1 int           `mapstructure:"hg2_channel1"`
	Hg2Channel2 int           `mapstructure:"hg2_channel2"`
	Hg2BinWidth int           `mapstructure:"hg2_bin_width"`
	Hg2BinCount int           `mapstructure:"hg2_bin_count"`
	Hg2Wait     time.Duration `mapstructure:"hg2_wait"`
	// Hg2Schedule is a 5-field cron spec; empty disables scheduled captures.
	Hg2Schedule string `mapstructure:"hg2_schedule"`

	// Charts
	ChartWidth        int `mapstructure:"chart_width"`
	ChartHeight       int `mapstructure:"chart_height"`
	ChartCacheEntries int `mapstructure:"chart_cache_entries"`

	// Source is the config file that was read, empty when none was found.
	Source string `mapstructure:"-"`
}

var defaults = map[string]any{
	"device":                  device.KindSimulator,
	"sim_seed":                1,
	"state_dir":               "/var/lib/tagscope",
	"export_dir":              ".",
	"listen_address":          "0.0.0.0",
	"port":                    2270,
	"api_max_body_bytes":      1 << 20,
	"admin_token":             "",
	"log_level":               "info",
	"poll_interval":           "100ms",
	"window_capacity":         30,
	"live_channels":           []int{1, 2},
	"exposure_ms":             100,
	"coincidence_window_bins": 1000,
	"hg2_idler":               1,
	"hg2_channel1":            2,
	"hg2_channel2":            3,
	"hg2_bin_width":           12,
	"hg2_bin_count":           256,
	"hg2_wait":                "5s",
	"hg2_schedule":            "",
	"chart_width":             1000,
	"chart_height":            700,
	"chart_cache_entries":     64,
}

// Load reads path, or tagscope.{yaml,toml,json} from /etc/tagscope and the
// working directory when path is empty, applies environment overrides and
// validates the result. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tagscope")
		v.AddConfigPath("/etc/tagscope")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.Source = v.ConfigFileUsed()
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	cfg.Hg2Schedule = strings.TrimSpace(cfg.Hg2Schedule)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(device.Kinds(), c.Device) {
		errs = append(errs, fmt.Sprintf("device: unknown driver %q (allowed: %s)", c.Device, strings.Join(device.Kinds(), ", ")))
	}
	if c.StateDir == "" {
		errs = append(errs, "state_dir must not be empty")
	}
	if c.ExportDir == "" {
		errs = append(errs, "export_dir must not be empty")
	}
	if c.ListenAddress == "" {
		errs = append(errs, "listen_address must not be empty")
	}
	validatePort("port", c.Port, &errs)
	validatePositive("api_max_body_bytes", c.APIMaxBodyBytes, &errs)
	if IsWeakToken(c.AdminToken) {
		errs = append(errs, "admin_token is too weak; use a long random token or leave it empty to disable auth")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("log_level: %v", err))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be positive")
	}
	validatePositive("window_capacity", c.WindowCapacity, &errs)
	if len(c.LiveChannels) == 0 {
		errs = append(errs, "live_channels must not be empty")
	}
	seen := make(map[int]bool, len(c.LiveChannels))
	for _, ch := range c.LiveChannels {
		if ch < 0 || ch >= device.CounterCount {
			errs = append(errs, fmt.Sprintf("live_channels: counter index %d outside 0-%d", ch, device.CounterCount-1))
		}
		if seen[ch] {
			errs = append(errs, fmt.Sprintf("live_channels: duplicate counter index %d", ch))
		}
		seen[ch] = true
	}

	if c.ExposureMs < 0 || c.ExposureMs > device.MaxExposureMs {
		errs = append(errs, fmt.Sprintf("exposure_ms must be 0-%d, got %d", device.MaxExposureMs, c.ExposureMs))
	}
	validatePositive("coincidence_window_bins", c.CoincidenceWindowBins, &errs)

	validateChannel("hg2_idler", c.Hg2Idler, &errs)
	validateChannel("hg2_channel1", c.Hg2Channel1, &errs)
	validateChannel("hg2_channel2", c.Hg2Channel2, &errs)
	validateRange("hg2_bin_width", c.Hg2BinWidth, 1, device.MaxHg2BinWidth, &errs)
	validateRange("hg2_bin_count", c.Hg2BinCount, 1, device.MaxHg2BinCount, &errs)
	if c.Hg2Wait <= 0 || c.Hg2Wait > session.MaxHg2Wait {
		errs = append(errs, fmt.Sprintf("hg2_wait must be in (0, %s], got %s", session.MaxHg2Wait, c.Hg2Wait))
	}
	if c.Hg2Schedule != "" {
		if _, err := cron.ParseStandard(c.Hg2Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("hg2_schedule: invalid cron expression %q: %v", c.Hg2Schedule, err))
		}
	}

	validatePositive("chart_width", c.ChartWidth, &errs)
	validatePositive("chart_height", c.ChartHeight, &errs)
	validatePositive("chart_cache_entries", c.ChartCacheEntries, &errs)

	if len(errs) > 0 {
		return errors.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.Port)
}

// --- helpers ---

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

func validateRange(name string, value, lo, hi int, errs *[]string) {
	if value < lo || value > hi {
		*errs = append(*errs, fmt.Sprintf("%s: must be %d-%d, got %d", name, lo, hi, value))
	}
}

func validateChannel(name string, value int, errs *[]string) {
	if value < 1 || value > device.MaxChannel {
		*errs = append(*errs, fmt.Sprintf("%s: channel must be 1-%d, got %d", name, device.MaxChannel, value))
	}
}
