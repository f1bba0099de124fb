// Package config handles TOML configuration parsing and validation for
// acd-hostd.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for acd-hostd.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Interfaces []InterfaceConfig `toml:"interface"`
	Hooks      HooksConfig      `toml:"hooks"`
	Syslog     SyslogConfig     `toml:"syslog"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	LogLevel      string `toml:"log_level"`
	HistoryDB     string `toml:"history_db"`
	PIDFile       string `toml:"pid_file"`
	MetricsListen string `toml:"metrics_listen"`
	VendorDB      string `toml:"vendor_db"`
}

// InterfaceConfig describes one network interface to run an ACD host on.
type InterfaceConfig struct {
	Name   string       `toml:"name"`
	IP     string       `toml:"ip"`
	Tuning TuningConfig `toml:"tuning"`
}

// TuningConfig overrides the RFC 5227 timing constants for one interface.
// Any field left at its zero value falls back to the RFC default.
type TuningConfig struct {
	ProbeWait         string `toml:"probe_wait"`
	ProbeNum          int    `toml:"probe_num"`
	ProbeMin          string `toml:"probe_min"`
	ProbeMax          string `toml:"probe_max"`
	AnnounceWait      string `toml:"announce_wait"`
	AnnounceNum       int    `toml:"announce_num"`
	AnnounceInterval  string `toml:"announce_interval"`
	MaxConflicts      int    `toml:"max_conflicts"`
	RateLimitInterval string `toml:"rate_limit_interval"`
	DefendInterval    string `toml:"defend_interval"`
}

// HooksConfig holds event hook settings.
type HooksConfig struct {
	EventBufferSize   int           `toml:"event_buffer_size"`
	ScriptConcurrency int           `toml:"script_concurrency"`
	ScriptTimeout     string        `toml:"script_timeout"`
	Scripts           []ScriptHook  `toml:"script"`
	Webhooks          []WebhookHook `toml:"webhook"`
}

// ScriptHook defines a script hook binding.
type ScriptHook struct {
	Name       string   `toml:"name"`
	Events     []string `toml:"events"`
	Command    string   `toml:"command"`
	Timeout    string   `toml:"timeout"`
	Interfaces []string `toml:"interfaces"`
}

// WebhookHook defines a webhook hook binding.
type WebhookHook struct {
	Name         string            `toml:"name"`
	Events       []string          `toml:"events"`
	URL          string            `toml:"url"`
	Method       string            `toml:"method"`
	Headers      map[string]string `toml:"headers"`
	Timeout      string            `toml:"timeout"`
	Retries      int               `toml:"retries"`
	RetryBackoff string            `toml:"retry_backoff"`
	Secret       string            `toml:"secret"`
	Template     string            `toml:"template"`
}

// SyslogConfig configures forwarding of ACD events to a SIEM: a remote
// syslog endpoint, an HTTP/HEC collector, a local rotating file, or any
// combination of the three. Leaving Address, HTTPEndpoint, and FilePath
// all empty disables forwarding entirely.
type SyslogConfig struct {
	Tag      string `toml:"tag"`
	Protocol string `toml:"protocol"`
	Facility int    `toml:"facility"`
	Format   string `toml:"format"`
	Address  string `toml:"address"`

	CEFDeviceVendor  string `toml:"cef_device_vendor"`
	CEFDeviceProduct string `toml:"cef_device_product"`
	CEFDeviceVersion string `toml:"cef_device_version"`

	HTTPEnabled  bool              `toml:"http_enabled"`
	HTTPEndpoint string            `toml:"http_endpoint"`
	HTTPTimeout  string            `toml:"http_timeout"`
	HTTPInsecure bool              `toml:"http_insecure"`
	HTTPToken    string            `toml:"http_token"`
	HTTPHeaders  map[string]string `toml:"http_headers"`

	FileEnabled    bool   `toml:"file_enabled"`
	FilePath       string `toml:"file_path"`
	FileMaxSizeMB  int    `toml:"file_max_size_mb"`
	FileMaxBackups int    `toml:"file_max_backups"`
}

// Enabled reports whether any syslog output is configured.
func (s SyslogConfig) Enabled() bool {
	return s.Address != "" || (s.HTTPEnabled && s.HTTPEndpoint != "") || (s.FileEnabled && s.FilePath != "")
}

// Load reads, defaults, and validates a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-valued fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.HistoryDB == "" {
		cfg.Server.HistoryDB = DefaultHistoryDB
	}
	if cfg.Server.PIDFile == "" {
		cfg.Server.PIDFile = DefaultPIDFile
	}
	if cfg.Server.MetricsListen == "" {
		cfg.Server.MetricsListen = DefaultMetricsListen
	}

	if cfg.Hooks.EventBufferSize == 0 {
		cfg.Hooks.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.Hooks.ScriptConcurrency == 0 {
		cfg.Hooks.ScriptConcurrency = DefaultScriptConcurrency
	}
	if cfg.Hooks.ScriptTimeout == "" {
		cfg.Hooks.ScriptTimeout = DefaultScriptTimeout.String()
	}
	for i := range cfg.Hooks.Webhooks {
		w := &cfg.Hooks.Webhooks[i]
		if w.Retries == 0 {
			w.Retries = DefaultWebhookRetries
		}
		if w.RetryBackoff == "" {
			w.RetryBackoff = DefaultWebhookRetryBackoff.String()
		}
	}

	for i := range cfg.Interfaces {
		t := &cfg.Interfaces[i].Tuning
		if t.ProbeWait == "" {
			t.ProbeWait = DefaultProbeWait.String()
		}
		if t.ProbeNum == 0 {
			t.ProbeNum = DefaultProbeNum
		}
		if t.ProbeMin == "" {
			t.ProbeMin = DefaultProbeMin.String()
		}
		if t.ProbeMax == "" {
			t.ProbeMax = DefaultProbeMax.String()
		}
		if t.AnnounceWait == "" {
			t.AnnounceWait = DefaultAnnounceWait.String()
		}
		if t.AnnounceNum == 0 {
			t.AnnounceNum = DefaultAnnounceNum
		}
		if t.AnnounceInterval == "" {
			t.AnnounceInterval = DefaultAnnounceInterval.String()
		}
		if t.MaxConflicts == 0 {
			t.MaxConflicts = DefaultMaxConflicts
		}
		if t.RateLimitInterval == "" {
			t.RateLimitInterval = DefaultRateLimitInterval.String()
		}
		if t.DefendInterval == "" {
			t.DefendInterval = DefaultDefendInterval.String()
		}
	}
}

// validate checks that the parsed config is internally consistent.
func validate(cfg *Config) error {
	if len(cfg.Interfaces) == 0 {
		return fmt.Errorf("at least one [[interface]] is required")
	}

	seen := make(map[string]bool, len(cfg.Interfaces))
	for i, ifc := range cfg.Interfaces {
		if ifc.Name == "" {
			return fmt.Errorf("interface[%d]: name is required", i)
		}
		if seen[ifc.Name] {
			return fmt.Errorf("interface[%d]: duplicate interface name %q", i, ifc.Name)
		}
		seen[ifc.Name] = true

		if ifc.IP == "" {
			return fmt.Errorf("interface[%d] (%s): ip is required", i, ifc.Name)
		}
		ip := net.ParseIP(ifc.IP)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("interface[%d] (%s): ip %q is not a valid IPv4 address", i, ifc.Name, ifc.IP)
		}

		if err := validateTuning(ifc.Name, ifc.Tuning); err != nil {
			return err
		}
	}

	for i, w := range cfg.Hooks.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("hooks.webhook[%d]: url is required", i)
		}
		if _, err := time.ParseDuration(w.RetryBackoff); err != nil {
			return fmt.Errorf("hooks.webhook[%d].retry_backoff: %w", i, err)
		}
	}

	if _, err := time.ParseDuration(cfg.Hooks.ScriptTimeout); err != nil {
		return fmt.Errorf("hooks.script_timeout: %w", err)
	}

	if cfg.Syslog.HTTPEnabled && cfg.Syslog.HTTPTimeout != "" {
		if _, err := time.ParseDuration(cfg.Syslog.HTTPTimeout); err != nil {
			return fmt.Errorf("syslog.http_timeout: %w", err)
		}
	}
	if cfg.Syslog.Address != "" && cfg.Syslog.Protocol != "" && cfg.Syslog.Protocol != "udp" && cfg.Syslog.Protocol != "tcp" {
		return fmt.Errorf("syslog.protocol must be \"udp\" or \"tcp\", got %q", cfg.Syslog.Protocol)
	}

	return nil
}

func validateTuning(ifname string, t TuningConfig) error {
	fields := map[string]string{
		"probe_wait":          t.ProbeWait,
		"probe_min":           t.ProbeMin,
		"probe_max":           t.ProbeMax,
		"announce_wait":       t.AnnounceWait,
		"announce_interval":   t.AnnounceInterval,
		"rate_limit_interval": t.RateLimitInterval,
		"defend_interval":     t.DefendInterval,
	}
	for name, v := range fields {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("interface %s: tuning.%s: %w", ifname, name, err)
		}
	}
	if t.ProbeNum <= 0 {
		return fmt.Errorf("interface %s: tuning.probe_num must be positive", ifname)
	}
	if t.AnnounceNum <= 0 {
		return fmt.Errorf("interface %s: tuning.announce_num must be positive", ifname)
	}
	if t.MaxConflicts <= 0 {
		return fmt.Errorf("interface %s: tuning.max_conflicts must be positive", ifname)
	}
	return nil
}

// Resolved returns the time.Duration equivalents of a TuningConfig, for
// handing to acd.Tuning. Load has already validated every duration field
// parses, so errors here would indicate a programming mistake, not bad
// input.
func (t TuningConfig) Resolved() (probeWait, probeMin, probeMax, announceWait, announceInterval, rateLimitInterval, defendInterval time.Duration) {
	probeWait = mustParse(t.ProbeWait)
	probeMin = mustParse(t.ProbeMin)
	probeMax = mustParse(t.ProbeMax)
	announceWait = mustParse(t.AnnounceWait)
	announceInterval = mustParse(t.AnnounceInterval)
	rateLimitInterval = mustParse(t.RateLimitInterval)
	defendInterval = mustParse(t.DefendInterval)
	return
}

func mustParse(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: invalid duration %q slipped past validate: %v", s, err))
	}
	return d
}
