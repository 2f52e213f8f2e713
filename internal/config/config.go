package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Source  SourceConfig  `mapstructure:"source"`
	Layout  LayoutConfig  `mapstructure:"layout"`
	Graph   GraphConfig   `mapstructure:"graph"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Secrets SecretsConfig `mapstructure:"secrets"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	KeepAlive       time.Duration `mapstructure:"keep_alive"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ScanConfig struct {
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	Autostart      bool          `mapstructure:"autostart"`
	DeriveBioLinks bool          `mapstructure:"derive_bio_links"`
	// Targets are queued when the server starts.
	Targets []string `mapstructure:"targets"`
}

// Source kinds.
const (
	SourceWS    = "ws"
	SourceJSONL = "jsonl"
)

type SourceConfig struct {
	Kind             string        `mapstructure:"kind"`
	Dir              string        `mapstructure:"dir"`
	URL              string        `mapstructure:"url"`
	Depth            int           `mapstructure:"depth"`
	Delay            time.Duration `mapstructure:"delay"`
	Recursive        bool          `mapstructure:"recursive"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// Layout backends.
const (
	LayoutMemory = "memory"
	LayoutBadger = "badger"
)

type LayoutConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// Enabled reports whether a graph database is configured.
func (g GraphConfig) Enabled() bool { return g.URI != "" }

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output"`
}

// SecretsConfig selects where unset graph credentials are looked up.
type SecretsConfig struct {
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
}

var defaults = map[string]any{
	"server.addr":              ":9090",
	"server.keep_alive":        "30s",
	"server.shutdown_timeout":  "30s",
	"scan.settle_delay":        "2s",
	"scan.autostart":           true,
	"scan.derive_bio_links":    false,
	"scan.targets":             []string{},
	"source.kind":              SourceWS,
	"source.dir":               "",
	"source.url":               "ws://localhost:8000/ws/scan/{target}",
	"source.depth":             1,
	"source.delay":             "1.5s",
	"source.recursive":         false,
	"source.handshake_timeout": "10s",
	"layout.backend":           LayoutMemory,
	"layout.path":              "",
	"layout.sync_writes":       false,
	"graph.uri":                "",
	"graph.username":           "",
	"graph.password":           "",
	"graph.database":           "",
	"log.level":                "info",
	"log.format":               "text",
	"tracing.endpoint":         "",
	"tracing.environment":      "development",
	"tracing.sample_rate":      1.0,
	"audit.enabled":            false,
	"audit.output":             "stderr",
	"secrets.provider":         "env",
	"secrets.dir":              "",
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Source.Kind {
	case SourceWS:
		if !strings.Contains(c.Source.URL, "{target}") {
			warnings = append(warnings, fmt.Sprintf("source url %q has no {target} placeholder", c.Source.URL))
		}
	case SourceJSONL:
		if c.Source.Dir == "" {
			warnings = append(warnings, "jsonl source is configured but dir is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown source kind '%s'", c.Source.Kind))
	}

	if c.Source.Depth < 0 {
		warnings = append(warnings, fmt.Sprintf("source depth %d is negative", c.Source.Depth))
	}

	if c.Scan.SettleDelay < 0 {
		warnings = append(warnings, fmt.Sprintf("scan settle_delay %s is negative", c.Scan.SettleDelay))
	}

	switch c.Layout.Backend {
	case LayoutMemory, "":
	case LayoutBadger:
		if c.Layout.Path == "" {
			warnings = append(warnings, "badger layout backend is configured but path is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown layout backend '%s'", c.Layout.Backend))
	}

	switch c.Secrets.Provider {
	case "env", "":
	case "dir":
		if c.Secrets.Dir == "" {
			warnings = append(warnings, "dir secrets provider is configured but dir is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown secrets provider '%s'", c.Secrets.Provider))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from an optional file and the environment.
// GIFTMAP_SCAN_SETTLE_DELAY overrides scan.settle_delay, and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("GIFTMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
