package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file settings.
// GATEWAY_SERVER__ADMIN_PORT sets server.admin_port.
const EnvPrefix = "GATEWAY_"

// EntryConfig is one entry of a declarative stack. Exactly one of Use, Run
// and Map is set.
type EntryConfig struct {
	Name  string         `koanf:"name"`
	Label string         `koanf:"label"`
	Use   string         `koanf:"use"` // middleware kind
	Run   string         `koanf:"run"` // terminal handler kind
	Map   []EntryConfig  `koanf:"map"` // nested stack
	Args  map[string]any `koanf:"args"`
	When  map[string]any `koanf:"when"`
	Trace *bool          `koanf:"trace"` // nil means traced
}

// Traced reports whether the entry shows up in stack traces.
func (e EntryConfig) Traced() bool {
	return e.Trace == nil || *e.Trace
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Port      int `koanf:"port"`
	AdminPort int `koanf:"admin_port"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// HealthCheckConfig holds health check settings.
type HealthCheckConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// DashboardConfig holds request capture settings.
type DashboardConfig struct {
	LogCapacity int `koanf:"log_capacity"`
}

// AnalyticsConfig holds per-entry traffic bucket settings.
type AnalyticsConfig struct {
	Retention time.Duration `koanf:"retention"`
}

// TelemetryConfig controls the OpenTelemetry tracer provider.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// Config is the top-level configuration for the gateway.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	HealthCheck HealthCheckConfig `koanf:"healthcheck"`
	Dashboard   DashboardConfig   `koanf:"dashboard"`
	Analytics   AnalyticsConfig   `koanf:"analytics"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Stack       []EntryConfig     `koanf:"stack"`
}

var defaults = map[string]any{
	"server.port":            8080,
	"server.admin_port":      8081,
	"log.level":              "info",
	"log.format":             "text",
	"healthcheck.interval":   "10s",
	"dashboard.log_capacity": 1000,
	"analytics.retention":    "48h",
	"telemetry.service_name": "stackgate",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig reads a YAML config file, applies GATEWAY_ environment
// overrides and defaults, and expands ${VAR} references in stack args.
func LoadConfig(filename string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(filename), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	expandEntries(cfg.Stack)
	return &cfg, nil
}

func expandEntries(entries []EntryConfig) {
	for i := range entries {
		for key, v := range entries[i].Args {
			entries[i].Args[key] = expand(v)
		}
		expandEntries(entries[i].Map)
	}
}

// expand substitutes ${VAR} in every string reachable from v.
func expand(v any) any {
	switch v := v.(type) {
	case string:
		return substituteEnvVars(v)
	case []any:
		for i := range v {
			v[i] = expand(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = expand(v[k])
		}
		return v
	}
	return v
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}
