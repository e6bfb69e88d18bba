package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, v any) string {
	t.Helper()
	data, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"server":      map[string]any{"port": 9000},
		"healthcheck": map[string]any{"interval": "3s"},
		"stack": []any{
			map[string]any{"use": "request_id", "trace": false},
			map[string]any{
				"use":  "ratelimit",
				"name": "limiter",
				"args": map[string]any{"max_tokens": 5},
				"when": map[string]any{"path": map[string]any{"pattern": "^/api"}},
			},
			map[string]any{
				"map": []any{
					map[string]any{"run": "respond", "args": map[string]any{"body": "nested"}},
				},
				"when": map[string]any{"method": []any{"GET", "HEAD"}},
			},
		},
	})

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.AdminPort != 8081 {
		t.Errorf("Expected default admin port 8081, got %d", cfg.Server.AdminPort)
	}
	if cfg.HealthCheck.Interval != 3*time.Second {
		t.Errorf("Expected interval 3s, got %s", cfg.HealthCheck.Interval)
	}
	if cfg.Log.Level != "info" || cfg.Dashboard.LogCapacity != 1000 {
		t.Errorf("Expected defaults, got log=%+v dashboard=%+v", cfg.Log, cfg.Dashboard)
	}

	if len(cfg.Stack) != 3 {
		t.Fatalf("Expected 3 stack entries, got %d", len(cfg.Stack))
	}
	if cfg.Stack[0].Traced() {
		t.Errorf("Expected request_id to be hidden")
	}
	if !cfg.Stack[1].Traced() || cfg.Stack[1].Name != "limiter" || cfg.Stack[1].Use != "ratelimit" {
		t.Errorf("Unexpected limiter entry: %+v", cfg.Stack[1])
	}
	if len(cfg.Stack[2].Map) != 1 || cfg.Stack[2].Map[0].Run != "respond" {
		t.Errorf("Expected nested respond entry, got %+v", cfg.Stack[2].Map)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("GATEWAY_SERVER__ADMIN_PORT", "9999")
	t.Setenv("TEST_JWT_SECRET", "from-env")

	path := writeConfig(t, map[string]any{
		"stack": []any{
			map[string]any{
				"use":  "auth",
				"args": map[string]any{"jwt_secret": "${TEST_JWT_SECRET}"},
			},
		},
	})

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.AdminPort != 9999 {
		t.Errorf("Expected env override 9999, got %d", cfg.Server.AdminPort)
	}
	if got := cfg.Stack[0].Args["jwt_secret"]; got != "from-env" {
		t.Errorf("Expected ${TEST_JWT_SECRET} to expand, got %v", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Errorf("Expected error for missing file")
	}
}
