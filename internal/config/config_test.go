package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"

	"eventradar/internal/service/alerting"
	"eventradar/internal/service/discovery"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Alert.Window != 4*time.Second {
		t.Errorf("Alert.Window = %v, want 4s", cfg.Alert.Window)
	}

	engine := cfg.Engine()
	if engine.DefaultSort != discovery.SortDistance {
		t.Errorf("DefaultSort = %q", engine.DefaultSort)
	}
	if engine.Alert.Policy != alerting.OverlapDrop {
		t.Errorf("Policy = %q", engine.Alert.Policy)
	}
	if engine.Cluster.RadiusPx != 60 || engine.Cluster.MinClusterSize != 3 {
		t.Errorf("Cluster = %+v", engine.Cluster)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ALERT_OVERLAP_POLICY", "queue")
	t.Setenv("DISCOVERY_DEFAULT_SORT", "popularity")
	t.Setenv("DISCOVERY_RESUBSCRIBE_DELAY", "250ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.Server.CorsOrigins, want) {
		t.Errorf("CorsOrigins = %v, want %v", cfg.Server.CorsOrigins, want)
	}

	engine := cfg.Engine()
	if engine.Alert.Policy != alerting.OverlapQueue {
		t.Errorf("Policy = %q", engine.Alert.Policy)
	}
	if engine.DefaultSort != discovery.SortPopularity {
		t.Errorf("DefaultSort = %q", engine.DefaultSort)
	}
	if engine.ResubscribeDelay != 250*time.Millisecond {
		t.Errorf("ResubscribeDelay = %v", engine.ResubscribeDelay)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown sort", "DISCOVERY_DEFAULT_SORT", "random"},
		{"unknown policy", "ALERT_OVERLAP_POLICY", "ignore"},
		{"unknown log format", "LOG_FORMAT", "xml"},
		{"max radius below default", "DISCOVERY_MAX_RADIUS_KM", "1"},
		{"default password outside development", "APP_ENV", "production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load with %s=%s succeeded", tt.key, tt.value)
			}
		})
	}
}
