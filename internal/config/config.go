// internal/config/config.go

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"eventradar/internal/service/alerting"
	"eventradar/internal/service/discovery"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Discovery   DiscoveryConfig
	Alert       AlertConfig
	Log         LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
	EnsureSchema bool
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	Enabled        bool
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	Subject        string
}

// DiscoveryConfig holds nearby discovery configuration
type DiscoveryConfig struct {
	PageSize            int
	SearchLimit         int
	DefaultSort         string
	DefaultRadiusKm     float64
	MaxRadiusKm         float64
	DefaultZoom         float64
	ClusterRadiusPx     float64
	MinClusterSize      int
	ResubscribeAttempts int
	ResubscribeDelay    time.Duration
	ResubscribeMaxDelay time.Duration
	UpdateBuffer        int
}

// AlertConfig holds arrival alert configuration
type AlertConfig struct {
	Window          time.Duration
	OverlapPolicy   string
	DispatchTimeout time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from a .env file if present, then the environment
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("error loading .env: %w", err)
	}

	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "eventradar"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			EnsureSchema: getEnvAsBool("DB_ENSURE_SCHEMA", true),
		},
		NATS: NATSConfig{
			Enabled:        getEnvAsBool("NATS_ENABLED", true),
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
			Subject:        getEnv("NATS_NOTIFICATION_SUBJECT", "events.notifications.dispatch"),
		},
		Discovery: DiscoveryConfig{
			PageSize:            getEnvAsInt("DISCOVERY_PAGE_SIZE", 200),
			SearchLimit:         getEnvAsInt("DISCOVERY_SEARCH_LIMIT", 200),
			DefaultSort:         getEnv("DISCOVERY_DEFAULT_SORT", "distance"),
			DefaultRadiusKm:     getEnvAsFloat("DISCOVERY_DEFAULT_RADIUS_KM", 5.0),
			MaxRadiusKm:         getEnvAsFloat("DISCOVERY_MAX_RADIUS_KM", 100.0),
			DefaultZoom:         getEnvAsFloat("DISCOVERY_DEFAULT_ZOOM", 13),
			ClusterRadiusPx:     getEnvAsFloat("DISCOVERY_CLUSTER_RADIUS_PX", 60),
			MinClusterSize:      getEnvAsInt("DISCOVERY_MIN_CLUSTER_SIZE", 3),
			ResubscribeAttempts: getEnvAsInt("DISCOVERY_RESUBSCRIBE_ATTEMPTS", 10),
			ResubscribeDelay:    getEnvAsDuration("DISCOVERY_RESUBSCRIBE_DELAY", 1*time.Second),
			ResubscribeMaxDelay: getEnvAsDuration("DISCOVERY_RESUBSCRIBE_MAX_DELAY", 2*time.Minute),
			UpdateBuffer:        getEnvAsInt("DISCOVERY_UPDATE_BUFFER", 4),
		},
		Alert: AlertConfig{
			Window:          getEnvAsDuration("ALERT_WINDOW", 4*time.Second),
			OverlapPolicy:   getEnv("ALERT_OVERLAP_POLICY", "drop"),
			DispatchTimeout: getEnvAsDuration("ALERT_DISPATCH_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, validate(config)
}

// Engine converts the discovery and alert sections into engine configuration
func (c Config) Engine() discovery.Config {
	sortMode, _ := discovery.ParseSortMode(c.Discovery.DefaultSort)
	policy, _ := alerting.ParseOverlapPolicy(c.Alert.OverlapPolicy)

	cfg := discovery.DefaultConfig()
	cfg.PageSize = c.Discovery.PageSize
	cfg.SearchLimit = c.Discovery.SearchLimit
	cfg.DefaultSort = sortMode
	cfg.Cluster.RadiusPx = c.Discovery.ClusterRadiusPx
	cfg.Cluster.MinClusterSize = c.Discovery.MinClusterSize
	cfg.Alert = alerting.CoordinatorConfig{
		Window:          c.Alert.Window,
		Policy:          policy,
		DispatchTimeout: c.Alert.DispatchTimeout,
	}
	cfg.ResubscribeAttempts = uint(c.Discovery.ResubscribeAttempts)
	cfg.ResubscribeDelay = c.Discovery.ResubscribeDelay
	cfg.ResubscribeMaxDelay = c.Discovery.ResubscribeMaxDelay
	cfg.UpdateBuffer = c.Discovery.UpdateBuffer
	return cfg
}

// LogLevel returns the slog level named by Log.Level
func (c Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// validate checks if config is valid
func validate(config Config) error {
	if _, err := discovery.ParseSortMode(config.Discovery.DefaultSort); err != nil {
		return fmt.Errorf("invalid DISCOVERY_DEFAULT_SORT: %w", err)
	}

	if _, err := alerting.ParseOverlapPolicy(config.Alert.OverlapPolicy); err != nil {
		return fmt.Errorf("invalid ALERT_OVERLAP_POLICY: %w", err)
	}

	if config.Discovery.PageSize <= 0 || config.Discovery.SearchLimit <= 0 {
		return fmt.Errorf("page size and search limit must be positive")
	}

	if config.Discovery.DefaultRadiusKm <= 0 || config.Discovery.MaxRadiusKm < config.Discovery.DefaultRadiusKm {
		return fmt.Errorf("radius bounds are inconsistent: default %.2f, max %.2f",
			config.Discovery.DefaultRadiusKm, config.Discovery.MaxRadiusKm)
	}

	if config.Discovery.ResubscribeAttempts <= 0 {
		return fmt.Errorf("resubscribe attempts must be positive")
	}

	if config.Alert.Window <= 0 {
		return fmt.Errorf("alert window must be positive")
	}

	switch config.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", config.Log.Format)
	}

	if config.Database.Password == "postgres" && config.Environment != "development" {
		return fmt.Errorf("database password must be set in non-development environments")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
