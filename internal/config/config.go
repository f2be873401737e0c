// Package config reads service configuration from the environment, after
// loading an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joeblew999/greenedumap/internal/mapsession"
)

// Config holds everything that is not a CLI flag.
type Config struct {
	Map      MapConfig
	Backend  BackendConfig
	Redis    RedisConfig
	NATS     NATSConfig
	DuckDB   DuckDBConfig
	CORS     []string
	Presets  string // YAML preset file; empty uses the built-in presets
	Paging   PagingConfig
	Sessions SessionsConfig
}

// MapConfig holds the map access credential and style.
type MapConfig struct {
	AccessToken string
	Style       string
	Images      map[string]string
}

// BackendConfig selects the domain data source. Without either URL the
// built-in placeholder data is served.
type BackendConfig struct {
	URL         string
	DatabaseURL string
	Timeout     time.Duration
	Fallback    bool
}

// RedisConfig configures the response cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DuckDBConfig configures the record store.
type DuckDBConfig struct {
	Name       string
	Extensions []string
}

// SessionsConfig controls how long an abandoned map session lives.
type SessionsConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// PagingConfig is the default source paging and filters.
type PagingConfig struct {
	Limit int
	City  string
}

// Load reads .env (if present) and the environment. Variables already set
// in the environment win over .env.
func Load(envFiles ...string) Config {
	_ = godotenv.Load(envFiles...)

	return Config{
		Map: MapConfig{
			AccessToken: firstEnv("MAPBOX_TOKEN", "NEXT_PUBLIC_MAPBOX_TOKEN"),
			Style:       getEnv("MAP_STYLE", mapsession.DefaultStyle),
			Images: map[string]string{
				"school": getEnv("MAP_ICON_SCHOOL", "/static/icons/school.png"),
				"solar":  getEnv("MAP_ICON_SOLAR", "/static/icons/solar.png"),
			},
		},
		Backend: BackendConfig{
			URL:         getEnv("BACKEND_URL", ""),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			Timeout:     getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Second),
			Fallback:    getEnvAsBool("BACKEND_FALLBACK", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", ""),
			SubjectPrefix:  getEnv("NATS_SUBJECT_PREFIX", "greenmap.events"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 2*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 5*time.Second),
		},
		DuckDB: DuckDBConfig{
			Name:       getEnv("DUCKDB_NAME", "greenmap"),
			Extensions: getEnvAsSlice("DUCKDB_EXTENSIONS", nil),
		},
		CORS:    getEnvAsSlice("CORS_ORIGINS", []string{"*"}),
		Presets: getEnv("PRESETS_FILE", ""),
		Paging: PagingConfig{
			Limit: getEnvAsInt("SOURCE_LIMIT", 100),
			City:  getEnv("SOURCE_CITY", ""),
		},
		Sessions: SessionsConfig{
			IdleTimeout:   getEnvAsDuration("SESSION_IDLE_TIMEOUT", 2*time.Minute),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 30*time.Second),
		},
	}
}

// HasMapCredential reports whether a usable map token is configured.
func (c Config) HasMapCredential() bool {
	return mapsession.HasCredential(c.Map.AccessToken)
}

// Session returns the map session configuration.
func (c Config) Session() mapsession.Config {
	return mapsession.Config{AccessToken: c.Map.AccessToken, Style: c.Map.Style, Images: c.Map.Images}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, s := range strings.Split(valueStr, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
