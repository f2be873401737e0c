package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// unset clears keys for the test; godotenv never overrides a variable that
// exists, even when empty.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unset(t, "MAPBOX_TOKEN", "NEXT_PUBLIC_MAPBOX_TOKEN", "BACKEND_URL", "REDIS_ADDR", "CACHE_TTL", "CORS_ORIGINS")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.HasMapCredential() {
		t.Error("no token configured")
	}
	if cfg.Redis.TTL != 5*time.Minute || cfg.Redis.Addr != "" {
		t.Errorf("redis=%+v", cfg.Redis)
	}
	if !slices.Equal(cfg.CORS, []string{"*"}) {
		t.Errorf("cors=%v", cfg.CORS)
	}
	if cfg.Sessions.IdleTimeout != 2*time.Minute || cfg.Sessions.SweepInterval != 30*time.Second {
		t.Errorf("session timeouts=%+v", cfg.Sessions)
	}
	if cfg.Session().Style == "" || cfg.Session().Images["school"] == "" {
		t.Errorf("session=%+v", cfg.Session())
	}
}

func TestLoadEnvFile(t *testing.T) {
	unset(t, "MAPBOX_TOKEN", "NEXT_PUBLIC_MAPBOX_TOKEN", "CORS_ORIGINS", "REDIS_DB")
	t.Setenv("BACKEND_URL", "http://from-env")

	path := filepath.Join(t.TempDir(), ".env")
	body := "NEXT_PUBLIC_MAPBOX_TOKEN=your_mapbox_token\nCORS_ORIGINS=http://a, http://b ,\nREDIS_DB=3\nBACKEND_URL=http://from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)

	if cfg.Map.AccessToken != "your_mapbox_token" || cfg.HasMapCredential() {
		t.Errorf("placeholder token should be loaded but rejected: %q", cfg.Map.AccessToken)
	}
	if !slices.Equal(cfg.CORS, []string{"http://a", "http://b"}) {
		t.Errorf("cors=%v", cfg.CORS)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("redis db=%d", cfg.Redis.DB)
	}
	if cfg.Backend.URL != "http://from-env" {
		t.Errorf("environment should win over .env, got %q", cfg.Backend.URL)
	}
}
