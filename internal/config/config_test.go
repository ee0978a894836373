package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = "server:\n  port: \"8080\"\n"

var configEnvVars = []string{
	"ENV_NAME", "WEATHER_API_KEY", "PORT", "CACHE_BACKEND", "MEMCACHED_ADDRS", "REDIS_URL",
	"STORE_BACKEND", "DATABASE_URL", "KAFKA_BROKERS", "GEOCODER_API_KEY", "NOTIFY_BACKEND",
}

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
// godotenv does not override variables that exist, so they are unset rather than emptied.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "config", "dev.yaml"), content)
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "config", "secrets.yaml"), content)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadDir(dir)
	if err == nil || cfg != nil {
		t.Fatalf("LoadDir() = %+v, %v; want error", cfg, err)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("LoadDir() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\ngeocoder_api_key: geo-key\n")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" || cfg.GeocoderAPIKey != "geo-key" {
		t.Errorf("keys = %q / %q", cfg.WeatherAPIKey, cfg.GeocoderAPIKey)
	}
}

func TestLoad_DotEnvSuppliesKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeFile(t, filepath.Join(dir, ".env"), "WEATHER_API_KEY=key-from-dotenv\nCACHE_BACKEND=redis\n")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-dotenv" || cfg.CacheBackend != "redis" {
		t.Errorf("cfg = key %q backend %q", cfg.WeatherAPIKey, cfg.CacheBackend)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")
	t.Setenv("WEATHER_API_KEY", "k")

	_, err := LoadDir(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("LoadDir() error = %v, want config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Arrange
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	// Act
	cfg, err := LoadDir(dir)

	// Assert
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "8080"},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "https://api.openweathermap.org/data/2.5/onecall"},
		{"WeatherAPITimeout", cfg.WeatherAPITimeout, 5 * time.Second},
		{"WeatherAPIExclude", cfg.WeatherAPIExclude, "minutely"},
		{"RequestTimeout", cfg.RequestTimeout, 10 * time.Second},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"CacheRetention", cfg.CacheRetention, time.Duration(0)},
		{"StoreBackend", cfg.StoreBackend, "in_memory"},
		{"NotifyBackend", cfg.NotifyBackend, "log"},
		{"NotifyTopic", cfg.NotifyTopic, "weather-alerts"},
		{"RefreshEnabled", cfg.RefreshEnabled, true},
		{"RefreshSchedule", cfg.RefreshSchedule, "@every 1h"},
		{"RefreshFlex", cfg.RefreshFlex, 15 * time.Minute},
		{"OfflineFailureThreshold", cfg.OfflineFailureThreshold, 1},
		{"RecoveryInitial", cfg.RecoveryInitial, time.Minute},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 5},
		{"RetryAttempts", cfg.RetryAttempts, 3},
		{"RateLimitRPS", cfg.RateLimitRPS, 100},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 30 * time.Second},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 5},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoad_FileValuesAndEnvOverrides(t *testing.T) {
	// Arrange
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
server:
  port: "9090"
weather_api:
  timeout: 3s
  exclude: minutely,hourly
cache:
  backend: Memcached
  retention: 48h
  memcached:
    addrs: file:11211
store:
  backend: postgres
  database_url: postgres://file/db
settings:
  path: data/settings.toml
notify:
  backend: kafka
  topic: alarms
refresh:
  enabled: false
  schedule: "@every 30m"
  flex: 0s
reliability:
  circuit_breaker:
    enabled: false
`)

	// Act
	cfg, err := LoadDir(dir)

	// Assert
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if cfg.ServerPort != "9090" || cfg.WeatherAPITimeout != 3*time.Second || cfg.WeatherAPIExclude != "minutely,hourly" {
		t.Errorf("server/api = %q %v %q", cfg.ServerPort, cfg.WeatherAPITimeout, cfg.WeatherAPIExclude)
	}
	if cfg.CacheBackend != "memcached" || cfg.CacheRetention != 48*time.Hour || cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("cache = %q %v %q", cfg.CacheBackend, cfg.CacheRetention, cfg.MemcachedAddrs)
	}
	if cfg.StoreBackend != "postgres" || cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("store = %q %q", cfg.StoreBackend, cfg.DatabaseURL)
	}
	if cfg.SettingsPath != "data/settings.toml" {
		t.Errorf("SettingsPath = %q", cfg.SettingsPath)
	}
	if cfg.NotifyBackend != "kafka" || cfg.NotifyTopic != "alarms" || len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("notify = %q %q %v", cfg.NotifyBackend, cfg.NotifyTopic, cfg.KafkaBrokers)
	}
	if cfg.RefreshEnabled || cfg.RefreshSchedule != "@every 30m" || cfg.RefreshFlex != 0 {
		t.Errorf("refresh = %v %q %v", cfg.RefreshEnabled, cfg.RefreshSchedule, cfg.RefreshFlex)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false")
	}
}

func TestLoad_RequestTimeoutRaisedAboveAPITimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	dir := t.TempDir()
	writeEnvFile(t, dir, "weather_api:\n  timeout: 8s\nrequest:\n  timeout: 5s\n")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RequestTimeout != 9*time.Second {
		t.Errorf("RequestTimeout = %v, want 9s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{"bad cache backend", "cache:\n  backend: disk\n", nil, "cache.backend"},
		{"bad store backend", "store:\n  backend: mysql\n", nil, "store.backend"},
		{"postgres without url", "store:\n  backend: postgres\n", nil, "DATABASE_URL"},
		{"bad notify backend", "notify:\n  backend: sms\n", nil, "notify.backend"},
		{"non-positive api timeout", "weather_api:\n  timeout: 0s\n", nil, "weather_api.timeout"},
		{"negative flex", "refresh:\n  flex: -1m\n", nil, "refresh.flex"},
		{"env backend override", minimalEnvYAML, map[string]string{"CACHE_BACKEND": "tape"}, "cache.backend"},
		{"malformed yaml", "server: [", nil, "parse config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("WEATHER_API_KEY", "test-key")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			writeEnvFile(t, dir, tt.yaml)

			_, err := LoadDir(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadDir() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Second, time.Second},
		{"garbage", time.Second, time.Second},
		{"0s", time.Second, time.Second},
		{"-5s", time.Second, time.Second},
		{" 250ms ", time.Second, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, tt.def); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Second); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}
