package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	WeatherAPIExclude string

	RequestTimeout time.Duration

	CacheBackend          string // "in_memory", "memcached" or "redis"
	CacheRetention        time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisURL              string

	StoreBackend         string // "in_memory" or "postgres"
	DatabaseURL          string
	StoreConnectAttempts int
	StoreConnectDelay    time.Duration

	SettingsPath string // empty keeps settings in memory

	GeocoderAPIKey string

	NotifyBackend string // "log" or "kafka"
	KafkaBrokers  []string
	NotifyTopic   string
	NotifyTimeout time.Duration

	RefreshEnabled  bool
	RefreshSchedule string
	RefreshFlex     time.Duration

	OfflineFailureThreshold int
	ProbeTimeout            time.Duration
	RecoveryInitial         time.Duration
	RecoveryMax             time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
		Exclude string `yaml:"exclude"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Retention string `yaml:"retention"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Store struct {
		Backend        string `yaml:"backend"`
		DatabaseURL    string `yaml:"database_url"`
		ConnectRetries int    `yaml:"connect_attempts"`
		ConnectDelay   string `yaml:"connect_delay"`
	} `yaml:"store"`

	Settings struct {
		Path string `yaml:"path"`
	} `yaml:"settings"`

	Notify struct {
		Backend string   `yaml:"backend"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		Timeout string   `yaml:"timeout"`
	} `yaml:"notify"`

	Refresh struct {
		Enabled  *bool  `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
		Flex     string `yaml:"flex"`
	} `yaml:"refresh"`

	Connectivity struct {
		FailureThreshold int    `yaml:"failure_threshold"`
		ProbeTimeout     string `yaml:"probe_timeout"`
		RecoveryInitial  string `yaml:"recovery_initial"`
		RecoveryMax      string `yaml:"recovery_max"`
	} `yaml:"connectivity"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	WeatherAPIKey  string `yaml:"weather_api_key"`
	GeocoderAPIKey string `yaml:"geocoder_api_key"`
	DatabaseURL    string `yaml:"database_url"`
}

// Load reads configuration relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(cwd)
}

// LoadDir loads dir/.env (optional), dir/config/{ENV_NAME}.yaml (default dev) and
// dir/config/secrets.yaml (optional). Environment variables override file values.
func LoadDir(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/onecall")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.WeatherAPIExclude = firstNonEmpty(fc.WeatherAPI.Exclude, "minutely")

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.CacheBackend = normalize(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheRetention = parseDurationOrZero(fc.Cache.Retention, 0)
	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), fc.Cache.Redis.URL, "redis://localhost:6379/0")

	cfg.StoreBackend = normalize(firstNonEmpty(os.Getenv("STORE_BACKEND"), fc.Store.Backend, "in_memory"))
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), sec.DatabaseURL, fc.Store.DatabaseURL)
	cfg.StoreConnectAttempts = fc.Store.ConnectRetries
	if cfg.StoreConnectAttempts <= 0 {
		cfg.StoreConnectAttempts = 10
	}
	cfg.StoreConnectDelay = parseDuration(fc.Store.ConnectDelay, 3*time.Second)

	cfg.SettingsPath = strings.TrimSpace(fc.Settings.Path)

	cfg.GeocoderAPIKey = firstNonEmpty(os.Getenv("GEOCODER_API_KEY"), sec.GeocoderAPIKey)

	cfg.NotifyBackend = normalize(firstNonEmpty(os.Getenv("NOTIFY_BACKEND"), fc.Notify.Backend, "log"))
	cfg.KafkaBrokers = fc.Notify.Brokers
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	cfg.NotifyTopic = firstNonEmpty(fc.Notify.Topic, "weather-alerts")
	cfg.NotifyTimeout = parseDuration(fc.Notify.Timeout, 10*time.Second)

	cfg.RefreshEnabled = true
	if fc.Refresh.Enabled != nil {
		cfg.RefreshEnabled = *fc.Refresh.Enabled
	}
	cfg.RefreshSchedule = firstNonEmpty(strings.TrimSpace(fc.Refresh.Schedule), "@every 1h")
	cfg.RefreshFlex = parseDurationOrZero(fc.Refresh.Flex, 15*time.Minute)

	cfg.OfflineFailureThreshold = fc.Connectivity.FailureThreshold
	if cfg.OfflineFailureThreshold <= 0 {
		cfg.OfflineFailureThreshold = 1
	}
	cfg.ProbeTimeout = parseDuration(fc.Connectivity.ProbeTimeout, 3*time.Second)
	cfg.RecoveryInitial = parseDuration(fc.Connectivity.RecoveryInitial, 1*time.Minute)
	cfg.RecoveryMax = parseDuration(fc.Connectivity.RecoveryMax, 20*time.Minute)

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised to exceed
// WeatherAPITimeout when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.RefreshFlex < 0 {
		return fmt.Errorf("refresh.flex must not be negative")
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	switch cfg.StoreBackend {
	case "in_memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be in_memory or postgres, got %q", cfg.StoreBackend)
	}
	switch cfg.NotifyBackend {
	case "log", "kafka":
	default:
		return fmt.Errorf("notify.backend must be log or kafka, got %q", cfg.NotifyBackend)
	}
	return nil
}
