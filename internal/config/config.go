package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// maxFetchIntervalSeconds is the largest FETCH_INTERVAL that fits in a time.Duration.
const maxFetchIntervalSeconds = math.MaxInt64 / int64(time.Second)

// Config holds service configuration loaded from .env, YAML and the environment.
type Config struct {
	ServerPort  string
	MetricsPort string // empty disables the metrics listener

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	Latitude          float64
	Longitude         float64

	FetchInterval time.Duration

	MirrorBackend         string // "none" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	MirrorTTL             time.Duration

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Metrics struct {
		Port string `yaml:"port"`
	} `yaml:"metrics"`

	WeatherAPI struct {
		URL       string   `yaml:"url"`
		Timeout   string   `yaml:"timeout"`
		Latitude  *float64 `yaml:"latitude"`
		Longitude *float64 `yaml:"longitude"`
	} `yaml:"weather_api"`

	Refresh struct {
		Interval string `yaml:"interval"`
	} `yaml:"refresh"`

	Mirror struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"mirror"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev, optional), then
// environment overrides. OWM_API_KEY, LATITUDE and LONGITUDE are required. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.MetricsPort = firstNonEmpty(os.Getenv("METRICS_PORT"), fc.Metrics.Port)

	cfg.WeatherAPIKey = strings.TrimSpace(os.Getenv("OWM_API_KEY"))
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("OWM_API_KEY required")
	}
	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("OWM_API_URL"), fc.WeatherAPI.URL, "https://api.openweathermap.org/data/3.0/onecall")
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.Latitude, err = coordinate("LATITUDE", fc.WeatherAPI.Latitude)
	if err != nil {
		return nil, err
	}
	cfg.Longitude, err = coordinate("LONGITUDE", fc.WeatherAPI.Longitude)
	if err != nil {
		return nil, err
	}

	cfg.FetchInterval = parseDuration(fc.Refresh.Interval, 90*time.Second)
	if s := strings.TrimSpace(os.Getenv("FETCH_INTERVAL")); s != "" {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("FETCH_INTERVAL must be an integer number of seconds, got %q", s)
		}
		if secs > maxFetchIntervalSeconds {
			return nil, fmt.Errorf("FETCH_INTERVAL must be at most %d seconds, got %d", maxFetchIntervalSeconds, secs)
		}
		cfg.FetchInterval = time.Duration(secs) * time.Second
	}

	cfg.MirrorBackend = strings.ToLower(firstNonEmpty(os.Getenv("MIRROR_BACKEND"), fc.Mirror.Backend, "none"))
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Mirror.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Mirror.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Mirror.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.MirrorTTL = parseDuration(fc.Mirror.TTL, 0)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// coordinate reads a required coordinate from env, falling back to the YAML value.
func coordinate(name string, fromFile *float64) (float64, error) {
	if s := strings.TrimSpace(os.Getenv(name)); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%s must be a number, got %q", name, s)
		}
		return v, nil
	}
	if fromFile != nil {
		if math.IsNaN(*fromFile) || math.IsInf(*fromFile, 0) {
			return 0, fmt.Errorf("%s must be a number, got %v", name, *fromFile)
		}
		return *fromFile, nil
	}
	return 0, fmt.Errorf("%s required", name)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values. A zero MirrorTTL is
// derived from FetchInterval so a mirrored snapshot outlives at least a few missed cycles.
func validate(cfg *Config) error {
	if cfg.Latitude < -90 || cfg.Latitude > 90 {
		return fmt.Errorf("LATITUDE must be within [-90, 90], got %v", cfg.Latitude)
	}
	if cfg.Longitude < -180 || cfg.Longitude > 180 {
		return fmt.Errorf("LONGITUDE must be within [-180, 180], got %v", cfg.Longitude)
	}
	if cfg.FetchInterval <= 0 {
		return fmt.Errorf("FETCH_INTERVAL must be positive")
	}
	switch cfg.MirrorBackend {
	case "none", "memcached":
		// valid
	default:
		return fmt.Errorf("mirror.backend must be none or memcached, got %q", cfg.MirrorBackend)
	}
	if cfg.MirrorTTL <= 0 {
		cfg.MirrorTTL = 4 * cfg.FetchInterval
	}
	return nil
}
