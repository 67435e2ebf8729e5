// Package config reads process settings from the environment and an optional YAML
// parameters file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"moddispatch/internal/opt"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	RoutingBackend string
	RoutingURL     string
	RoutingTasks   int
	RoutingRPS     float64

	// CacheBackend is memory, redis or postgres.
	CacheBackend string

	LogLevel  string
	LogFormat string
	// LogRequests logs every run's full solver input, matrix included.
	LogRequests bool

	ParamsFile string

	WebhookURL         string
	WebhookSecret      string
	WebhookMaxAttempts int

	Params opt.AlgorithmParameters
	Route  opt.RouteConfiguration
}

// ParamsFile is the YAML layout of PARAMS_FILE. Missing keys keep their defaults.
type ParamsFile struct {
	AlgorithmParameters opt.AlgorithmParameters `yaml:"algorithm_parameters"`
	RouteConfiguration  opt.RouteConfiguration  `yaml:"route_configuration"`
}

// Load reads .env when present, then the environment, then PARAMS_FILE.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	c := Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		RoutingBackend:     strings.ToLower(getEnv("ROUTING_BACKEND", "haversine")),
		RoutingURL:         getEnv("ROUTING_URL", ""),
		RoutingTasks:       getEnvInt("ROUTING_TASKS", 4),
		RoutingRPS:         getEnvFloat("ROUTING_RPS", 0),
		CacheBackend:       strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		LogRequests:        getEnvBool("LOG_REQUESTS", false),
		ParamsFile:         getEnv("PARAMS_FILE", ""),
		WebhookURL:         getEnv("WEBHOOK_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		WebhookMaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 10),
		Params:             opt.DefaultAlgorithmParameters(),
		Route:              opt.DefaultRouteConfiguration(),
	}
	switch c.CacheBackend {
	case "memory", "redis", "postgres":
	default:
		return c, fmt.Errorf("config: unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.CacheBackend == "redis" && c.RedisURL == "" {
		return c, fmt.Errorf("config: CACHE_BACKEND=redis needs REDIS_URL")
	}
	if c.CacheBackend == "postgres" && c.DatabaseURL == "" {
		return c, fmt.Errorf("config: CACHE_BACKEND=postgres needs DATABASE_URL")
	}
	if c.ParamsFile != "" {
		if err := c.loadParams(c.ParamsFile); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (c *Config) loadParams(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read params file: %w", err)
	}
	pf := ParamsFile{AlgorithmParameters: c.Params, RouteConfiguration: c.Route}
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return fmt.Errorf("config: parse params file %s: %w", path, err)
	}
	if err := pf.AlgorithmParameters.Validate(); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	if err := pf.RouteConfiguration.Validate(); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	c.Params, c.Route = pf.AlgorithmParameters, pf.RouteConfiguration
	return nil
}

// Summary is the non-secret view served on /debug/info.
func (c Config) Summary() map[string]any {
	return map[string]any{
		"PORT":                 c.Port,
		"ROUTING_BACKEND":      c.RoutingBackend,
		"ROUTING_TASKS":        c.RoutingTasks,
		"ROUTING_RPS":          c.RoutingRPS,
		"CACHE_BACKEND":        c.CacheBackend,
		"LOG_LEVEL":            c.LogLevel,
		"LOG_REQUESTS":         c.LogRequests,
		"PARAMS_FILE":          c.ParamsFile,
		"WEBHOOK_MAX_ATTEMPTS": c.WebhookMaxAttempts,
		"HAS_DATABASE_URL":     c.DatabaseURL != "",
		"HAS_REDIS_URL":        c.RedisURL != "",
		"HAS_WEBHOOK_URL":      c.WebhookURL != "",
	}
}

func getEnv(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(k string, fallback int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvBool(k string, fallback bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(k string, fallback float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			return f
		}
	}
	return fallback
}
