// Package config loads process configuration from an optional YAML file with
// environment variable overrides. Environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine configures the game engine process.
type Engine struct {
	NATSURL       string   `yaml:"natsUrl"`
	SessionID     string   `yaml:"sessionId"`
	BackendURL    string   `yaml:"backendUrl"`
	BackendAPIKey string   `yaml:"backendApiKey"`
	CacheFile     string   `yaml:"cacheFile"`
	GatewayAddr   string   `yaml:"gatewayAddr"`
	LogLevel      string   `yaml:"logLevel"`
	MenuOrigins   []string `yaml:"menuOrigins"`
}

// SessionAPI configures the session snapshot API process.
type SessionAPI struct {
	Addr        string        `yaml:"addr"`
	RedisURL    string        `yaml:"redisUrl"`
	SessionTTL  time.Duration `yaml:"sessionTtl"`
	APIKey      string        `yaml:"apiKey"`
	MenuOrigins []string      `yaml:"menuOrigins"`
	LogLevel    string        `yaml:"logLevel"`
	// AllowMemoryFallback permits the in-process store when RedisURL is
	// empty. Without it an unconfigured store serves every request a 503.
	AllowMemoryFallback bool `yaml:"allowMemoryFallback"`
}

// LoadEngine builds the engine config. path may be empty.
func LoadEngine(path string) (Engine, error) {
	cfg := Engine{
		NATSURL:     "nats://localhost:4222",
		CacheFile:   "director-session.json",
		GatewayAddr: ":8090",
		LogLevel:    "info",
	}
	if err := loadFile(path, &cfg); err != nil {
		return Engine{}, err
	}

	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.SessionID = getEnv("SESSION_ID", cfg.SessionID)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.BackendAPIKey = getEnv("BACKEND_API_KEY", cfg.BackendAPIKey)
	cfg.CacheFile = getEnv("CACHE_FILE", cfg.CacheFile)
	cfg.GatewayAddr = getEnv("GATEWAY_ADDR", cfg.GatewayAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MenuOrigins = getEnvAsList("MENU_ORIGINS", cfg.MenuOrigins)
	return cfg, nil
}

// LoadSessionAPI builds the session API config. path may be empty.
func LoadSessionAPI(path string) (SessionAPI, error) {
	cfg := SessionAPI{
		Addr:       ":8091",
		SessionTTL: 3 * 24 * time.Hour,
		LogLevel:   "info",
	}
	if err := loadFile(path, &cfg); err != nil {
		return SessionAPI{}, err
	}

	cfg.Addr = getEnv("ADDR", cfg.Addr)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.APIKey = getEnv("API_KEY", cfg.APIKey)
	cfg.MenuOrigins = getEnvAsList("MENU_ORIGINS", cfg.MenuOrigins)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.AllowMemoryFallback = getEnvAsBool("ALLOW_MEMORY_FALLBACK", cfg.AllowMemoryFallback)
	if raw := os.Getenv("SESSION_TTL_HOURS"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return SessionAPI{}, fmt.Errorf("SESSION_TTL_HOURS must be a positive integer")
		}
		cfg.SessionTTL = time.Duration(hours) * time.Hour
	}
	return cfg, nil
}

func loadFile(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
