package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName       string        `yaml:"service_name"`
	DatabaseURL       string        `yaml:"database_url"`
	HTTPListenAddr    string        `yaml:"http_listen_addr"`
	MetricsListenAddr string        `yaml:"metrics_listen_addr"`
	LogLevel          string        `yaml:"log_level"`
	SessionSecret     string        `yaml:"session_secret"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	SecureCookies     bool          `yaml:"secure_cookies"`
	// TokenSealKey is an age X25519 secret key (AGE-SECRET-KEY-1...) used to
	// seal node tokens at rest.
	TokenSealKey    string        `yaml:"token_seal_key"`
	AgentPort       int           `yaml:"agent_port"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	// StrictCallbackOwnership rejects deployment status callbacks from a node
	// other than the one the deployment targets.
	StrictCallbackOwnership bool `yaml:"strict_callback_ownership"`
	AutoMigrate             bool `yaml:"auto_migrate"`
	DevMode                 bool `yaml:"dev_mode"`
}

// Defaults returns the configuration used when neither a config file nor
// the environment sets a value.
func Defaults() *Config {
	return &Config{
		ServiceName:             "fleet-api",
		HTTPListenAddr:          ":8090",
		LogLevel:                "info",
		SessionTTL:              24 * time.Hour,
		AgentPort:               9090,
		DispatchTimeout:         30 * time.Second,
		StrictCallbackOwnership: true,
		AutoMigrate:             true,
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first (never overriding variables already set), then the optional
// YAML file named by FLEET_CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("FLEET_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.HTTPListenAddr = getEnv("HTTP_LISTEN_ADDR", cfg.HTTPListenAddr)
	cfg.MetricsListenAddr = getEnv("METRICS_LISTEN_ADDR", cfg.MetricsListenAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SessionSecret = getEnv("SESSION_SECRET", cfg.SessionSecret)
	cfg.TokenSealKey = getEnv("TOKEN_SEAL_KEY", cfg.TokenSealKey)

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.DispatchTimeout, err = getDuration("DISPATCH_TIMEOUT", cfg.DispatchTimeout); err != nil {
		return nil, err
	}
	if cfg.AgentPort, err = getInt("AGENT_PORT", cfg.AgentPort); err != nil {
		return nil, err
	}
	if cfg.SecureCookies, err = getBool("SECURE_COOKIES", cfg.SecureCookies); err != nil {
		return nil, err
	}
	if cfg.StrictCallbackOwnership, err = getBool("STRICT_CALLBACK_OWNERSHIP", cfg.StrictCallbackOwnership); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", cfg.AutoMigrate); err != nil {
		return nil, err
	}
	if cfg.DevMode, err = getBool("DEV_MODE", cfg.DevMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings the API server cannot start without.
// In dev mode a missing TOKEN_SEAL_KEY is tolerated; the caller generates
// an ephemeral one.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if c.TokenSealKey == "" && !c.DevMode {
		missing = append(missing, "TOKEN_SEAL_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	if c.AgentPort <= 0 || c.AgentPort > 65535 {
		return fmt.Errorf("AGENT_PORT out of range: %d", c.AgentPort)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
