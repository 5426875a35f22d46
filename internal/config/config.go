package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	JWTSecret string `yaml:"jwt_secret"`

	// Rental backend receiving completed trips
	BackendURL    string        `yaml:"backend_url"`
	BackendToken  string        `yaml:"backend_token"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	// Trip tracking
	ScoringPolicy      string        `yaml:"scoring_policy"` // standard, conservative
	MinTripDuration    time.Duration `yaml:"min_trip_duration"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// Requests per minute per client
	RateLimit int `yaml:"rate_limit"`

	LogFormat string `yaml:"log_format"` // JSON or console
	Debug     bool   `yaml:"debug"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:               ":8080",
		DBPath:             "./data/drivescore.db",
		JWTSecret:          "your-secret-key-change-in-production",
		BackendURL:         "http://localhost:9000",
		SubmitTimeout:      10 * time.Second,
		ScoringPolicy:      "standard",
		MinTripDuration:    5 * time.Second,
		SessionIdleTimeout: 30 * time.Minute,
		RateLimit:          600,
		LogFormat:          "console",
	}
}

// Load 加载配置: defaults, then CONFIG_FILE (YAML), then environment variables
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.DBPath, "DB_PATH")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.BackendURL, "BACKEND_URL")
	setString(&c.BackendToken, "BACKEND_TOKEN")
	setString(&c.ScoringPolicy, "SCORING_POLICY")
	setString(&c.LogFormat, "LOG_FORMAT")

	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug = v == "YES" || v == "true" || v == "1"
	}

	if v := os.Getenv("MIN_TRIP_SECONDS"); v != "" {
		seconds, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid MIN_TRIP_SECONDS %q: %w", v, err)
		}
		c.MinTripDuration = time.Duration(seconds * float64(time.Second))
	}
	if err := setDuration(&c.SubmitTimeout, "SUBMIT_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT"); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT %q: %w", v, err)
		}
		c.RateLimit = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
