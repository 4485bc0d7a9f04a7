// Package config reads the insight API settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderCustom    = "custom"
	ProviderAnthropic = "anthropic"

	defaultPort          = 8123
	defaultWorkers       = 1
	defaultModel         = "telkom-ai-instruct"
	defaultClaudeModel   = "claude-sonnet-4-5"
	defaultLLMTimeout    = 120 * time.Second
	defaultLLMMaxRetries = 3
	defaultDataPath      = "data/"
	defaultDatabasePath  = "data/CFU_API.db"
	defaultStreamTTL     = 15 * time.Minute
)

// Config holds the settings for the insight API process.
type Config struct {
	APIKey  string
	Port    int
	Workers int

	LLMProvider     string
	LLMURL          string
	LLMToken        string
	LLMModel        string
	LLMTimeout      time.Duration
	LLMMaxRetries   int
	AnthropicAPIKey string

	DataPath     string
	DatabasePath string

	MetricsAddr string
	StreamTTL   time.Duration
	Verbose     bool
}

// Load reads .env (overriding the process environment, if present) and then
// the environment.
func Load() (*Config, error) {
	if err := godotenv.Overload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		APIKey:          getenv("X_API_KEY"),
		LLMProvider:     getenv("LLM_PROVIDER"),
		LLMURL:          getenv("URL_CUSTOM_LLM"),
		LLMToken:        getenv("TOKEN_CUSTOM_LLM"),
		LLMModel:        getenv("LLM_MODEL"),
		AnthropicAPIKey: getenv("ANTHROPIC_API_KEY"),
		DataPath:        getenv("DATA_PATH"),
		DatabasePath:    getenv("DATABASE_PATH"),
		MetricsAddr:     getenv("METRICS_ADDR"),
	}

	var err error
	if cfg.Port, err = intEnv(getenv, "PORT"); err != nil {
		return nil, err
	}
	if cfg.Workers, err = intEnv(getenv, "WORKERS"); err != nil {
		return nil, err
	}
	if cfg.LLMMaxRetries, err = intEnv(getenv, "LLM_MAX_RETRIES"); err != nil {
		return nil, err
	}
	if cfg.LLMTimeout, err = durationEnv(getenv, "LLM_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.StreamTTL, err = durationEnv(getenv, "STREAM_TTL"); err != nil {
		return nil, err
	}
	if v := getenv("VERBOSE"); v != "" {
		if cfg.Verbose, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid VERBOSE %q: %w", v, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies defaults and checks required settings.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("X_API_KEY is required")
	}
	if c.LLMProvider == "" {
		c.LLMProvider = ProviderCustom
	}
	switch c.LLMProvider {
	case ProviderCustom:
		if c.LLMURL == "" {
			return errors.New("URL_CUSTOM_LLM is required")
		}
		if c.LLMToken == "" {
			return errors.New("TOKEN_CUSTOM_LLM is required")
		}
	case ProviderAnthropic:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Workers < 1 {
		c.Workers = defaultWorkers
	}
	if c.LLMModel == "" {
		c.LLMModel = defaultModel
		if c.LLMProvider == ProviderAnthropic {
			c.LLMModel = defaultClaudeModel
		}
	}
	if c.LLMTimeout == 0 {
		c.LLMTimeout = defaultLLMTimeout
	}
	if c.LLMMaxRetries == 0 {
		c.LLMMaxRetries = defaultLLMMaxRetries
	}
	if c.DataPath == "" {
		c.DataPath = defaultDataPath
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.StreamTTL == 0 {
		c.StreamTTL = defaultStreamTTL
	}
	return nil
}

// Addr returns the listen address for the API server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func intEnv(getenv func(string) string, key string) (int, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// durationEnv accepts Go durations ("90s") or plain seconds ("120").
func durationEnv(getenv func(string) string, key string) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
