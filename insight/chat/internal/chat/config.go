// Package chat is the conversational front-end for the insight API: sessions,
// answer rendering and the API and progress clients.
package chat

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultRequestTimeout = 120 * time.Second
	defaultMaxRetries     = 3
	defaultSessionTTL     = 2 * time.Hour
	defaultUsername       = "admin"
	defaultPassword       = "admin"
)

// Config holds the front-end settings.
type Config struct {
	APIURL         string
	APIWSURL       string
	TopicAPIURL    string
	RecAPIURL      string
	GreetingAPIURL string
	APIKey         string

	RequestTimeout time.Duration
	MaxRetries     int
	SessionTTL     time.Duration

	Username string
	Password string
}

// LoadFromEnv reads .env, if present, and then the environment.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		APIURL:         os.Getenv("API_URL"),
		APIWSURL:       os.Getenv("API_WS_URL"),
		TopicAPIURL:    os.Getenv("TOPIC_API_URL"),
		RecAPIURL:      os.Getenv("REC_API_URL"),
		GreetingAPIURL: os.Getenv("GREETING_API_URL"),
		APIKey:         os.Getenv("X_API_KEY"),
		Username:       os.Getenv("CHAT_USERNAME"),
		Password:       os.Getenv("CHAT_PASSWORD"),
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.RequestTimeout = time.Duration(secs * float64(time.Second))
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RETRIES %q: %w", v, err)
		}
		cfg.MaxRetries = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies defaults. Sibling endpoint URLs default to the insight
// URL with its last path segment replaced.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("API_URL is required")
	}
	if c.APIKey == "" {
		return errors.New("X_API_KEY is required")
	}
	if c.TopicAPIURL == "" {
		c.TopicAPIURL = siblingURL(c.APIURL, "get_topic")
	}
	if c.RecAPIURL == "" {
		c.RecAPIURL = siblingURL(c.APIURL, "get_recommendation_question")
	}
	if c.GreetingAPIURL == "" {
		c.GreetingAPIURL = siblingURL(c.APIURL, "greeting")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.Username == "" {
		c.Username = defaultUsername
	}
	if c.Password == "" {
		c.Password = defaultPassword
	}
	return nil
}

func siblingURL(base, name string) string {
	base = strings.TrimRight(base, "/")
	i := strings.LastIndex(base, "/")
	if i < 0 {
		return name
	}
	return base[:i+1] + name
}

// Authenticate checks front-end login credentials.
func (c *Config) Authenticate(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
	return userOK && passOK
}
