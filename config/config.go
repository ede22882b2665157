// Package config holds crawler configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the crawler and its surrounding services.
type Config struct {
	BaseURL   string
	UserAgent string
	Referer   string

	// PageSize and PageDelay are tied to the target site's pagination.
	// Both are configurable, but the defaults (48 items, 2s) must be
	// preserved for behavioral compatibility.
	PageSize  int
	PageDelay time.Duration

	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	// EmptyPageLimit stops a crawl after this many consecutive pages
	// that contain item containers but contribute no records.
	EmptyPageLimit int

	RespectRobotsTxt bool

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	ListenAddr  string
	MetricsAddr string

	DedupeMaxSize int
	OutputDir     string
	Verbose       bool
}

// DefaultConfig returns the defaults matching the target site's current
// pagination and the reference deployment.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://listado.mercadolibre.com.ar/",
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Referer:          "https://www.mercadolibre.com.ar/",
		PageSize:         48,
		PageDelay:        2 * time.Second,
		Timeout:          10 * time.Second,
		MaxRetries:       3,
		RetryBackoff:     500 * time.Millisecond,
		RetryBackoffMax:  8 * time.Second,
		EmptyPageLimit:   3,
		RespectRobotsTxt: false,
		MongoURI:         "mongodb://localhost:27017",
		MongoDatabase:    "ml",
		MongoCollection:  "cars",
		ListenAddr:       ":52021",
		MetricsAddr:      "",
		DedupeMaxSize:    10000,
		OutputDir:        "output",
		Verbose:          false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.EmptyPageLimit <= 0 {
		return fmt.Errorf("empty page limit must be positive")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("mongo URI cannot be empty")
	}
	if c.MongoDatabase == "" || c.MongoCollection == "" {
		return fmt.Errorf("mongo database and collection cannot be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe cache size must be positive")
	}
	return nil
}

// EnvString reads a string environment override.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer environment override.
func EnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, true, nil
}
