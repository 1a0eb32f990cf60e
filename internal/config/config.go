package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Port string

	// Backend REST API
	APIURL      string
	HTTPTimeout time.Duration

	// Auth for the local preview service
	DocviewAPIKey string

	// Session storage
	SessionFile string

	// Preview
	NominalPageWidth float64
	PageLookahead    int
	PageBehind       int // -1 renders progressively from page 1
	RenderDebounce   time.Duration
	MaxPreviewBytes  int64

	// Stats
	StatsWindow time.Duration

	LogLevel string
}

// Load reads the configuration from the environment. If DOCVIEW_CONFIG names a
// TOML file, its values are applied first and the environment overrides them.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("DOCVIEW_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIURL = envOr("DOCVIEW_API_URL", cfg.APIURL)
	cfg.HTTPTimeout = envDuration("HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.DocviewAPIKey = envOr("DOCVIEW_API_KEY", cfg.DocviewAPIKey)
	cfg.SessionFile = envOr("SESSION_FILE", cfg.SessionFile)
	cfg.NominalPageWidth = envFloat("NOMINAL_PAGE_WIDTH", cfg.NominalPageWidth)
	cfg.PageLookahead = envInt("PAGE_LOOKAHEAD", cfg.PageLookahead)
	cfg.PageBehind = envInt("PAGE_BEHIND", cfg.PageBehind)
	cfg.RenderDebounce = envDuration("RENDER_DEBOUNCE", cfg.RenderDebounce)
	cfg.MaxPreviewBytes = envInt64("MAX_PREVIEW_BYTES", cfg.MaxPreviewBytes)
	cfg.StatsWindow = envDuration("STATS_WINDOW", cfg.StatsWindow)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)

	cfg.applyFloors()
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:             "8091",
		APIURL:           "http://localhost:8080/api/v1",
		HTTPTimeout:      120 * time.Second,
		SessionFile:      defaultSessionFile(),
		NominalPageWidth: 1100,
		PageLookahead:    2,
		PageBehind:       2,
		RenderDebounce:   150 * time.Millisecond,
		MaxPreviewBytes:  52428800, // 50MB
		StatsWindow:      time.Hour,
		LogLevel:         "info",
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return f.apply(c)
}

// fileConfig mirrors Config for TOML files. Durations are written as Go
// duration strings ("150ms", "2m").
type fileConfig struct {
	Port             string   `toml:"port"`
	APIURL           string   `toml:"api_url"`
	HTTPTimeout      string   `toml:"http_timeout"`
	DocviewAPIKey    string   `toml:"docview_api_key"`
	SessionFile      string   `toml:"session_file"`
	NominalPageWidth *float64 `toml:"nominal_page_width"`
	PageLookahead    *int     `toml:"page_lookahead"`
	PageBehind       *int     `toml:"page_behind"`
	RenderDebounce   string   `toml:"render_debounce"`
	MaxPreviewBytes  *int64   `toml:"max_preview_bytes"`
	StatsWindow      string   `toml:"stats_window"`
	LogLevel         string   `toml:"log_level"`
}

func (f fileConfig) apply(c *Config) error {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setStr(&c.Port, f.Port)
	setStr(&c.APIURL, f.APIURL)
	setStr(&c.DocviewAPIKey, f.DocviewAPIKey)
	setStr(&c.SessionFile, f.SessionFile)
	setStr(&c.LogLevel, f.LogLevel)
	if f.NominalPageWidth != nil {
		c.NominalPageWidth = *f.NominalPageWidth
	}
	if f.PageLookahead != nil {
		c.PageLookahead = *f.PageLookahead
	}
	if f.PageBehind != nil {
		c.PageBehind = *f.PageBehind
	}
	if f.MaxPreviewBytes != nil {
		c.MaxPreviewBytes = *f.MaxPreviewBytes
	}
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"http_timeout", f.HTTPTimeout, &c.HTTPTimeout},
		{"render_debounce", f.RenderDebounce, &c.RenderDebounce},
		{"stats_window", f.StatsWindow, &c.StatsWindow},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyFloors() {
	d := Defaults()
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.NominalPageWidth <= 0 {
		c.NominalPageWidth = d.NominalPageWidth
	}
	if c.PageLookahead < 0 {
		c.PageLookahead = d.PageLookahead
	}
	if c.PageBehind < -1 {
		c.PageBehind = -1
	}
	if c.RenderDebounce < 0 {
		c.RenderDebounce = d.RenderDebounce
	}
	if c.MaxPreviewBytes <= 0 {
		c.MaxPreviewBytes = d.MaxPreviewBytes
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = d.StatsWindow
	}
}

func (c Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("DOCVIEW_API_URL is required")
	}
	if c.SessionFile == "" {
		return fmt.Errorf("SESSION_FILE is required")
	}
	return nil
}

// ValidateServe checks the extra settings needed by the local preview service.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.DocviewAPIKey == "" {
		return fmt.Errorf("DOCVIEW_API_KEY is required")
	}
	return nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "docview", "session.toml")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
