package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingSettlement is returned when no settlement id was configured.
var ErrMissingSettlement = errors.New("config: settlement id is required")

// Config is the resolved client configuration.
type Config struct {
	BaseURL          string
	Token            string
	SettlementID     int
	GridSize         int
	SurfacePx        int
	PollInterval     time.Duration
	EventsInterval   time.Duration
	Debounce         time.Duration
	QuickPopupTTL    time.Duration
	DetailedPopupTTL time.Duration
	SpritesDir       string
	DataDir          string
	CacheEnabled     bool
	PushURL          string
	LogLevel         string
	HTTPTimeout      time.Duration

	// File is the JSON file that was applied, if any.
	File string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BaseURL:          "http://localhost:8000/api",
		GridSize:         10,
		SurfacePx:        480,
		PollInterval:     time.Second,
		EventsInterval:   10 * time.Second,
		Debounce:         180 * time.Millisecond,
		QuickPopupTTL:    6 * time.Second,
		DetailedPopupTTL: 8 * time.Second,
		SpritesDir:       "assets/sprites",
		CacheEnabled:     true,
		LogLevel:         "info",
		HTTPTimeout:      10 * time.Second,
	}
}

// fileConfig mirrors Config for JSON files. Durations are strings such as
// "1s" or "250ms"; absent keys leave the current value alone.
type fileConfig struct {
	BaseURL          *string `json:"base_url"`
	Token            *string `json:"token"`
	SettlementID     *int    `json:"settlement_id"`
	GridSize         *int    `json:"grid_size"`
	SurfacePx        *int    `json:"surface_px"`
	PollInterval     *string `json:"poll_interval"`
	EventsInterval   *string `json:"events_interval"`
	Debounce         *string `json:"debounce"`
	QuickPopupTTL    *string `json:"quick_popup_ttl"`
	DetailedPopupTTL *string `json:"detailed_popup_ttl"`
	SpritesDir       *string `json:"sprites_dir"`
	DataDir          *string `json:"data_dir"`
	CacheEnabled     *bool   `json:"cache_enabled"`
	PushURL          *string `json:"push_url"`
	LogLevel         *string `json:"log_level"`
	HTTPTimeout      *string `json:"http_timeout"`
}

// Load resolves the configuration. getenv is usually os.Getenv; tests pass
// a map lookup. extra registers command-specific flags on the same flag
// set.
func Load(args []string, getenv func(string) string, extra ...func(*flag.FlagSet)) (Config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	// First pass only finds -config; the second pass reports bad flags.
	scratch := Default()
	path := getenv("AURORA_CONFIG")
	pre := newFlagSet(&scratch, &path)
	for _, fn := range extra {
		fn(pre)
	}
	pre.SetOutput(io.Discard)
	_ = pre.Parse(args)

	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
		cfg.File = path
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	fs := newFlagSet(&cfg, &path)
	for _, fn := range extra {
		fn(fs)
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the invariants the client relies on.
func (c Config) Validate() error {
	if c.SettlementID <= 0 {
		return ErrMissingSettlement
	}
	if c.GridSize <= 0 {
		return fmt.Errorf("config: grid size must be positive, got %d", c.GridSize)
	}
	if c.SurfacePx < c.GridSize {
		return fmt.Errorf("config: surface of %dpx cannot hold a %d-cell grid", c.SurfacePx, c.GridSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive, got %s", c.PollInterval)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("config: debounce must be positive, got %s", c.Debounce)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

func newFlagSet(c *Config, path *string) *flag.FlagSet {
	fs := flag.NewFlagSet("aurora", flag.ContinueOnError)
	fs.StringVar(path, "config", *path, "JSON config file")
	fs.StringVar(&c.BaseURL, "base-url", c.BaseURL, "server API base URL")
	fs.StringVar(&c.Token, "token", c.Token, "bearer token")
	fs.IntVar(&c.SettlementID, "settlement", c.SettlementID, "settlement id to display")
	fs.IntVar(&c.GridSize, "grid", c.GridSize, "grid cells per side")
	fs.IntVar(&c.SurfacePx, "surface", c.SurfacePx, "map surface size in pixels")
	fs.DurationVar(&c.PollInterval, "poll", c.PollInterval, "settlement, map and clock poll interval")
	fs.DurationVar(&c.EventsInterval, "events-poll", c.EventsInterval, "event log poll interval (negative disables)")
	fs.DurationVar(&c.Debounce, "debounce", c.Debounce, "double-click window")
	fs.DurationVar(&c.QuickPopupTTL, "quick-ttl", c.QuickPopupTTL, "quick popup lifetime")
	fs.DurationVar(&c.DetailedPopupTTL, "detailed-ttl", c.DetailedPopupTTL, "detailed popup lifetime")
	fs.StringVar(&c.SpritesDir, "sprites", c.SpritesDir, "directory holding the sprite sheets")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "snapshot directory (empty uses the user config dir)")
	fs.BoolVar(&c.CacheEnabled, "cache", c.CacheEnabled, "persist last-known-good snapshots")
	fs.StringVar(&c.PushURL, "push-url", c.PushURL, "websocket URL for change hints (empty disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.DurationVar(&c.HTTPTimeout, "http-timeout", c.HTTPTimeout, "per-request timeout")
	return fs
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var f fileConfig
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	setString(&c.BaseURL, f.BaseURL)
	setString(&c.Token, f.Token)
	setString(&c.SpritesDir, f.SpritesDir)
	setString(&c.DataDir, f.DataDir)
	setString(&c.PushURL, f.PushURL)
	setString(&c.LogLevel, f.LogLevel)
	if f.SettlementID != nil {
		c.SettlementID = *f.SettlementID
	}
	if f.GridSize != nil {
		c.GridSize = *f.GridSize
	}
	if f.SurfacePx != nil {
		c.SurfacePx = *f.SurfacePx
	}
	if f.CacheEnabled != nil {
		c.CacheEnabled = *f.CacheEnabled
	}
	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"poll_interval", f.PollInterval, &c.PollInterval},
		{"events_interval", f.EventsInterval, &c.EventsInterval},
		{"debounce", f.Debounce, &c.Debounce},
		{"quick_popup_ttl", f.QuickPopupTTL, &c.QuickPopupTTL},
		{"detailed_popup_ttl", f.DetailedPopupTTL, &c.DetailedPopupTTL},
		{"http_timeout", f.HTTPTimeout, &c.HTTPTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("config: %s in %s: %w", d.key, path, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyEnv(c *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"AURORA_BASE_URL":    &c.BaseURL,
		"AURORA_TOKEN":       &c.Token,
		"AURORA_SPRITES_DIR": &c.SpritesDir,
		"AURORA_DATA_DIR":    &c.DataDir,
		"AURORA_PUSH_URL":    &c.PushURL,
		"AURORA_LOG_LEVEL":   &c.LogLevel,
	}
	for k, dst := range strs {
		if v := getenv(k); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"AURORA_SETTLEMENT_ID": &c.SettlementID,
		"AURORA_GRID_SIZE":     &c.GridSize,
		"AURORA_SURFACE_PX":    &c.SurfacePx,
	}
	for k, dst := range ints {
		v := strings.TrimSpace(getenv(k))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", k, err)
		}
		*dst = n
	}

	durs := map[string]*time.Duration{
		"AURORA_POLL_INTERVAL":      &c.PollInterval,
		"AURORA_EVENTS_INTERVAL":    &c.EventsInterval,
		"AURORA_DEBOUNCE":           &c.Debounce,
		"AURORA_QUICK_POPUP_TTL":    &c.QuickPopupTTL,
		"AURORA_DETAILED_POPUP_TTL": &c.DetailedPopupTTL,
		"AURORA_HTTP_TIMEOUT":       &c.HTTPTimeout,
	}
	for k, dst := range durs {
		v := strings.TrimSpace(getenv(k))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", k, err)
		}
		*dst = d
	}

	if v := strings.TrimSpace(getenv("AURORA_CACHE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: AURORA_CACHE: %w", err)
		}
		c.CacheEnabled = b
	}
	return nil
}
