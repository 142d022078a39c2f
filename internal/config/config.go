// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. YTCATALOG_DATA_DIR.
const EnvPrefix = "ytcatalog"

// EnvKeyReplacer maps nested keys onto environment variable names.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// ErrMissingAPIKey is returned when a run needs the Data API and no key is configured.
var ErrMissingAPIKey = errors.New("missing YouTube Data API key")

// Sync modes.
const (
	ModeUpdate = "update"
	ModeNew    = "new"
)

// Config holds all application configuration.
type Config struct {
	// Catalog location and input lists
	DataDir        string
	ChannelSources string
	VideoSources   string
	CoursesFile    string
	LockTimeout    time.Duration

	// Data API
	APIKey               string
	APIRequestsPerSecond float64

	// Incremental sync settings
	Mode                 string
	PageLimit            int
	PlaylistPageLimit    int
	ChannelLimit         int
	StartFrom            string
	StopOnKnown          bool
	IncludeLocalizations bool
	PrepOnly             bool
	SkipEnrichment       bool

	// Enrichment settings
	Providers       []string
	RequestDelay    time.Duration
	BackoffSchedule []time.Duration
	MaxWaitCycles   int
	RetryErrors     []string
	NoRetryErrors   []string
	LimitPerChannel int
	NewestFirst     bool
	ChannelIDs      []string
	ChannelTitles   []string
	BatchSize       int

	// Provider settings
	YtdlpPath       string
	YtdlpTimeout    time.Duration
	CookiesPath     string
	InnertubeClient string

	// Transport retry settings
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// Logging
	LogLevel string
	LogJSON  bool
	LogDir   string

	// SQLiteExport is the path of an optional SQLite mirror of the catalog.
	SQLiteExport string
}

// Defaults lists the factory value of every configuration key.
var Defaults = map[string]any{
	"data_dir":              ".",
	"channel_sources":       "",
	"video_sources":         "",
	"courses_file":          "",
	"lock_timeout":          "5s",
	"api_key":               "",
	"api_rps":               5.0,
	"mode":                  ModeUpdate,
	"page_limit":            0,
	"playlist_page_limit":   0,
	"channel_limit":         0,
	"start_from":            "",
	"stop_on_known":         true,
	"include_localizations": true,
	"prep_only":             false,
	"skip_enrichment":       false,
	"providers":             "innertube,yt-dlp,dataapi",
	"request_delay":         "1.5s",
	"backoff_schedule":      "1h,3h,6h,12h",
	"max_wait_cycles":       0,
	"retry_errors":          "",
	"no_retry_errors":       "",
	"limit_per_channel":     0,
	"newest_first":          false,
	"channel_ids":           "",
	"channel_titles":        "",
	"batch_size":            25,
	"ytdlp_path":            "yt-dlp",
	"ytdlp_timeout":         "2m",
	"cookies_path":          "",
	"innertube_client":      "WEB",
	"max_retries":           5,
	"initial_backoff":       "1s",
	"max_backoff":           "30s",
	"backoff_multiplier":    2.0,
	"log_level":             "info",
	"log_json":              false,
	"log_dir":               "",
	"sqlite_export":         "",
}

// DefaultConfig returns configuration with safe defaults. It matches what
// Load yields from Defaults with no file or environment.
func DefaultConfig() *Config {
	dataDir := "."
	return &Config{
		DataDir:              dataDir,
		ChannelSources:       filepath.Join(dataDir, "_YouTube_Channels.csv"),
		VideoSources:         filepath.Join(dataDir, "_YouTube_Videos.csv"),
		CoursesFile:          filepath.Join(dataDir, "_YouTube_Courses.txt"),
		LockTimeout:          5 * time.Second,
		APIRequestsPerSecond: 5.0,
		Mode:                 ModeUpdate,
		StopOnKnown:          true,
		IncludeLocalizations: true,
		Providers:            []string{"innertube", "yt-dlp", "dataapi"},
		RequestDelay:         1500 * time.Millisecond,
		BackoffSchedule:      []time.Duration{time.Hour, 3 * time.Hour, 6 * time.Hour, 12 * time.Hour},
		BatchSize:            25,
		YtdlpPath:            "yt-dlp",
		YtdlpTimeout:         2 * time.Minute,
		InnertubeClient:      "WEB",
		MaxRetries:           5,
		InitialBackoff:       time.Second,
		MaxBackoff:           30 * time.Second,
		BackoffMultiplier:    2.0,
		LogLevel:             "info",
	}
}

// Load loads configuration from environment variables, an optional config
// file, and applies defaults.
// Priority: env vars > config file > defaults
func Load(fs afero.Fs, searchPaths ...string) (*Config, error) {
	v := newViper(fs, true)
	v.SetConfigName(EnvPrefix)
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if len(searchPaths) == 0 {
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper(fs afero.Fs, env bool) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	if env {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(EnvKeyReplacer)
		v.AutomaticEnv()
	}
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir:              v.GetString("data_dir"),
		ChannelSources:       v.GetString("channel_sources"),
		VideoSources:         v.GetString("video_sources"),
		CoursesFile:          v.GetString("courses_file"),
		LockTimeout:          v.GetDuration("lock_timeout"),
		APIKey:               v.GetString("api_key"),
		APIRequestsPerSecond: v.GetFloat64("api_rps"),
		Mode:                 strings.ToLower(v.GetString("mode")),
		PageLimit:            v.GetInt("page_limit"),
		PlaylistPageLimit:    v.GetInt("playlist_page_limit"),
		ChannelLimit:         v.GetInt("channel_limit"),
		StartFrom:            v.GetString("start_from"),
		StopOnKnown:          v.GetBool("stop_on_known"),
		IncludeLocalizations: v.GetBool("include_localizations"),
		PrepOnly:             v.GetBool("prep_only"),
		SkipEnrichment:       v.GetBool("skip_enrichment"),
		Providers:            splitList(v.Get("providers"), ","),
		RequestDelay:         v.GetDuration("request_delay"),
		MaxWaitCycles:        v.GetInt("max_wait_cycles"),
		RetryErrors:          splitList(v.Get("retry_errors"), ";"),
		NoRetryErrors:        splitList(v.Get("no_retry_errors"), ";"),
		LimitPerChannel:      v.GetInt("limit_per_channel"),
		NewestFirst:          v.GetBool("newest_first"),
		ChannelIDs:           splitList(v.Get("channel_ids"), ","),
		ChannelTitles:        splitList(v.Get("channel_titles"), ","),
		BatchSize:            v.GetInt("batch_size"),
		YtdlpPath:            v.GetString("ytdlp_path"),
		YtdlpTimeout:         v.GetDuration("ytdlp_timeout"),
		CookiesPath:          v.GetString("cookies_path"),
		InnertubeClient:      v.GetString("innertube_client"),
		MaxRetries:           v.GetInt("max_retries"),
		InitialBackoff:       v.GetDuration("initial_backoff"),
		MaxBackoff:           v.GetDuration("max_backoff"),
		BackoffMultiplier:    v.GetFloat64("backoff_multiplier"),
		LogLevel:             v.GetString("log_level"),
		LogJSON:              v.GetBool("log_json"),
		LogDir:               v.GetString("log_dir"),
		SQLiteExport:         v.GetString("sqlite_export"),
	}

	for _, raw := range splitList(v.Get("backoff_schedule"), ",") {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse backoff_schedule entry %q: %w", raw, err)
		}
		cfg.BackoffSchedule = append(cfg.BackoffSchedule, d)
	}

	if cfg.ChannelSources == "" {
		cfg.ChannelSources = filepath.Join(cfg.DataDir, "_YouTube_Channels.csv")
	}
	if cfg.VideoSources == "" {
		cfg.VideoSources = filepath.Join(cfg.DataDir, "_YouTube_Videos.csv")
	}
	if cfg.CoursesFile == "" {
		cfg.CoursesFile = filepath.Join(cfg.DataDir, "_YouTube_Courses.txt")
	}
	return cfg, nil
}

// splitList accepts either a list from a config file or a delimited string
// from the environment.
func splitList(raw any, sep string) []string {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(val, sep)
	case []string:
		parts = val
	case []any:
		parts = lo.Map(val, func(item any, _ int) string { return fmt.Sprint(item) })
	default:
		parts = []string{fmt.Sprint(val)}
	}
	parts = lo.Map(parts, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Compact(parts)
}

// RequireAPIKey fails fast when a run needs the Data API.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Mode != ModeUpdate && c.Mode != ModeNew {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeUpdate, ModeNew, c.Mode)
	}
	if c.PageLimit < 0 || c.PlaylistPageLimit < 0 || c.ChannelLimit < 0 {
		return fmt.Errorf("page and channel limits must be non-negative")
	}
	if c.LimitPerChannel < 0 {
		return fmt.Errorf("limit_per_channel must be non-negative")
	}
	if c.MaxWaitCycles < 0 {
		return fmt.Errorf("max_wait_cycles must be non-negative")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("request_delay must be non-negative")
	}
	if len(c.BackoffSchedule) == 0 {
		return fmt.Errorf("backoff_schedule must have at least one entry")
	}
	for i, d := range c.BackoffSchedule {
		if d < 0 {
			return fmt.Errorf("backoff_schedule[%d] must be non-negative", i)
		}
		if i > 0 && d < c.BackoffSchedule[i-1] {
			return fmt.Errorf("backoff_schedule must be non-decreasing")
		}
	}
	if len(c.Providers) == 0 && !c.SkipEnrichment {
		return fmt.Errorf("providers must name at least one provider")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.YtdlpTimeout <= 0 {
		return fmt.Errorf("ytdlp_timeout must be positive")
	}
	if c.APIRequestsPerSecond <= 0 {
		return fmt.Errorf("api_rps must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1 {
		return fmt.Errorf("backoff_multiplier must be > 1")
	}
	return nil
}
