package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bigtube application
type Config struct {
	// Server configuration
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Addr string `yaml:"-"` // computed from Host:Port

	// File system
	OutputDir      string `yaml:"output_dir"`   // user-provided
	AbsOutputDir   string `yaml:"-"`            // resolved/absolute path
	DBPath         string `yaml:"db_path"`      // user-provided
	AbsDBPath      string `yaml:"-"`            // resolved/absolute path
	HistoryPath    string `yaml:"history_path"` // user-provided
	AbsHistoryPath string `yaml:"-"`            // resolved/absolute path

	// Download behavior
	MaxConcurrent     int           `yaml:"max_concurrent"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	YTDLPPath         string        `yaml:"ytdlp_path"`
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	UserAgent         string        `yaml:"user_agent"`
	EmbedMetadata     bool          `yaml:"embed_metadata"`
	EmbedSubtitles    bool          `yaml:"embed_subtitles"`
	SubtitleLangs     string        `yaml:"subtitle_langs"`

	// Metadata cache
	InfoCacheSize int           `yaml:"info_cache_size"`
	InfoCacheTTL  time.Duration `yaml:"info_cache_ttl"`

	// HTTP rate limiting (requests per second per client IP)
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	// Logging
	LogLevel          string `yaml:"log_level"` // debug|info|warn|error
	UnsafeLogPayloads bool   `yaml:"unsafe_log_payloads"`

	// Validation & computed
	Version   string    `yaml:"-"` // app version
	StartTime time.Time `yaml:"-"` // when the app started
}

// DefaultUserAgent is sent to yt-dlp unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Version is overwritten at build time via -ldflags.
var Version = "dev"

// New creates a Config with default values
func New() *Config {
	return &Config{
		Host:              "127.0.0.1",
		Port:              8080,
		MaxConcurrent:     2,
		SchedulerInterval: 5 * time.Second,
		YTDLPPath:         "yt-dlp",
		FFmpegPath:        "ffmpeg",
		UserAgent:         DefaultUserAgent,
		EmbedMetadata:     true,
		EmbedSubtitles:    false,
		SubtitleLangs:     "en.*,pt.*",
		InfoCacheSize:     64,
		InfoCacheTTL:      10 * time.Minute,
		RateLimit:         10,
		RateBurst:         20,
		LogLevel:          "info",
		StartTime:         time.Now(),
		Version:           Version,
	}
}

// ConfigPaths returns the candidate config file paths in priority order
func ConfigPaths() []string {
	paths := make([]string, 0, 4)

	if envPath := os.Getenv("BIGTUBE_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}
	paths = append(paths, ".bigtube.yaml")
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "bigtube", "config.yaml"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".bigtube.yaml"))
	}
	return paths
}

// Load returns defaults overlaid with the first config file found, then env overrides.
func Load() (*Config, error) {
	cfg := New()
	for _, path := range ConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.LoadFile(path); err != nil {
				return nil, fmt.Errorf("loading config from %s: %w", path, err)
			}
			break
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFile loads configuration from a specific YAML file
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides binary paths from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("BIGTUBE_YTDLP_PATH")); v != "" {
		c.YTDLPPath = v
	}
	if v := strings.TrimSpace(os.Getenv("BIGTUBE_FFMPEG_PATH")); v != "" {
		c.FFmpegPath = v
	}
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	// Validate port range
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.SchedulerInterval <= 0 {
		c.SchedulerInterval = 5 * time.Second
	}
	if c.InfoCacheSize < 1 {
		c.InfoCacheSize = 64
	}
	if c.InfoCacheTTL <= 0 {
		c.InfoCacheTTL = 10 * time.Minute
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst < 1 {
		c.RateBurst = 20
	}
	if strings.TrimSpace(c.YTDLPPath) == "" {
		c.YTDLPPath = "yt-dlp"
	}
	if strings.TrimSpace(c.FFmpegPath) == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	c.LogLevel = strings.ToLower(c.LogLevel)
	valid := false
	for _, level := range validLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log level: %s (must be debug|info|warn|error)", c.LogLevel)
	}

	// Compute address
	c.Addr = c.ComputeAddr()

	return nil
}

// ResolveOutputDir expands the output directory path and resolves it to an absolute path
// If empty, defaults to $HOME/Videos/BigTube
func (c *Config) ResolveOutputDir() error {
	if c.OutputDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home directory: %w", err)
		}
		c.OutputDir = filepath.Join(home, "Videos", "BigTube")
	}
	abs, err := resolvePath(c.OutputDir)
	if err != nil {
		return err
	}
	c.OutputDir, c.AbsOutputDir = abs, abs
	return nil
}

// ResolveDBPath expands the database path and resolves it to an absolute path
// If empty, defaults to the user cache directory
func (c *Config) ResolveDBPath() error {
	if c.DBPath == "" {
		c.DBPath = defaultDataPath("bigtube.db")
	}
	abs, err := resolvePath(c.DBPath)
	if err != nil {
		return err
	}
	c.AbsDBPath = abs
	return nil
}

// ResolveHistoryPath resolves the JSON history file location.
func (c *Config) ResolveHistoryPath() error {
	if c.HistoryPath == "" {
		c.HistoryPath = defaultDataPath("history.json")
	}
	abs, err := resolvePath(c.HistoryPath)
	if err != nil {
		return err
	}
	c.AbsHistoryPath = abs
	return nil
}

// SearchesPath is the search query history file, kept beside the download history.
func (c *Config) SearchesPath() string {
	return filepath.Join(filepath.Dir(c.AbsHistoryPath), "search_history.json")
}

// ConversionsPath is the conversion history file, kept beside the download history.
func (c *Config) ConversionsPath() string {
	return filepath.Join(filepath.Dir(c.AbsHistoryPath), "conversions.json")
}

// Resolve runs every path resolver.
func (c *Config) Resolve() error {
	if err := c.ResolveOutputDir(); err != nil {
		return err
	}
	if err := c.ResolveDBPath(); err != nil {
		return err
	}
	return c.ResolveHistoryPath()
}

// resolvePath expands a leading ~ and returns an absolute path.
func resolvePath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		p = filepath.Join(home, p[2:])
	} else if p == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		p = home
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %s: %w", p, err)
	}
	return abs, nil
}

// ComputeAddr returns the full server address as host:port
func (c *Config) ComputeAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// String returns a pretty-printed representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf(`Config{
  Server:
    Host: %s
    Port: %d
    Addr: %s
  Files:
    OutputDir: %s (resolved: %s)
    DBPath: %s (resolved: %s)
    HistoryPath: %s (resolved: %s)
  Download:
    MaxConcurrent: %d
    SchedulerInterval: %s
    YTDLPPath: %s
    FFmpegPath: %s
  Logging:
    LogLevel: %s
    UnsafeLogPayloads: %t
  Meta:
    Version: %s
    StartTime: %s
}`, c.Host, c.Port, c.Addr,
		c.OutputDir, c.AbsOutputDir,
		c.DBPath, c.AbsDBPath,
		c.HistoryPath, c.AbsHistoryPath,
		c.MaxConcurrent, c.SchedulerInterval,
		c.YTDLPPath, c.FFmpegPath,
		c.LogLevel, c.UnsafeLogPayloads,
		c.Version, c.StartTime.Format(time.RFC3339))
}

// Summary returns a one-line summary of key configuration
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"addr":                c.Addr,
		"output_dir":          c.AbsOutputDir,
		"db_path":             c.AbsDBPath,
		"history_path":        c.AbsHistoryPath,
		"max_concurrent":      c.MaxConcurrent,
		"scheduler_interval":  c.SchedulerInterval.String(),
		"ytdlp_path":          c.YTDLPPath,
		"log_level":           c.LogLevel,
		"unsafe_log_payloads": c.UnsafeLogPayloads,
		"version":             c.Version,
	}
}

// defaultDataPath returns the cross-platform default location for bigtube state files
// - Windows: %APPDATA%/bigtube/<name>
// - Linux/macOS: $HOME/.cache/bigtube/<name>
func defaultDataPath(name string) string {
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "bigtube", name)
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "AppData", "Roaming", "bigtube", name)
		}
		return name
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "bigtube", name)
	}
	return filepath.Join("bigtube", name)
}
