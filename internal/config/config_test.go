package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("expected default Host = 127.0.0.1, got %s", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default Port = 8080, got %d", cfg.Port)
	}
	if cfg.MaxConcurrent != 2 {
		t.Errorf("expected default MaxConcurrent = 2, got %d", cfg.MaxConcurrent)
	}
	if cfg.SchedulerInterval != 5*time.Second {
		t.Errorf("expected default SchedulerInterval = 5s, got %s", cfg.SchedulerInterval)
	}
	if cfg.YTDLPPath != "yt-dlp" {
		t.Errorf("expected default YTDLPPath = yt-dlp, got %s", cfg.YTDLPPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default LogLevel = info, got %s", cfg.LogLevel)
	}
	if cfg.UnsafeLogPayloads {
		t.Errorf("expected default UnsafeLogPayloads = false, got true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			cfg: &Config{
				Host:     "localhost",
				Port:     3000,
				MaxConcurrent: 2,
				LogLevel:      "debug",
			},
			wantErr: false,
		},
		{
			name: "invalid port low",
			cfg: &Config{
				Port:     0,
				LogLevel: "info",
			},
			wantErr: true,
			errMsg:  "invalid port",
		},
		{
			name: "invalid port high",
			cfg: &Config{
				Port:     70000,
				LogLevel: "info",
			},
			wantErr: true,
			errMsg:  "invalid port",
		},
		{
			name: "invalid log level",
			cfg: &Config{
				Port:     8080,
				LogLevel: "invalid",
			},
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name: "auto-fix concurrency",
			cfg: &Config{
				Port:          8080,
				MaxConcurrent: 0,
				LogLevel:      "info",
			},
			wantErr: false,
		},
		{
			name: "auto-fix scheduler interval",
			cfg: &Config{
				Port:              8080,
				SchedulerInterval: -time.Second,
				LogLevel:          "info",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error but got nil")
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				// Check that address was computed
				if tt.cfg.Addr == "" {
					t.Errorf("Validate() should compute Addr")
				}
				// Check auto-fixes
				if tt.cfg.MaxConcurrent < 1 {
					t.Errorf("Validate() should auto-fix MaxConcurrent to at least 1, got %d", tt.cfg.MaxConcurrent)
				}
				if tt.cfg.SchedulerInterval <= 0 {
					t.Errorf("Validate() should auto-fix SchedulerInterval, got %s", tt.cfg.SchedulerInterval)
				}
				if tt.cfg.YTDLPPath == "" {
					t.Errorf("Validate() should default YTDLPPath")
				}
			}
		})
	}
}

func TestResolveOutputDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	tests := []struct {
		name     string
		input    string
		wantPath string // expected substring in resolved path
	}{
		{
			name:     "empty defaults to home/Videos/BigTube",
			input:    "",
			wantPath: filepath.Join(home, "Videos", "BigTube"),
		},
		{
			name:     "tilde expansion",
			input:    "~/Downloads",
			wantPath: filepath.Join(home, "Downloads"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/tmp/videos",
			wantPath: "/tmp/videos",
		},
		{
			name:     "relative path resolved",
			input:    "downloads",
			wantPath: "downloads",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{OutputDir: tt.input}
			err := cfg.ResolveOutputDir()
			if err != nil {
				t.Errorf("ResolveOutputDir() error = %v", err)
				return
			}
			if cfg.AbsOutputDir == "" {
				t.Errorf("ResolveOutputDir() didn't set AbsOutputDir")
			}
			if !strings.Contains(cfg.AbsOutputDir, tt.wantPath) {
				t.Errorf("ResolveOutputDir() = %v, want to contain %v", cfg.AbsOutputDir, tt.wantPath)
			}
			// Should be an absolute path
			if !filepath.IsAbs(cfg.AbsOutputDir) {
				t.Errorf("ResolveOutputDir() = %v, want absolute path", cfg.AbsOutputDir)
			}
		})
	}
}

func TestResolveDBPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	tests := []struct {
		name     string
		input    string
		wantPath string // expected substring
	}{
		{
			name:  "empty defaults to cache",
			input: "",
			wantPath: func() string {
				if runtime.GOOS == "windows" {
					return filepath.Join("bigtube", "bigtube.db")
				}
				return filepath.Join(".cache", "bigtube", "bigtube.db")
			}(),
		},
		{
			name:     "tilde expansion",
			input:    "~/.local/share/bigtube.db",
			wantPath: filepath.Join(home, ".local", "share", "bigtube.db"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/var/lib/bigtube.db",
			wantPath: "/var/lib/bigtube.db",
		},
		{
			name:     "relative path resolved",
			input:    "data/bigtube.db",
			wantPath: "bigtube.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{DBPath: tt.input}
			err := cfg.ResolveDBPath()
			if err != nil {
				t.Errorf("ResolveDBPath() error = %v", err)
				return
			}
			if cfg.AbsDBPath == "" {
				t.Errorf("ResolveDBPath() didn't set AbsDBPath")
			}
			if !strings.Contains(cfg.AbsDBPath, tt.wantPath) {
				t.Errorf("ResolveDBPath() = %v, want to contain %v", cfg.AbsDBPath, tt.wantPath)
			}
			// Should be an absolute path
			if !filepath.IsAbs(cfg.AbsDBPath) {
				t.Errorf("ResolveDBPath() = %v, want absolute path", cfg.AbsDBPath)
			}
		})
	}
}

func TestComputeAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"localhost", 8080, "localhost:8080"},
		{"0.0.0.0", 3000, "0.0.0.0:3000"},
		{"127.0.0.1", 9999, "127.0.0.1:9999"},
		{"", 8080, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cfg := &Config{Host: tt.host, Port: tt.port}
			got := cfg.ComputeAddr()
			if got != tt.want {
				t.Errorf("ComputeAddr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	cfg := &Config{
		Host:              "localhost",
		Port:              8080,
		Addr:              "localhost:8080",
		OutputDir:         "~/Videos",
		AbsOutputDir:      "/home/user/Videos",
		DBPath:            "bigtube.db",
		AbsDBPath:         "/home/user/.cache/bigtube/bigtube.db",
		MaxConcurrent:     4,
		LogLevel:          "info",
		UnsafeLogPayloads: true,
		Version:           "1.0.0",
	}

	str := cfg.String()
	if !strings.Contains(str, "localhost:8080") {
		t.Errorf("String() missing addr")
	}
	if !strings.Contains(str, "MaxConcurrent: 4") {
		t.Errorf("String() missing max concurrent")
	}
	if !strings.Contains(str, "LogLevel: info") {
		t.Errorf("String() missing log level")
	}
	if !strings.Contains(str, "UnsafeLogPayloads: true") {
		t.Errorf("String() missing unsafe payload logging flag")
	}
}

func TestSummary(t *testing.T) {
	cfg := &Config{
		Addr:              "localhost:8080",
		AbsOutputDir:      "/home/user/Videos",
		AbsDBPath:         "/home/user/.cache/bigtube.db",
		MaxConcurrent:     4,
		LogLevel:          "info",
		UnsafeLogPayloads: true,
		Version:           "1.0.0",
	}

	summary := cfg.Summary()

	if summary["addr"] != "localhost:8080" {
		t.Errorf("Summary() addr = %v, want localhost:8080", summary["addr"])
	}
	if summary["max_concurrent"] != 4 {
		t.Errorf("Summary() max_concurrent = %v, want 4", summary["max_concurrent"])
	}
	if summary["log_level"] != "info" {
		t.Errorf("Summary() log_level = %v, want info", summary["log_level"])
	}
	if summary["unsafe_log_payloads"] != true {
		t.Errorf("Summary() unsafe_log_payloads = %v, want true", summary["unsafe_log_payloads"])
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `port: 9090
max_concurrent: 5
scheduler_interval: 2s
embed_subtitles: true
subtitle_langs: "de.*"
log_level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := New()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Port != 9090 || cfg.MaxConcurrent != 5 {
		t.Fatalf("unexpected values: port=%d max=%d", cfg.Port, cfg.MaxConcurrent)
	}
	if cfg.SchedulerInterval != 2*time.Second {
		t.Fatalf("expected 2s interval, got %s", cfg.SchedulerInterval)
	}
	if !cfg.EmbedSubtitles || cfg.SubtitleLangs != "de.*" {
		t.Fatalf("subtitle settings not loaded: %v %q", cfg.EmbedSubtitles, cfg.SubtitleLangs)
	}
	// Unset keys keep defaults
	if cfg.YTDLPPath != "yt-dlp" {
		t.Fatalf("expected default yt-dlp path retained, got %q", cfg.YTDLPPath)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := New().LoadFile(path); err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
	if err := New().LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected read error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BIGTUBE_YTDLP_PATH", "/opt/yt-dlp")
	t.Setenv("BIGTUBE_FFMPEG_PATH", " ")
	cfg := New()
	cfg.ApplyEnv()
	if cfg.YTDLPPath != "/opt/yt-dlp" {
		t.Fatalf("expected env override, got %q", cfg.YTDLPPath)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Fatalf("blank env should not override, got %q", cfg.FFmpegPath)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		OutputDir:   filepath.Join(dir, "out"),
		DBPath:      filepath.Join(dir, "db.sqlite"),
		HistoryPath: filepath.Join(dir, "history.json"),
	}
	if err := cfg.Resolve(); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.AbsHistoryPath != filepath.Join(dir, "history.json") {
		t.Fatalf("unexpected history path %q", cfg.AbsHistoryPath)
	}
	if cfg.AbsDBPath == "" || cfg.AbsOutputDir == "" {
		t.Fatalf("expected all paths resolved: %+v", cfg)
	}
	if got := cfg.SearchesPath(); got != filepath.Join(dir, "search_history.json") {
		t.Fatalf("searches path %q", got)
	}
	if got := cfg.ConversionsPath(); got != filepath.Join(dir, "conversions.json") {
		t.Fatalf("conversions path %q", got)
	}
}
