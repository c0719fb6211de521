// Package updater checks and installs yt-dlp releases.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/natefinch/atomic"

	"bigtube/internal/logging"
)

const (
	DefaultReleasesURL = "https://api.github.com/repos/yt-dlp/yt-dlp/releases/latest"
	DefaultDownloadURL = "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"
)

var (
	// ErrNoRelease indicates the release API answered without a tag
	ErrNoRelease = errors.New("no_release")

	// ErrUnknownLocal indicates the local yt-dlp version could not be read
	ErrUnknownLocal = errors.New("unknown_local_version")
)

// Options configures a Checker.
type Options struct {
	Binary      string // local yt-dlp
	UserAgent   string
	ReleasesURL string
	DownloadURL string
	RetryMax    int
	Timeout     time.Duration
}

// Checker compares the local yt-dlp with the latest release.
type Checker struct {
	opts   Options
	client *http.Client
}

// retryLogger forwards retry warnings to the process logger.
type retryLogger struct{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	if logging.Logger != nil {
		logging.Logger.Error(msg, append([]any{"event", "updater_retry"}, keysAndValues...)...)
	}
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	if logging.Logger != nil {
		logging.Logger.Warn(msg, append([]any{"event", "updater_retry"}, keysAndValues...)...)
	}
}

func (retryLogger) Info(string, ...interface{})  {}
func (retryLogger) Debug(string, ...interface{}) {}

// New returns a checker with retrying HTTP transport.
func New(opts Options) *Checker {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "BigTube/1.0"
	}
	if opts.ReleasesURL == "" {
		opts.ReleasesURL = DefaultReleasesURL
	}
	if opts.DownloadURL == "" {
		opts.DownloadURL = DefaultDownloadURL
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = retryLogger{}
	client := rc.StandardClient()
	client.Timeout = opts.Timeout * time.Duration(opts.RetryMax+1)

	return &Checker{opts: opts, client: client}
}

// LocalVersion runs `yt-dlp --version`.
func (c *Checker) LocalVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, c.opts.Binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownLocal, err)
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "", ErrUnknownLocal
	}
	return v, nil
}

type release struct {
	TagName string `json:"tag_name"`
}

// LatestVersion returns the tag of the latest release without a "v" prefix.
func (c *Checker) LatestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.ReleasesURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch release: status %d", resp.StatusCode)
	}

	var r release
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&r); err != nil {
		return "", fmt.Errorf("decode release: %w", err)
	}
	tag := strings.TrimLeft(strings.TrimSpace(r.TagName), "v")
	if tag == "" {
		return "", ErrNoRelease
	}
	return tag, nil
}

// CompareVersions reports whether remote is newer than local. Dotted numeric
// versions ("2024.01.16", dashes allowed) compare part by part; anything else
// falls back to string order.
func CompareVersions(local, remote string) bool {
	if local == "" || remote == "" {
		return false
	}
	lp, lok := numericParts(local)
	rp, rok := numericParts(remote)
	if !lok || !rok {
		return remote > local
	}
	for i := 0; i < len(lp) && i < len(rp); i++ {
		if lp[i] != rp[i] {
			return rp[i] > lp[i]
		}
	}
	return len(rp) > len(lp)
}

func numericParts(v string) ([]int, bool) {
	fields := strings.Split(strings.ReplaceAll(v, "-", "."), ".")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// Result is the outcome of Check.
type Result struct {
	Local     string `json:"local"`
	Remote    string `json:"remote,omitempty"`
	Available bool   `json:"available"`
}

// Check compares the local version with the latest release.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	local, err := c.LocalVersion(ctx)
	if err != nil {
		return Result{}, err
	}
	remote, err := c.LatestVersion(ctx)
	if err != nil {
		return Result{Local: local}, err
	}
	res := Result{Local: local, Remote: remote, Available: CompareVersions(local, remote)}
	if logging.Logger != nil {
		logging.Logger.Info("yt-dlp version check",
			"event", "update_check",
			"local", local,
			"remote", remote,
			"available", res.Available)
	}
	return res, nil
}

// Install downloads the latest release binary to dest, replacing it
// atomically and marking it executable. It returns the installed version.
func (c *Checker) Install(ctx context.Context, dest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create bin dir: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.DownloadURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download yt-dlp: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download yt-dlp: status %d", resp.StatusCode)
	}
	if err := atomic.WriteFile(dest, resp.Body); err != nil {
		return "", fmt.Errorf("write yt-dlp: %w", err)
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return "", fmt.Errorf("chmod yt-dlp: %w", err)
	}

	installed := &Checker{opts: c.opts, client: c.client}
	installed.opts.Binary = dest
	v, err := installed.LocalVersion(ctx)
	if logging.Logger != nil {
		logging.Logger.Info("yt-dlp installed",
			"event", "update_install",
			"path", dest,
			"version", v,
			"error", err)
	}
	return v, err
}

// Online reports whether any of addrs accepts a TCP connection within timeout.
func Online(ctx context.Context, timeout time.Duration, addrs ...string) bool {
	if len(addrs) == 0 {
		addrs = []string{"www.google.com:80", "1.1.1.1:53"}
	}
	d := net.Dialer{Timeout: timeout}
	for _, addr := range addrs {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return true
		}
	}
	return false
}
