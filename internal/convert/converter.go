// Package convert re-encodes downloaded media with ffmpeg.
package convert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bigtube/internal/logging"
)

var subtitleExts = []string{".srt", ".vtt", ".ass"}

// Options configures a Converter.
type Options struct {
	FFmpeg       string
	FFprobe      string
	OutputDir    string // used when UseSourceDir is false and its parent exists
	UseSourceDir bool
}

// Request describes one conversion.
type Request struct {
	Input     string
	Format    string // target extension, e.g. "mp3"
	Metadata  bool   // copy container metadata
	Subtitles bool   // mux a sidecar subtitle file when present
}

// Converter runs ffmpeg conversions.
type Converter struct {
	opts Options
}

// New returns a converter. Empty binary names default to ffmpeg and ffprobe.
func New(opts Options) *Converter {
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.FFprobe == "" {
		opts.FFprobe = siblingProbe(opts.FFmpeg)
	}
	return &Converter{opts: opts}
}

// siblingProbe guesses ffprobe next to an explicitly located ffmpeg.
func siblingProbe(ffmpeg string) string {
	if ffmpeg == "ffmpeg" || !strings.ContainsRune(ffmpeg, filepath.Separator) {
		return "ffprobe"
	}
	name := strings.Replace(filepath.Base(ffmpeg), "ffmpeg", "ffprobe", 1)
	return filepath.Join(filepath.Dir(ffmpeg), name)
}

// Check verifies both ffmpeg and ffprobe are resolvable.
func (c *Converter) Check() error {
	for _, bin := range []string{c.opts.FFmpeg, c.opts.FFprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s", ErrFFmpegNotFound, bin)
		}
	}
	return nil
}

// Duration returns the media duration in seconds as reported by ffprobe.
func (c *Converter) Duration(ctx context.Context, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, c.opts.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

// BuildArgs constructs the ffmpeg argument list. subtitle may be empty.
func BuildArgs(input, subtitle, output, format string, metadata bool) []string {
	args := []string{"-i", input}
	if subtitle != "" {
		args = append(args, "-i", subtitle)
	}
	args = append(args, "-y")
	if subtitle != "" {
		args = append(args, "-map", "0:v?", "-map", "0:a?", "-map", "1:s?")
		if strings.EqualFold(format, "mp4") {
			args = append(args, "-c:s", "mov_text")
		} else {
			args = append(args, "-c:s", "copy")
		}
	}
	if metadata {
		args = append(args, "-map_metadata", "0")
	}
	return append(args, "-progress", "pipe:1", "-nostats", output)
}

// Convert re-encodes req.Input into req.Format and returns the output path.
// Cancelling ctx stops ffmpeg and removes the partial output.
func (c *Converter) Convert(ctx context.Context, req Request, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(Progress) {}
	}
	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Format), "."))
	if format == "" {
		return "", ErrEmptyFormat
	}
	if _, err := os.Stat(req.Input); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInputNotFound, req.Input)
	}

	dir, err := c.outputDir(req.Input)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(req.Input), filepath.Ext(req.Input))
	output := UniquePath(dir, base, format)

	duration, err := c.Duration(ctx, req.Input)
	if err != nil && logging.Logger != nil {
		// progress is unavailable but the conversion can still run
		logging.Logger.Warn("duration probe failed",
			"event", "ffprobe_error",
			"input", req.Input,
			"error", err)
	}

	subtitle := ""
	if req.Subtitles {
		subtitle = findSubtitle(req.Input)
	}
	args := BuildArgs(req.Input, subtitle, output, format, req.Metadata)

	cmd := exec.CommandContext(ctx, c.opts.FFmpeg, args...)
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout: %w", err)
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
		}
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}

	parser := &progressParser{duration: duration}
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		if p, ok := parser.feed(sc.Text()); ok {
			progress(p)
		}
	}
	// Drain so ffmpeg never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		_ = os.Remove(output)
		logging.LogConversion(req.Input, output, ErrCancelled)
		return "", ErrCancelled
	}
	if waitErr != nil {
		_ = os.Remove(output)
		err := fmt.Errorf("ffmpeg: %v: %s", waitErr, tail(stderrBuf.String(), 512))
		logging.LogConversion(req.Input, output, err)
		return "", err
	}

	progress(Progress{Fraction: 1})
	logging.LogConversion(req.Input, output, nil)
	return output, nil
}

func (c *Converter) outputDir(input string) (string, error) {
	src := filepath.Dir(input)
	if c.opts.UseSourceDir || c.opts.OutputDir == "" {
		return src, nil
	}
	if _, err := os.Stat(filepath.Dir(c.opts.OutputDir)); err != nil {
		return src, nil
	}
	if err := os.MkdirAll(c.opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return c.opts.OutputDir, nil
}

// UniquePath returns dir/base.ext, or the first free "base (N).ext".
func UniquePath(dir, base, ext string) string {
	p := filepath.Join(dir, base+"."+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p
		}
		p = filepath.Join(dir, fmt.Sprintf("%s (%d).%s", base, n, ext))
	}
}

// findSubtitle returns a sidecar subtitle next to input, if any.
func findSubtitle(input string) string {
	stem := strings.TrimSuffix(input, filepath.Ext(input))
	for _, ext := range subtitleExts {
		if _, err := os.Stat(stem + ext); err == nil {
			return stem + ext
		}
	}
	return ""
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
