package download

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
	"strings"
	"sync"
	"time"

	"bigtube/internal/logging"
	"bigtube/internal/validate"
)

var audioExts = map[string]bool{"mp3": true, "wav": true, "m4a": true, "opus": true, "flac": true}

// IsAudioExt reports whether ext selects audio extraction instead of a video merge.
func IsAudioExt(ext string) bool {
	return audioExts[strings.ToLower(ext)]
}

// DownloaderOptions configures how VideoDownloader invokes yt-dlp.
type DownloaderOptions struct {
	Binary         string
	OutputDir      string
	UserAgent      string
	FFmpeg         bool // ffmpeg was detected; enables embedding flags
	EmbedMetadata  bool
	EmbedSubtitles bool
	SubtitleLangs  string
}

// Outcome is the result of a single yt-dlp run.
type Outcome struct {
	State    State
	Err      error
	Filename string
}

// Downloader runs one task to completion. Start blocks.
type Downloader interface {
	Handle
	Start(ctx context.Context, p Params, progress ProgressFunc) Outcome
}

// DownloaderFactory builds a fresh downloader for each started task.
type DownloaderFactory func(t *Task) Downloader

// VideoDownloader executes yt-dlp downloads with progress tracking.
// It encapsulates all yt-dlp subprocess management and output parsing.
type VideoDownloader struct {
	opts DownloaderOptions
	id   string // task id, for logs

	mu        sync.Mutex
	proc      *os.Process
	params    Params
	cancelled bool
	paused    bool
}

// NewVideoDownloader creates a downloader with the given options.
func NewVideoDownloader(opts DownloaderOptions) *VideoDownloader {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	return &VideoDownloader{opts: opts}
}

// Factory returns a DownloaderFactory producing VideoDownloaders with opts.
func Factory(opts DownloaderOptions) DownloaderFactory {
	return func(t *Task) Downloader {
		d := NewVideoDownloader(opts)
		d.id = t.ID
		return d
	}
}

// BuildArgs constructs the yt-dlp argument list for p.
func BuildArgs(opts DownloaderOptions, p Params) []string {
	ua := opts.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0"
	}
	outTpl := filepath.Join(opts.OutputDir, validate.SafeTitle(p.Title, p.FormatID)+".%(ext)s")
	args := []string{
		"--no-warnings",
		"--newline",
		"--no-playlist",
		"--ignore-config",
		"--user-agent", ua,
		"-o", outTpl,
	}

	audio := IsAudioExt(p.Ext)
	if audio {
		format := p.FormatID
		if format == "" {
			format = "bestaudio"
		}
		args = append(args,
			"-f", format,
			"--extract-audio",
			"--audio-format", strings.ToLower(p.Ext),
			"--audio-quality", "0",
		)
	} else {
		format := p.FormatID
		if format == "" {
			format = "bestvideo*"
		}
		if !strings.Contains(format, "+bestaudio") {
			format += "+bestaudio/best"
		}
		args = append(args, "-f", format)
		if p.Ext != "" {
			args = append(args, "--merge-output-format", p.Ext)
		}
	}

	if opts.FFmpeg {
		if opts.EmbedMetadata {
			args = append(args, "--embed-metadata")
		}
		if opts.EmbedSubtitles && !audio {
			langs := opts.SubtitleLangs
			if langs == "" {
				langs = "en.*"
			}
			args = append(args, "--embed-subs", "--sub-langs", langs)
		}
	}

	if p.ForceOverwrite {
		args = append(args, "--force-overwrites")
	} else {
		args = append(args, "--continue")
	}

	return append(args, p.URL)
}

// Params returns the parameters of the last Start call.
func (d *VideoDownloader) Params() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// PID returns the yt-dlp process id, or 0 when not running.
func (d *VideoDownloader) PID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc == nil {
		return 0
	}
	return d.proc.Pid
}

// Cancel terminates the subprocess; the run ends as cancelled.
func (d *VideoDownloader) Cancel() {
	d.mu.Lock()
	d.cancelled = true
	p := d.proc
	d.mu.Unlock()
	if p != nil {
		_ = terminate(p)
	}
}

// Pause terminates the subprocess; the run ends as paused and may be restarted with Params.
func (d *VideoDownloader) Pause() {
	d.mu.Lock()
	d.paused = true
	p := d.proc
	d.mu.Unlock()
	if p != nil {
		_ = terminate(p)
	}
}

// Start runs yt-dlp for p and blocks until it exits. Every outcome is also
// reported through progress.
func (d *VideoDownloader) Start(ctx context.Context, p Params, progress ProgressFunc) Outcome {
	if progress == nil {
		progress = func(string, string) {}
	}

	d.mu.Lock()
	d.params = p
	if d.cancelled || d.paused {
		out := d.interruptedLocked()
		d.mu.Unlock()
		reportOutcome(progress, out)
		return out
	}
	d.mu.Unlock()

	if d.opts.OutputDir != "" {
		if err := os.MkdirAll(d.opts.OutputDir, 0o755); err != nil {
			out := Outcome{State: StateFailed, Err: fmt.Errorf("create output dir: %w", err)}
			reportOutcome(progress, out)
			return out
		}
	}

	if ctx.Err() != nil {
		out := Outcome{State: StateCancelled}
		reportOutcome(progress, out)
		return out
	}

	args := BuildArgs(d.opts, p)
	logging.LogYTDLPCommand(d.id, p.URL, strings.Join(args[:len(args)-1], " "), false)

	cmd := exec.CommandContext(ctx, d.opts.Binary, args...)
	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = 10 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return d.fail(progress, fmt.Errorf("stderr: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return d.fail(progress, fmt.Errorf("stdout: %w", err))
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = fmt.Errorf("%w: %v", ErrYTDLPNotFound, err)
		}
		return d.fail(progress, fmt.Errorf("start: %w", err))
	}

	d.mu.Lock()
	d.proc = cmd.Process
	raced := d.cancelled || d.paused
	d.mu.Unlock()
	if raced {
		_ = terminate(cmd.Process)
	}

	var (
		stderrBuf bytes.Buffer
		outMu     sync.Mutex
		all       = newLineRing(200)
		diag      = newLineRing(50)
		wg        sync.WaitGroup
	)
	handle := func(line string) {
		outMu.Lock()
		all.add(line)
		if isDiagnostic(line) {
			diag.add(line)
		}
		outMu.Unlock()
		if rep, ok := parseLine(line); ok {
			progress(rep.percent, rep.status)
		}
	}

	// Read progress concurrently
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(d.id, io.TeeReader(stderr, &stderrBuf), handle)
	}()
	go func() {
		defer wg.Done()
		scanLines(d.id, stdout, handle)
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	d.mu.Lock()
	d.proc = nil
	cancelled, paused := d.cancelled, d.paused
	d.mu.Unlock()

	var out Outcome
	switch {
	case waitErr == nil:
		out = Outcome{State: StateCompleted, Filename: resolveOutput(d.opts.OutputDir, extractFilename(all.Lines()))}
		logging.LogYTDLPCommand(d.id, p.URL, out.Filename, true)
	case cancelled || ctx.Err() != nil:
		out = Outcome{State: StateCancelled}
	case paused:
		out = Outcome{State: StatePaused}
	case signaled(waitErr):
		out = Outcome{State: StateCancelled}
	default:
		cause := classifyFailure(diag.Lines())
		if tail := tailString(stderrBuf.String(), 512); tail != "" {
			out = Outcome{State: StateFailed, Err: fmt.Errorf("yt-dlp: %w: %v: %s", cause, waitErr, tail)}
		} else {
			out = Outcome{State: StateFailed, Err: fmt.Errorf("yt-dlp: %w: %v", cause, waitErr)}
		}
	}
	reportOutcome(progress, out)
	return out
}

func (d *VideoDownloader) interruptedLocked() Outcome {
	if d.cancelled {
		return Outcome{State: StateCancelled}
	}
	return Outcome{State: StatePaused}
}

func (d *VideoDownloader) fail(progress ProgressFunc, err error) Outcome {
	out := Outcome{State: StateFailed, Err: err}
	reportOutcome(progress, out)
	return out
}

func reportOutcome(progress ProgressFunc, out Outcome) {
	switch out.State {
	case StateCompleted:
		progress("100%", StatusCompleted)
	case StateCancelled:
		progress("", StatusCancelled)
	case StatePaused:
		progress("", StatusPaused)
	case StateFailed:
		progress(PercentError, FailureMessage(out.Err))
	}
}

// scanLines feeds each CR/LF delimited line of r to fn.
func scanLines(id string, r io.Reader, fn func(string)) {
	sc := bufio.NewScanner(r)
	// Set a reasonable max buffer size (256KB)
	sc.Buffer(make([]byte, 4096), 256*1024)
	sc.Split(scanCRorLF)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil {
		logging.LogProgressScanError(id, err)
		// Drain so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}
}

// signaled reports whether err is an exit caused by a signal.
func signaled(err error) bool {
	var ee *exec.ExitError
	if !errors.As(err, &ee) || ee.ProcessState == nil {
		return false
	}
	return !ee.ProcessState.Exited()
}
