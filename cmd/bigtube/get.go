package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"bigtube/internal/config"
	"bigtube/internal/download"
	"bigtube/internal/history"
	"bigtube/internal/validate"
)

type getOptions struct {
	format string
	ext    string
	title  string
	at     string
	force  bool
}

func newGetCmd(root *rootOptions) *cobra.Command {
	opts := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Download a single URL in the foreground with a progress bar",
		Example: `  bigtube get https://www.youtube.com/watch?v=dQw4w9WgXcQ
  bigtube get URL --format 137 --ext mkv
  bigtube get URL --ext mp3 --at 23:30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(os.Stderr, nil)
			if err != nil {
				return err
			}
			return runGet(cmd.Context(), cfg, args[0], opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "", "yt-dlp format id (default: best video or best audio)")
	f.StringVarP(&opts.ext, "ext", "e", "mp4", "Output extension; mp3|wav|m4a|opus|flac extract audio")
	f.StringVarP(&opts.title, "title", "t", "", "Output title (default: fetched from the site)")
	f.StringVar(&opts.at, "at", "", "Start later: RFC3339 time, HH:MM today/tomorrow, or a delay like 30m")
	f.BoolVar(&opts.force, "force", false, "Overwrite existing files instead of resuming")
	return cmd
}

// parseStartTime accepts RFC3339, HH:MM (next occurrence) or a Go duration.
func parseStartTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative delay %q", s)
		}
		return now.Add(d), nil
	}
	if clock, err := time.ParseInLocation("15:04", s, now.Location()); err == nil {
		t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised start time %q", s)
}

// terminalHook reports the first finished item of a single-task manager.
type terminalHook struct {
	done chan download.Item
}

func (h *terminalHook) OnProgress(string, float64) {}

func (h *terminalHook) OnStateChange(item download.Item) {
	if !item.State.Terminal() && item.State != download.StatePaused {
		return
	}
	select {
	case h.done <- item:
	default:
	}
}

func runGet(ctx context.Context, cfg *config.Config, rawURL string, opts *getOptions, out io.Writer) error {
	u := validate.SanitizeURL(rawURL)
	if !validate.IsValidURL(u) {
		return fmt.Errorf("invalid url %q", rawURL)
	}
	start, err := parseStartTime(opts.at, time.Now())
	if err != nil {
		return err
	}
	if err := download.CheckYTDLP(cfg.YTDLPPath); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.AbsOutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	title := strings.TrimSpace(opts.title)
	if title == "" {
		info := download.NewInfoFetcher(cfg.YTDLPPath, 1, time.Minute)
		if vi, err := info.FetchVideoInfo(ctx, u); err == nil {
			title = vi.Title
		}
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Queued"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
	)

	hook := &terminalHook{done: make(chan download.Item, 1)}
	hist := history.NewDownloads(cfg.AbsHistoryPath)
	mgr := download.NewManager(download.Options{
		MaxConcurrent:     1,
		SchedulerInterval: time.Second,
		NewDownloader: download.Factory(download.DownloaderOptions{
			Binary:         cfg.YTDLPPath,
			OutputDir:      cfg.AbsOutputDir,
			UserAgent:      cfg.UserAgent,
			FFmpeg:         download.FFmpegAvailable(cfg.FFmpegPath),
			EmbedMetadata:  cfg.EmbedMetadata,
			EmbedSubtitles: cfg.EmbedSubtitles,
			SubtitleLangs:  cfg.SubtitleLangs,
		}),
		Hooks: download.MultiHooks{history.NewTracker(hist, cfg.AbsOutputDir), hook},
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Shutdown(sctx)
	}()

	req := download.Request{
		URL:            u,
		FormatID:       opts.format,
		Title:          title,
		Ext:            opts.ext,
		ForceOverwrite: opts.force,
		Progress: func(percent, status string) {
			if percent == download.PercentError {
				bar.Describe("Error")
				return
			}
			bar.Describe(status)
			if p, err := parsePercentArg(percent); err == nil {
				_ = bar.Set(int(p))
			}
		},
	}
	if start.IsZero() {
		_, err = mgr.AddDownload(req)
	} else {
		_, err = mgr.ScheduleDownload(start, req)
		fmt.Fprintf(out, "Scheduled for %s\n", start.Format(time.RFC1123))
	}
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		_ = bar.Exit()
		return errors.New("interrupted")
	case item := <-hook.done:
		switch item.State {
		case download.StateCompleted:
			_ = bar.Finish()
			fmt.Fprintln(out, item.Filename)
			return nil
		case download.StateFailed:
			_ = bar.Exit()
			return fmt.Errorf("download failed: %s", item.Error)
		default:
			_ = bar.Exit()
			return fmt.Errorf("download %s", item.State)
		}
	}
}

// parsePercentArg reads the "NN.N%" value passed to progress callbacks.
func parsePercentArg(s string) (float64, error) {
	var p float64
	if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimSpace(s), "%"), "%g", &p); err != nil {
		return 0, err
	}
	return p, nil
}
