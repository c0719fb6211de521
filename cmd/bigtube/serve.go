package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"bigtube/internal/config"
	"bigtube/internal/download"
	"bigtube/internal/history"
	"bigtube/internal/logging"
	"bigtube/internal/server"
	"bigtube/internal/store"
)

const (
	shutdownTimeout = 20 * time.Second
	pruneInterval   = 10 * time.Minute
	pruneAge        = time.Hour
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		host          string
		port          int
		maxConcurrent int
		dbPath        string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download daemon with HTTP API, dashboard and websocket feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg, err := root.loadConfig(os.Stdout, func(c *config.Config) {
				if flags.Changed("host") {
					c.Host = host
				}
				if flags.Changed("port") {
					c.Port = port
				}
				if flags.Changed("max-concurrent") {
					c.MaxConcurrent = maxConcurrent
				}
				if flags.Changed("db") {
					c.DBPath = dbPath
				}
			})
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 2, "Maximum simultaneous downloads")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite ledger (default: user cache dir)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.AbsOutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := download.CheckYTDLP(cfg.YTDLPPath); err != nil {
		return err
	}
	ffmpeg := download.FFmpegAvailable(cfg.FFmpegPath)
	if !ffmpeg {
		logging.Logger.Warn("ffmpeg not found; metadata and subtitle embedding disabled",
			"event", "ffmpeg_missing",
			"ffmpeg_path", cfg.FFmpegPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.AbsDBPath), 0o755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.Open(cfg.AbsDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	// The queue lives in memory, so anything in flight last run is gone.
	if n, err := st.MarkInterrupted(ctx); err != nil {
		logging.LogDBOperation("mark_interrupted", "", err)
	} else if n > 0 {
		logging.LogDBUpdate("mark_interrupted", "", map[string]any{"rows": n})
	}
	hist := history.NewDownloads(cfg.AbsHistoryPath)
	if n, err := hist.ReconcileInterrupted(); err != nil {
		logging.LogDBOperation("history_reconcile", "", err)
	} else if n > 0 {
		logging.LogDBUpdate("history_reconcile", "", map[string]any{"entries": n})
	}

	ledger := download.NewLedgerSync(st, time.Second)
	ledger.Start()
	defer ledger.Stop()

	hub := server.NewHub()
	defer hub.Close()
	changes, unsubscribe := st.SubscribeChanges(64)
	defer unsubscribe()
	go hub.FollowStore(ctx, changes)

	mgr := download.NewManager(download.Options{
		MaxConcurrent:     cfg.MaxConcurrent,
		SchedulerInterval: cfg.SchedulerInterval,
		NewDownloader: download.Factory(download.DownloaderOptions{
			Binary:         cfg.YTDLPPath,
			OutputDir:      cfg.AbsOutputDir,
			UserAgent:      cfg.UserAgent,
			FFmpeg:         ffmpeg,
			EmbedMetadata:  cfg.EmbedMetadata,
			EmbedSubtitles: cfg.EmbedSubtitles,
			SubtitleLangs:  cfg.SubtitleLangs,
		}),
		Hooks: download.MultiHooks{
			ledger,
			history.NewTracker(hist, cfg.AbsOutputDir),
			hub,
		},
	})

	handler := server.New(mgr, st, server.Options{
		Info:      download.NewInfoFetcher(cfg.YTDLPPath, cfg.InfoCacheSize, cfg.InfoCacheTTL),
		History:   hist,
		Searches:  history.NewSearches(cfg.SearchesPath()),
		Hub:       hub,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Version:   cfg.Version,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // websocket clients stay connected
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogServerStart(cfg.Addr, cfg.Summary())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	go pruneLoop(ctx, mgr)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.LogServerShutdown("shutdown signal received; draining", nil)
	case serveErr = <-errCh:
		logging.LogServerShutdown("server stopped", serveErr)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logging.LogServerShutdown("http shutdown", err)
	}
	// Stop downloads before the ledger and store close so their final states land.
	if err := mgr.Shutdown(sctx); err != nil {
		logging.LogServerShutdown("download manager shutdown", err)
	}
	logging.LogServerShutdown("shutdown complete", nil)
	return serveErr
}

// pruneLoop drops old finished tasks from the in-memory registry.
func pruneLoop(ctx context.Context, mgr *download.Manager) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := mgr.Prune(pruneAge); n > 0 {
				logging.Logger.Debug("pruned finished tasks", "event", "registry_prune", "count", n)
			}
		}
	}
}
