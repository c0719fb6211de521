package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bigtube/internal/config"
	"bigtube/internal/logging"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	logLevel   string
	outputDir  string
	ytdlp      string
	ffmpeg     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "bigtube",
		Short: "Queue and run yt-dlp downloads from a CLI, HTTP API or dashboard",
		Long: `bigtube wraps yt-dlp and ffmpeg.

Run "bigtube serve" for the download daemon with its HTTP API, dashboard
and websocket feed, or use the one-shot commands (get, info, search,
convert) directly from a terminal.`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "Configuration file path (default: first of $BIGTUBE_CONFIG, ./.bigtube.yaml, <user config dir>/bigtube/config.yaml, ~/.bigtube.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVarP(&opts.outputDir, "output-dir", "o", "", "Directory for downloaded and converted files")
	pf.StringVar(&opts.ytdlp, "yt-dlp", "", "Path to the yt-dlp binary")
	pf.StringVar(&opts.ffmpeg, "ffmpeg", "", "Path to the ffmpeg binary")

	root.AddCommand(
		newServeCmd(opts),
		newGetCmd(opts),
		newInfoCmd(opts),
		newSearchCmd(opts),
		newConvertCmd(opts),
		newHistoryCmd(opts),
		newUpdateCmd(opts),
	)
	return root
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then environment, then flags. apply may set command specific
// overrides before validation. Logs go to logOut.
func (o *rootOptions) loadConfig(logOut io.Writer, apply func(*config.Config)) (*config.Config, error) {
	var cfg *config.Config
	if o.configFile != "" {
		cfg = config.New()
		if err := cfg.LoadFile(o.configFile); err != nil {
			return nil, err
		}
		cfg.ApplyEnv()
	} else {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, err
		}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if v := strings.TrimSpace(o.ytdlp); v != "" {
		cfg.YTDLPPath = v
	}
	if v := strings.TrimSpace(o.ffmpeg); v != "" {
		cfg.FFmpegPath = v
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	logging.InitWriter(logOut, logging.ParseLevel(cfg.LogLevel))
	return cfg, nil
}
