package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"bigtube/internal/updater"
)

func newUpdateCmd(root *rootOptions) *cobra.Command {
	var (
		install bool
		dest    string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for a newer yt-dlp release and optionally install it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(os.Stderr, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !updater.Online(ctx, 3*time.Second) {
				return fmt.Errorf("no network connection")
			}

			checker := updater.New(updater.Options{Binary: cfg.YTDLPPath, UserAgent: cfg.UserAgent})
			res, err := checker.Check(ctx)
			if err != nil {
				return err
			}
			if !res.Available {
				fmt.Fprintf(out, "yt-dlp %s is up to date\n", res.Local)
				return nil
			}
			fmt.Fprintf(out, "yt-dlp %s is available (installed: %s)\n", res.Remote, res.Local)
			if !install {
				fmt.Fprintln(out, "run with --install to replace the local binary")
				return nil
			}

			target := dest
			if target == "" {
				if target, err = exec.LookPath(cfg.YTDLPPath); err != nil {
					return fmt.Errorf("locate yt-dlp for replacement: %w", err)
				}
			}
			v, err := checker.Install(ctx, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "installed yt-dlp %s to %s\n", v, target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&install, "install", false, "Download and install the latest release")
	cmd.Flags().StringVar(&dest, "dest", "", "Install path (default: the resolved yt-dlp binary)")
	return cmd
}
