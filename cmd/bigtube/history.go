package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bigtube/internal/history"
	"bigtube/internal/ui"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		clear       bool
		searches    bool
		conversions bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the download, search or conversion history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(os.Stderr, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case searches:
				s := history.NewSearches(cfg.SearchesPath())
				if clear {
					return s.Clear()
				}
				queries, err := s.List()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSONOut(out, queries)
				}
				for _, q := range queries {
					fmt.Fprintln(out, q)
				}
				return nil

			case conversions:
				c := history.NewConversions(cfg.ConversionsPath())
				if clear {
					return c.Clear()
				}
				entries, err := c.Load()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSONOut(out, entries)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "WHEN\tFORMAT\tSOURCE\tOUTPUT")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", humanize.Time(e.Timestamp), e.Format, ui.TruncateMiddle(e.Source, 50), ui.TruncateMiddle(e.Output, 50))
				}
				return tw.Flush()
			}

			d := history.NewDownloads(cfg.AbsHistoryPath)
			if clear {
				return d.Clear()
			}
			entries, err := d.Load()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONOut(out, entries)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tSTATUS\tPROGRESS\tTITLE\tFILE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%s\t%s\n",
					humanize.Time(e.Timestamp), e.Status, e.Progress, ui.TruncateWithEllipsis(e.Title, 50), ui.TruncateMiddle(e.FilePath, 60))
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.BoolVar(&clear, "clear", false, "Clear the selected history")
	f.BoolVar(&searches, "searches", false, "Select the search query history")
	f.BoolVar(&conversions, "conversions", false, "Select the conversion history")
	f.BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.MarkFlagsMutuallyExclusive("searches", "conversions")
	return cmd
}
