package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bigtube/internal/download"
	"bigtube/internal/history"
	"bigtube/internal/ui"
	"bigtube/internal/validate"
)

func newInfoCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info URL",
		Short: "Show the title and available formats of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(os.Stderr, nil)
			if err != nil {
				return err
			}
			u := validate.SanitizeURL(args[0])
			if !validate.IsValidURL(u) {
				return fmt.Errorf("invalid url %q", args[0])
			}
			info, err := download.NewInfoFetcher(cfg.YTDLPPath, 1, time.Minute).FetchVideoInfo(cmd.Context(), u)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONOut(cmd.OutOrStdout(), info)
			}
			printInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printInfo(w io.Writer, info *download.VideoInfo) {
	fmt.Fprintf(w, "%s\n%s", info.Title, info.URL)
	if info.Duration > 0 {
		fmt.Fprintf(w, " (%s)", (time.Duration(info.Duration) * time.Second).String())
	}
	fmt.Fprint(w, "\n\n")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tEXT\tQUALITY\tSIZE\tCODEC")
	for _, group := range [][]download.Format{info.Videos, info.Audios} {
		for _, f := range group {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", f.ID, f.Type, f.Ext, f.Label, f.Size, f.Codec)
		}
	}
	_ = tw.Flush()
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search for videos and record the query in the search history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(os.Stderr, nil)
			if err != nil {
				return err
			}
			q := validate.SanitizeSearchQuery(strings.Join(args, " "), 200)
			if q == "" {
				return fmt.Errorf("empty query")
			}
			results, err := download.NewInfoFetcher(cfg.YTDLPPath, 1, time.Minute).Search(cmd.Context(), q, n)
			if err != nil {
				return err
			}
			if err := history.NewSearches(cfg.SearchesPath()).Add(q); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: search history not saved: %v\n", err)
			}
			if asJSON {
				return writeJSONOut(cmd.OutOrStdout(), results)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tTITLE\tDURATION\tUPLOADER\tURL")
			for i, r := range results {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, ui.TruncateWithEllipsis(r.Title, 60), r.Duration, r.Uploader, r.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 10, "Number of results (1-50)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
