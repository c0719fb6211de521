package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"bigtube/internal/config"
	"bigtube/internal/convert"
	"bigtube/internal/history"
)

type convertOptions struct {
	to        string
	metadata  bool
	subtitles bool
	sourceDir bool
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Convert a media file with ffmpeg",
		Example: `  bigtube convert clip.webm --to mp4
  bigtube convert talk.mkv --to mp3 --source-dir`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(os.Stderr, nil)
			if err != nil {
				return err
			}
			return runConvert(cmd.Context(), cfg, args[0], opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.to, "to", "", "Target extension, e.g. mp4, mkv, mp3")
	f.BoolVar(&opts.metadata, "metadata", true, "Copy container metadata")
	f.BoolVar(&opts.subtitles, "subtitles", true, "Mux a sidecar subtitle file when one sits next to the input")
	f.BoolVar(&opts.sourceDir, "source-dir", false, "Write the output next to the input instead of the output dir")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runConvert(ctx context.Context, cfg *config.Config, input string, opts *convertOptions, out io.Writer) error {
	conv := convert.New(convert.Options{
		FFmpeg:       cfg.FFmpegPath,
		OutputDir:    cfg.AbsOutputDir,
		UseSourceDir: opts.sourceDir,
	})
	if err := conv.Check(); err != nil {
		return err
	}

	bar := progressbar.NewOptions(1000,
		progressbar.OptionSetDescription("Converting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
	)
	format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(opts.to)), ".")
	output, err := conv.Convert(ctx, convert.Request{
		Input:     input,
		Format:    format,
		Metadata:  opts.metadata,
		Subtitles: opts.subtitles,
	}, func(p convert.Progress) {
		if p.ETA > 0 {
			bar.Describe(fmt.Sprintf("Converting (%.1fx, %s left)", p.Speed, p.ETA.Round(time.Second)))
		}
		_ = bar.Set(int(p.Fraction * 1000))
	})
	if err != nil {
		_ = bar.Exit()
		return err
	}
	_ = bar.Finish()

	if _, err := history.NewConversions(cfg.ConversionsPath()).Add(input, output, format); err != nil {
		fmt.Fprintf(os.Stderr, "warning: conversion history not saved: %v\n", err)
	}
	fmt.Fprintln(out, output)
	return nil
}
