package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"ytcatalog/internal/config"
	"ytcatalog/internal/logging"
	"ytcatalog/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("ytcatalog", flag.ContinueOnError)
	configDir := flags.String("config", "", "Directory searched for ytcatalog.{yaml,toml,json}")
	prepOnly := flags.Bool("prep-only", false, "Only reconcile the stored tables against the channel list")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, `ytcatalog - incremental YouTube catalog sync and audio-track enrichment

Usage:
  ytcatalog [flags]

Every setting can also be given as a YTCATALOG_<KEY> environment variable,
for example YTCATALOG_DATA_DIR or YTCATALOG_PROVIDERS.

Flags:
`)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	fs := afero.NewOsFs()
	var searchPaths []string
	if *configDir != "" {
		searchPaths = append(searchPaths, *configDir)
	}
	cfg, err := config.Load(fs, searchPaths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if *prepOnly {
		cfg.PrepOnly = true
	}

	log, closer, err := logging.Setup(fs, logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, Dir: cfg.LogDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := pipeline.Run(ctx, cfg, pipeline.Deps{FS: fs}, log); err != nil {
		log.WithError(err).Error("run failed")
		return exitCode(err)
	}
	return exitOK
}
