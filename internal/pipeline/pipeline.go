// Package pipeline runs one catalog update: the prep pass, channel and
// single-video ingestion, and audio-track enrichment, all over a single
// locked data directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/config"
	"ytcatalog/internal/enrich"
	"ytcatalog/internal/export"
	"ytcatalog/internal/fallback"
	"ytcatalog/internal/httpx"
	"ytcatalog/internal/ingest"
	"ytcatalog/internal/innertube"
	"ytcatalog/internal/providers"
	"ytcatalog/internal/reconcile"
	"ytcatalog/internal/retry"
	"ytcatalog/internal/storage"
	"ytcatalog/internal/youtube"
)

// ManifestFile is the run history kept in the data directory.
const ManifestFile = "_run.json"

// lockName is the base of the advisory lock file guarding the data directory.
const lockName = "ytcatalog"

// Phase names recorded in the manifest.
const (
	PhasePrep   = "prep"
	PhaseIngest = "ingest"
	PhaseEnrich = "enrich"
)

// Deps overrides the external clients of a run. Nil fields are built from
// the configuration. FS must map onto the OS filesystem because the data
// directory lock is an OS-level flock.
type Deps struct {
	FS      afero.Fs
	API     ingest.API
	Fetcher enrich.Fetcher
	Now     func() time.Time
}

// Summary reports what each phase did.
type Summary struct {
	RunID  string
	Prep   reconcile.Report
	Ingest ingest.Report
	Enrich enrich.Report
}

// Run executes one pipeline pass. Missing preconditions fail before the data
// directory is touched.
func Run(ctx context.Context, cfg *config.Config, deps Deps, log logrus.FieldLogger) (Summary, error) {
	var summary Summary
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	needsAPI := !cfg.PrepOnly && deps.API == nil
	if needsAPI {
		if err := cfg.RequireAPIKey(); err != nil {
			return summary, err
		}
	}
	sources, err := catalog.ReadChannelSources(deps.FS, cfg.ChannelSources)
	if err != nil {
		return summary, err
	}
	_, videoSources, err := catalog.ReadVideoSources(deps.FS, cfg.VideoSources)
	if err != nil {
		return summary, err
	}
	courseLines, err := catalog.ReadLines(deps.FS, cfg.CoursesFile)
	if err != nil {
		return summary, err
	}

	if err := deps.FS.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return summary, &storage.StorageError{Op: "write", Entity: "directory", ID: cfg.DataDir, Err: err}
	}
	lock := storage.NewFileLock(filepath.Join(cfg.DataDir, lockName))
	if err := lock.Lock(cfg.LockTimeout); err != nil {
		return summary, fmt.Errorf("lock data directory %s: %w", cfg.DataDir, err)
	}
	defer lock.Unlock()

	manifest, err := storage.OpenManifest(deps.FS, filepath.Join(cfg.DataDir, ManifestFile))
	if err != nil {
		return summary, err
	}
	run, err := manifest.StartRun(deps.Now())
	if err != nil {
		return summary, err
	}
	summary.RunID = run.ID
	log = log.WithField("run_id", run.ID)

	err = execute(ctx, cfg, deps, log, manifest, run, sources, videoSources, courseLines, &summary)
	if finishErr := manifest.FinishRun(run, deps.Now(), err); finishErr != nil {
		log.WithError(finishErr).Warn("failed to record run result")
	}
	if err != nil {
		return summary, err
	}
	log.Info("run completed")
	return summary, nil
}

func execute(
	ctx context.Context,
	cfg *config.Config,
	deps Deps,
	log logrus.FieldLogger,
	manifest *storage.ManifestStore,
	run *storage.Run,
	sources, videoSources []catalog.Row,
	courseLines []string,
	summary *Summary,
) (err error) {
	store, err := catalog.Open(deps.FS, cfg.DataDir, log)
	if err != nil {
		return err
	}
	if cfg.SQLiteExport != "" {
		db, openErr := export.OpenSQLite(cfg.SQLiteExport, log)
		if openErr != nil {
			return openErr
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		store.OnFlush(db.Hook())
	}

	summary.Prep, err = reconcile.Run(store, reconcile.Input{
		Sources:           sources,
		ExtraChannelIDs:   lo.Uniq(lo.Compact(lo.Map(videoSources, func(r catalog.Row, _ int) string { return r.Get("channel_id") }))),
		CoursePlaylistIDs: catalog.CoursePlaylistIDs(courseLines),
	}, log)
	if err != nil {
		return fmt.Errorf("prep: %w", err)
	}
	record(manifest, run, PhasePrep, summary.Prep.Counts(), log)
	if cfg.PrepOnly {
		log.Info("prep only; skipping ingestion and enrichment")
		return nil
	}

	api := deps.API
	if api == nil {
		api, err = newDataAPI(ctx, cfg, log)
		if err != nil {
			return err
		}
	}
	syncer := ingest.New(store, api, catalog.ParseCourseBlocks(courseLines), ingest.Options{
		SkipExisting:         cfg.Mode == config.ModeNew,
		PageLimit:            cfg.PageLimit,
		PlaylistPageLimit:    cfg.PlaylistPageLimit,
		ChannelLimit:         cfg.ChannelLimit,
		StopOnKnown:          cfg.StopOnKnown,
		IncludeLocalizations: cfg.IncludeLocalizations,
		StartFrom:            cfg.StartFrom,
		Now:                  deps.Now,
	}, log)
	summary.Ingest, err = syncer.Run(ctx, sources, videoSources)
	record(manifest, run, PhaseIngest, ingestCounts(summary.Ingest), log)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if cfg.SkipEnrichment {
		log.Info("enrichment disabled")
		return nil
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		manager, closeFn, err := newManager(deps.FS, cfg, api, log)
		if err != nil {
			return err
		}
		defer closeFn()
		defer func() {
			h := manager.Health()
			log.WithFields(logrus.Fields{
				"blocked":  h.Blocked,
				"disabled": h.Disabled,
				"waits":    h.Waits,
			}).Info("provider health at end of run")
		}()
		fetcher = manager
	}
	runner := enrich.New(store, fetcher, enrich.Options{
		ChannelIDs:      cfg.ChannelIDs,
		ChannelTitles:   cfg.ChannelTitles,
		LimitPerChannel: cfg.LimitPerChannel,
		NewestFirst:     cfg.NewestFirst,
		RetryErrors:     cfg.RetryErrors,
		NoRetryErrors:   cfg.NoRetryErrors,
		RequestDelay:    cfg.RequestDelay,
		BatchSize:       cfg.BatchSize,
		Now:             deps.Now,
	}, log)
	summary.Enrich, err = runner.Run(ctx)
	record(manifest, run, PhaseEnrich, summary.Enrich.Counts(), log)
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	return nil
}

func record(manifest *storage.ManifestStore, run *storage.Run, phase string, counts map[string]int, log logrus.FieldLogger) {
	if err := manifest.Record(run, phase, counts); err != nil {
		log.WithError(err).WithField("phase", phase).Warn("failed to record phase totals")
	}
}

func ingestCounts(r ingest.Report) map[string]int {
	counts := map[string]int{
		"processed": r.Processed,
		"skipped":   r.Skipped,
		"failed":    r.Failed,
	}
	for k, v := range r.Totals {
		counts[k] += v
	}
	return counts
}

func retryConfig(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.MaxRetries
	rc.InitialBackoff = cfg.InitialBackoff
	rc.MaxBackoff = cfg.MaxBackoff
	rc.Multiplier = cfg.BackoffMultiplier
	return rc
}

func newDataAPI(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*youtube.DataAPI, error) {
	return youtube.NewDataAPI(ctx, youtube.DataAPIOptions{
		APIKey:            cfg.APIKey,
		RequestsPerSecond: cfg.APIRequestsPerSecond,
		Retry:             retryConfig(cfg),
	}, log)
}

// newManager builds the configured providers behind a fallback manager.
// Each provider gets its client only when it is listed.
func newManager(fs afero.Fs, cfg *config.Config, api ingest.API, log logrus.FieldLogger) (*fallback.Manager[providers.AudioTracks], func(), error) {
	var deps providers.Deps
	closeFn := func() {}
	for _, raw := range cfg.Providers {
		name, ok := providers.Canonical(raw)
		if !ok {
			continue
		}
		switch name {
		case providers.NameYtdlp:
			deps.Ytdlp = &youtube.Ytdlp{
				Path:        cfg.YtdlpPath,
				Timeout:     cfg.YtdlpTimeout,
				CookiesPath: cfg.CookiesPath,
			}
		case providers.NameInnertube:
			if deps.Innertube != nil {
				continue
			}
			client, closer, err := newInnertube(fs, cfg, log)
			if err != nil {
				return nil, nil, err
			}
			deps.Innertube = client
			closeFn = closer
		case providers.NameDataAPI:
			deps.DataAPI = api
		}
	}

	list, err := providers.Build(cfg.Providers, deps, log)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	manager, err := fallback.NewManager(list, fallback.Options{
		Schedule:      cfg.BackoffSchedule,
		MaxWaitCycles: cfg.MaxWaitCycles,
	}, log)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return manager, closeFn, nil
}

func newInnertube(fs afero.Fs, cfg *config.Config, log logrus.FieldLogger) (*innertube.Client, func(), error) {
	var opts []innertube.ClientOption
	if cfg.CookiesPath != "" {
		cookie, err := innertube.ReadCookieHeader(fs, cfg.CookiesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read cookies: %w", err)
		}
		if cookie != "" {
			opts = append(opts, innertube.WithCookieHeader(cookie))
		}
	}

	httpCfg := httpx.DefaultConfig()
	httpCfg.Retry = retryConfig(cfg)
	httpClient := httpx.New(httpCfg, log.WithField("provider", providers.NameInnertube))
	client, err := innertube.NewClient(httpClient, cfg.InnertubeClient, opts...)
	if err != nil {
		httpClient.Close()
		return nil, nil, err
	}
	return client, func() { httpClient.Close() }, nil
}

// IsPrecondition reports whether err is a configuration or input problem
// detected before any fetching.
func IsPrecondition(err error) bool {
	return errors.Is(err, config.ErrMissingAPIKey) || errors.Is(err, catalog.ErrMissingSourceList)
}
