// Package enrich fills the audiotracks table by asking the provider
// fallback manager about every catalog video that has no final row yet.
package enrich

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/fallback"
	"ytcatalog/internal/providers"
)

// DefaultBatchSize is the number of written rows between flushes.
const DefaultBatchSize = 25

// progressEvery controls how often progress is logged.
const progressEvery = 25

// Fetcher resolves the audio tracks of one video. *fallback.Manager
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string) providers.Result
}

// Options tunes an enrichment run.
type Options struct {
	ChannelIDs      []string
	ChannelTitles   []string
	LimitPerChannel int
	NewestFirst     bool
	RetryErrors     []string
	NoRetryErrors   []string
	// RequestDelay spaces consecutive fetches. Zero disables the delay.
	RequestDelay time.Duration
	BatchSize    int
	// Now stamps fetched_at. Defaults to time.Now.
	Now func() time.Time
}

// Report summarizes an enrichment run.
type Report struct {
	Selected    int
	Written     int
	OK          int
	Fallbacks   int
	Errors      int
	Invalid     int
	RateLimited int
}

// Counts flattens the report for the run manifest.
func (r Report) Counts() map[string]int {
	return map[string]int{
		"selected":     r.Selected,
		"written":      r.Written,
		"ok":           r.OK,
		"fallbacks":    r.Fallbacks,
		"errors":       r.Errors,
		"invalid":      r.Invalid,
		"rate_limited": r.RateLimited,
	}
}

// Runner writes one audiotracks row per fetched video.
type Runner struct {
	store   *catalog.Store
	fetcher Fetcher
	opts    Options
	retry   RetryTable
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// New creates a runner over store.
func New(store *catalog.Store, fetcher Fetcher, opts Options, log logrus.FieldLogger) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RequestDelay), 1)
	}
	return &Runner{
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		retry:   NewRetryTable(opts.RetryErrors, opts.NoRetryErrors),
		limiter: limiter,
		log:     log.WithField("component", "enrich"),
	}
}

// Run drops stored rows that should be retried, then fetches every selected
// video in catalog order. Rate-limited videos get no row so a later run picks
// them up. The run stops early when no provider can serve any further video
// or the context ends; rows written so far are flushed either way.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report

	existing := r.store.Rows(catalog.AudioTracks)
	rows := lo.Filter(existing, func(row catalog.Row, _ int) bool { return !r.retry.ShouldRetry(row) })
	if len(rows) != len(existing) {
		r.log.WithField("dropped", len(existing)-len(rows)).Info("dropping audio-track rows due for retry")
		r.store.Replace(catalog.AudioTracks, rows)
		if err := r.store.Flush(); err != nil {
			return report, err
		}
	}
	processed := lo.Keyify(lo.Compact(lo.Map(rows, func(row catalog.Row, _ int) string { return row.Get("video_id") })))

	videos := r.store.Rows(catalog.Videos)
	if len(videos) == 0 {
		r.log.Warn("no videos in catalog; nothing to enrich")
		return report, nil
	}
	channels := r.store.Rows(catalog.Channels)
	filter := resolveChannels(channels, r.opts.ChannelIDs, r.opts.ChannelTitles, r.log)
	if len(filter) == 0 && (len(r.opts.ChannelIDs) > 0 || len(r.opts.ChannelTitles) > 0) {
		r.log.Warn("no videos matched the selected channels")
		return report, nil
	}
	selected := selectVideos(videos, filter, processed, r.opts)
	report.Selected = len(selected)
	if len(selected) == 0 {
		r.log.Info("every selected video already has an audio-track row")
		return report, nil
	}

	langs := newLanguageHints(channels, videos, rows)
	fetchedAt := r.opts.Now().Format("2006-01-02")
	pending := 0

	position := catalog.PositionIndex(videos, "video_id")
	rank := func(row catalog.Row) int {
		if pos, ok := position[row.Get("video_id")]; ok {
			return pos
		}
		return len(videos)
	}
	flush := func() error {
		slices.SortStableFunc(rows, func(a, b catalog.Row) int { return rank(a) - rank(b) })
		r.store.Replace(catalog.AudioTracks, rows)
		if err := r.store.Flush(); err != nil {
			return fmt.Errorf("flush audio tracks: %w", err)
		}
		pending = 0
		return nil
	}

	for i, video := range selected {
		if err := r.limiter.Wait(ctx); err != nil {
			return report, joinFlush(err, flush())
		}
		videoID := video.Get("video_id")
		log := r.log.WithField("video_id", videoID)

		var row catalog.Row
		switch res := r.fetcher.Fetch(ctx, videoID).(type) {
		case fallback.Success[providers.AudioTracks]:
			row = r.successRow(video, res, langs, &report)
		case fallback.Failure:
			switch res.Kind {
			case fallback.KindRateLimited:
				report.RateLimited++
				log.WithField("provider", res.Provider).Debug(res.Message)
				continue
			case fallback.KindCanceled, fallback.KindNoProviders, fallback.KindWaitsExhausted:
				log.WithField("reason", res.Kind).Warn("stopping enrichment")
				return report, joinFlush(res, flush())
			case fallback.KindInvalid:
				report.Invalid++
				row = failedRow(videoID, res, StatusInvalid, res.Message)
			default:
				report.Errors++
				log.WithField("provider", res.Provider).Debug(res.Message)
				row = failedRow(videoID, res, StatusError, lo.Ternary(res.Message == "", "unknown_error", res.Message))
			}
		default:
			continue
		}

		row["fetched_at"] = fetchedAt
		rows = append(rows, row)
		report.Written++
		pending++
		if pending >= r.opts.BatchSize {
			if err := flush(); err != nil {
				return report, err
			}
		}
		if (i+1)%progressEvery == 0 {
			r.log.Infof("processed %d/%d videos", i+1, len(selected))
		}
	}

	if pending > 0 {
		if err := flush(); err != nil {
			return report, err
		}
	}
	r.log.WithFields(logrus.Fields{"written": report.Written, "rate_limited": report.RateLimited}).Info("audio tracks written")
	return report, nil
}

// successRow renders a provider payload. A payload without languages falls
// back to the provider's default language, then to the catalog hints.
func (r *Runner) successRow(video catalog.Row, res fallback.Success[providers.AudioTracks], langs *languageHints, report *Report) catalog.Row {
	p := res.Payload
	videoID := video.Get("video_id")
	all := providers.NormalizeLanguages(p.LanguagesAll)
	nonAuto := providers.NormalizeLanguages(p.LanguagesNonAuto)
	hasAutoDub := lo.Ternary(p.HasAutoDub == "", providers.AutoDubUnknown, p.HasAutoDub)
	note := ""

	if len(all) == 0 {
		lang := strings.TrimSpace(p.DefaultAudioLanguage)
		if lang == "" {
			var source string
			lang, source = langs.fallback(video)
			if lang == "" {
				report.Errors++
				return catalog.Row{
					"video_id":     videoID,
					"has_auto_dub": providers.AutoDubUnknown,
					"source":       res.Provider,
					"status":       StatusError,
					"error":        ErrMissingPrimaryLanguage,
				}
			}
			note = "fallback:" + source
			report.Fallbacks++
		}
		all, nonAuto = []string{lang}, []string{lang}
		if hasAutoDub == providers.AutoDubUnknown {
			hasAutoDub = providers.AutoDubFalse
		}
	}
	if len(nonAuto) == 0 {
		nonAuto = slices.Clone(all)
	}
	slices.Sort(all)
	slices.Sort(nonAuto)

	langs.remember(video.Get("channel_id"), nonAuto[0])
	report.OK++
	return catalog.Row{
		"video_id":           videoID,
		"languages_all":      strings.Join(all, "|"),
		"languages_non_auto": strings.Join(nonAuto, "|"),
		"has_auto_dub":       hasAutoDub,
		"source":             res.Provider,
		"status":             StatusOK,
		"error":              note,
	}
}

func failedRow(videoID string, f fallback.Failure, status, message string) catalog.Row {
	return catalog.Row{
		"video_id":     videoID,
		"has_auto_dub": providers.AutoDubUnknown,
		"source":       f.Provider,
		"status":       status,
		"error":        message,
	}
}

func joinFlush(err, flushErr error) error {
	if flushErr != nil {
		return fmt.Errorf("%w (and %v)", err, flushErr)
	}
	return err
}

// languageHints holds the per-channel languages used when a provider knows
// no language for a video.
type languageHints struct {
	channelDefault map[string]string
	lastSuccess    map[string]string
}

func newLanguageHints(channels, videos, tracks []catalog.Row) *languageHints {
	h := &languageHints{
		channelDefault: make(map[string]string),
		lastSuccess:    make(map[string]string),
	}
	for _, ch := range channels {
		if id, lang := ch.Get("channel_id"), ch.Get("default_language"); id != "" && lang != "" {
			h.channelDefault[id] = lang
		}
	}

	byVideo := lo.SliceToMap(tracks, func(r catalog.Row) (string, catalog.Row) { return r.Get("video_id"), r })
	for _, v := range videos {
		track, ok := byVideo[v.Get("video_id")]
		if !ok {
			continue
		}
		if lang := firstLanguage(track); lang != "" {
			h.remember(v.Get("channel_id"), lang)
		}
	}
	return h
}

func (h *languageHints) remember(channelID, lang string) {
	if channelID != "" && lang != "" {
		h.lastSuccess[channelID] = lang
	}
}

// fallback returns a language for video and the name of the hint it came from.
func (h *languageHints) fallback(video catalog.Row) (string, string) {
	if lang := video.Get("default_audio_language"); lang != "" {
		return lang, "video_default_audio_language"
	}
	if lang := video.Get("default_language"); lang != "" {
		return lang, "video_default_language"
	}
	channelID := video.Get("channel_id")
	if channelID == "" {
		return "", ""
	}
	if lang := h.channelDefault[channelID]; lang != "" {
		return lang, "channel_default_language"
	}
	if lang := h.lastSuccess[channelID]; lang != "" {
		return lang, "channel_last_success"
	}
	return "", ""
}

func firstLanguage(track catalog.Row) string {
	for _, col := range []string{"languages_non_auto", "languages_all"} {
		if langs := lo.Compact(strings.Split(track.Get(col), "|")); len(langs) > 0 {
			return langs[0]
		}
	}
	return ""
}
