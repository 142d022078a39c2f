// Package ingest synchronizes channels, their uploads and playlists, and
// individually listed videos from the Data API into the catalog store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	yt "google.golang.org/api/youtube/v3"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/incremental"
	"ytcatalog/internal/youtube"
)

// API is the subset of the Data API client used by the syncer.
type API interface {
	incremental.PageSource
	ResolveHandle(ctx context.Context, handle string) (string, error)
	Channel(ctx context.Context, channelID string) (*yt.Channel, error)
	Videos(ctx context.Context, ids []string) ([]*yt.Video, error)
	Playlists(ctx context.Context, channelID string, pageLimit int) ([]*yt.Playlist, error)
	PlaylistItems(ctx context.Context, playlistID string) ([]*yt.PlaylistItem, error)
}

// Options tunes a sync run.
type Options struct {
	// SkipExisting only processes channels that are not stored yet.
	SkipExisting bool
	// PageLimit caps upload pages per channel. Zero means unlimited.
	PageLimit int
	// PlaylistPageLimit caps playlist pages per channel. Zero means unlimited.
	// While set, stored playlists absent from the response are kept.
	PlaylistPageLimit int
	// ChannelLimit stops after this many processed channels. Zero means all.
	ChannelLimit int
	// StopOnKnown stops paging uploads at the first page ending in a stored video.
	StopOnKnown bool
	// IncludeLocalizations writes the *_local tables.
	IncludeLocalizations bool
	// StartFrom names the first channel to process by channel id, handle or title.
	StartFrom string
	// Now stamps channels.last_updated. Defaults to time.Now.
	Now func() time.Time
}

// Report summarizes a sync run.
type Report struct {
	Processed int
	Skipped   int
	Failed    int
	Totals    Counters
}

// Syncer writes Data API resources into a catalog store. It keeps a working
// copy of the tables it owns and writes them back after every channel.
type Syncer struct {
	store   *catalog.Store
	api     API
	ctrl    *incremental.Controller
	courses []catalog.CourseBlock
	opts    Options
	log     logrus.FieldLogger

	st *state
}

// New creates a syncer. courses are the parsed blocks of the course file.
func New(store *catalog.Store, api API, courses []catalog.CourseBlock, opts Options, log logrus.FieldLogger) *Syncer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		store:   store,
		api:     api,
		ctrl:    incremental.NewController(api, log),
		courses: courses,
		opts:    opts,
		log:     log,
	}
}

// Run syncs every channel of sources, then ingests the videos listed in
// videoSources whose channels are not part of sources.
func (s *Syncer) Run(ctx context.Context, sources, videoSources []catalog.Row) (Report, error) {
	report, err := s.SyncChannels(ctx, sources)
	if err != nil {
		return report, err
	}
	if len(videoSources) == 0 {
		return report, nil
	}
	changes, err := s.IngestVideos(ctx, sources, videoSources)
	report.Totals.Merge(changes)
	return report, err
}

// fatal reports whether err must abort the whole run instead of only the
// current channel.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, youtube.ErrQuotaExceeded)
}

// StartIndex returns the position of the source row named by identifier.
// An empty identifier starts at 0.
func StartIndex(sources []catalog.Row, identifier string) (int, error) {
	want := catalog.NormalizeIdentifier(identifier)
	if want == "" {
		return 0, nil
	}
	var matches []int
	for i, src := range sources {
		for _, col := range []string{"sauthorID", "title", "custom_url", "channel_id"} {
			if catalog.NormalizeIdentifier(src.Get(col)) == want {
				matches = append(matches, i)
				break
			}
		}
	}
	switch len(matches) {
	case 0:
		return 0, fmt.Errorf("start channel %q not found in source list", identifier)
	case 1:
		return matches[0], nil
	default:
		return 0, fmt.Errorf("start channel %q is ambiguous: matches rows %v", identifier, matches)
	}
}

// Counters counts changes by name, such as "videos_added".
type Counters map[string]int

// Add records n changes under key.
func (c Counters) Add(key string, n int) {
	c[key] += n
}

// Merge adds every counter of other.
func (c Counters) Merge(other Counters) {
	for k, v := range other {
		c[k] += v
	}
}

// HasChanges reports whether any counter is non-zero.
func (c Counters) HasChanges() bool {
	return lo.SomeBy(lo.Values(c), func(v int) bool { return v != 0 })
}

// String renders the non-zero counters as "k=v" pairs in key order.
func (c Counters) String() string {
	keys := lo.Keys(c)
	slices.Sort(keys)
	parts := lo.FilterMap(keys, func(k string, _ int) (string, bool) {
		return fmt.Sprintf("%s=%d", k, c[k]), c[k] != 0
	})
	return strings.Join(parts, ", ")
}

// unordered sorts channels without a reference position last.
const unordered = math.MaxInt32

// state is the working copy of the tables the syncer writes.
type state struct {
	channels       []catalog.Row
	channelsLocal  []catalog.Row
	videos         []catalog.Row
	videosLocal    []catalog.Row
	playlists      []catalog.Row
	playlistsLocal []catalog.Row
	items          []catalog.Row

	order map[string]int
}

func (s *Syncer) working() *state {
	if s.st == nil {
		load := func(name string) []catalog.Row { return s.store.Table(name).Rows }
		s.st = &state{
			channels:       load(catalog.Channels),
			channelsLocal:  load(catalog.ChannelsLocal),
			videos:         load(catalog.Videos),
			videosLocal:    load(catalog.VideosLocal),
			playlists:      load(catalog.Playlists),
			playlistsLocal: load(catalog.PlaylistsLocal),
			items:          load(catalog.PlaylistItems),
			order:          make(map[string]int),
		}
	}
	return s.st
}

// save sorts every table into canonical order and flushes them.
func (s *Syncer) save() error {
	st := s.working()
	st.sort()
	s.store.Replace(catalog.Channels, st.channels)
	s.store.Replace(catalog.ChannelsLocal, st.channelsLocal)
	s.store.Replace(catalog.Videos, st.videos)
	s.store.Replace(catalog.VideosLocal, st.videosLocal)
	s.store.Replace(catalog.Playlists, st.playlists)
	s.store.Replace(catalog.PlaylistsLocal, st.playlistsLocal)
	s.store.Replace(catalog.PlaylistItems, st.items)
	return s.store.Flush()
}

func (st *state) position(channelID string) int {
	if pos, ok := st.order[channelID]; ok {
		return pos
	}
	return unordered
}

func (st *state) nextPosition(floor int) int {
	next := floor
	for _, pos := range st.order {
		if pos >= next {
			next = pos + 1
		}
	}
	return next
}

// channel finds a stored channel by id, or by handle when the id is unknown.
func (st *state) channel(channelID, handle string) catalog.Row {
	if channelID != "" {
		if row, ok := lo.Find(st.channels, func(r catalog.Row) bool { return r.Get("channel_id") == channelID }); ok {
			return row
		}
	}
	key := catalog.NormalizeIdentifier(handle)
	if key == "" {
		return nil
	}
	row, _ := lo.Find(st.channels, func(r catalog.Row) bool {
		return catalog.NormalizeIdentifier(r.Get("custom_url")) == key
	})
	return row
}

// channelVideos returns the stored uploads of a channel, oldest first.
func (st *state) channelVideos(channelID string) []catalog.Row {
	block := lo.Filter(st.videos, func(r catalog.Row, _ int) bool { return r.Get("channel_id") == channelID })
	slices.SortStableFunc(block, byColumn("published_at"))
	return block
}

func (st *state) sort() {
	byChannel := func(col string) func(a, b catalog.Row) int {
		return func(a, b catalog.Row) int {
			if c := st.position(a.Get("channel_id")) - st.position(b.Get("channel_id")); c != 0 {
				return c
			}
			return strings.Compare(a.Get(col), b.Get(col))
		}
	}
	slices.SortStableFunc(st.channels, func(a, b catalog.Row) int {
		return st.position(a.Get("channel_id")) - st.position(b.Get("channel_id"))
	})
	slices.SortStableFunc(st.videos, byChannel("published_at"))
	slices.SortStableFunc(st.playlists, byChannel("published_at"))

	sortLocal(st.channelsLocal, "channel_id", catalog.PositionIndex(st.channels, "channel_id"))
	sortLocal(st.videosLocal, "video_id", catalog.PositionIndex(st.videos, "video_id"))

	playlistIndex := catalog.PositionIndex(st.playlists, "playlist_id")
	sortLocal(st.playlistsLocal, "playlist_id", playlistIndex)
	slices.SortStableFunc(st.items, func(a, b catalog.Row) int {
		if c := indexOf(playlistIndex, a.Get("playlist_id")) - indexOf(playlistIndex, b.Get("playlist_id")); c != 0 {
			return c
		}
		return atoi(a.Get("position")) - atoi(b.Get("position"))
	})
}

func sortLocal(rows []catalog.Row, idCol string, index map[string]int) {
	slices.SortStableFunc(rows, func(a, b catalog.Row) int {
		if c := indexOf(index, a.Get(idCol)) - indexOf(index, b.Get(idCol)); c != 0 {
			return c
		}
		return strings.Compare(a.Get("language_code"), b.Get("language_code"))
	})
}

func indexOf(index map[string]int, key string) int {
	if pos, ok := index[key]; ok {
		return pos
	}
	return unordered
}

func byColumn(col string) func(a, b catalog.Row) int {
	return func(a, b catalog.Row) int { return strings.Compare(a.Get(col), b.Get(col)) }
}

// replaceLocal swaps the localized rows of one entity for fresh and returns
// how many languages are new or carry different text. Languages that
// disappeared are dropped without being counted.
func replaceLocal(rows []catalog.Row, idCol, id string, fresh []catalog.Row, fields ...string) ([]catalog.Row, int) {
	previous := make(map[string]catalog.Row)
	kept := lo.Filter(rows, func(r catalog.Row, _ int) bool {
		if r.Get(idCol) != id {
			return true
		}
		previous[r.Get("language_code")] = r
		return false
	})

	changed := 0
	for _, row := range fresh {
		old, ok := previous[row.Get("language_code")]
		if !ok || !sameFields(old, row, fields) {
			changed++
		}
	}
	return append(kept, fresh...), changed
}

func sameFields(a, b catalog.Row, fields []string) bool {
	return lo.EveryBy(fields, func(f string) bool { return a.Get(f) == b.Get(f) })
}

// localRows builds *_local rows from a localization map in language order.
func localRows[L any](idCol, id string, localizations map[string]L, fields func(L) catalog.Row) []catalog.Row {
	langs := lo.Keys(localizations)
	slices.Sort(langs)
	return lo.Map(langs, func(lang string, _ int) catalog.Row {
		row := fields(localizations[lang])
		row[idCol] = id
		row["language_code"] = lang
		return row
	})
}
