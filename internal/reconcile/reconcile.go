// Package reconcile brings every catalog table back in line with the channel
// reference list before a sync starts: rows are re-sorted by the canonical
// position of their parent chain, orphans are dropped and derived playlist
// flags are recomputed.
package reconcile

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"ytcatalog/internal/catalog"
)

// Input carries the authoritative data the pass reconciles against.
type Input struct {
	// Sources is the channel reference list in canonical order.
	Sources []catalog.Row
	// ExtraChannelIDs are channels outside the reference list that are still
	// wanted, such as owners of individually ingested videos. They sort
	// after the reference list in the given order.
	ExtraChannelIDs []string
	// CoursePlaylistIDs marks playlists classified as courses.
	CoursePlaylistIDs map[string]struct{}
}

// TableResult reports what the pass did to one table.
type TableResult struct {
	Table        string
	Removed      int
	Reordered    bool
	FlagsChanged int
	flagged      bool
}

// String renders the result as a PREP log line.
func (r TableResult) String() string {
	line := fmt.Sprintf("PREP %s.csv: removed=%d, reordered=%s", r.Table, r.Removed, lo.Ternary(r.Reordered, "yes", "no"))
	if r.flagged {
		line += fmt.Sprintf(", course_flags_updated=%d", r.FlagsChanged)
	}
	return line
}

// Changed reports whether the table content differs after the pass.
func (r TableResult) Changed() bool {
	return r.Removed > 0 || r.Reordered || r.FlagsChanged > 0
}

// Report collects the per-table results in processing order.
type Report struct {
	Skipped bool
	Tables  []TableResult
}

// Removed sums removed rows across tables.
func (r Report) Removed() int {
	return lo.SumBy(r.Tables, func(t TableResult) int { return t.Removed })
}

// Reordered reports whether any table was reordered.
func (r Report) Reordered() bool {
	return lo.SomeBy(r.Tables, func(t TableResult) bool { return t.Reordered })
}

// Counts flattens the report for the run manifest.
func (r Report) Counts() map[string]int {
	counts := map[string]int{"removed": r.Removed()}
	for _, t := range r.Tables {
		if t.Reordered {
			counts["reordered_tables"]++
		}
		counts["course_flags_updated"] += t.FlagsChanged
	}
	return counts
}

// Run reconciles every table of store in dependency order and flushes the
// tables that changed. With no reference rows the pass is skipped.
func Run(store *catalog.Store, in Input, log logrus.FieldLogger) (Report, error) {
	if len(in.Sources) == 0 {
		log.Warn("PREP: no channel source rows; skipping prep phase")
		return Report{Skipped: true}, nil
	}

	p := &pass{store: store, log: log}
	refIndex := channelRefIndex(in.Sources, in.ExtraChannelIDs, store.Rows(catalog.Videos))

	channels := p.apply(catalog.Channels, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
		return order(rows, func(r catalog.Row) string { return channelRefKey(r, refIndex) }, refIndex, nil)
	})
	channelIndex := catalog.PositionIndex(channels, "channel_id")

	p.apply(catalog.ChannelsLocal, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
		return order(rows, column("channel_id"), channelIndex, byColumns("language_code"))
	})

	videos := p.apply(catalog.Videos, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
		return order(rows, column("channel_id"), channelIndex, byColumns("published_at", "video_id"))
	})
	videoIndex := catalog.PositionIndex(videos, "video_id")

	p.apply(catalog.VideosLocal, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
		return order(rows, column("video_id"), videoIndex, byColumns("language_code"))
	})

	if len(store.Rows(catalog.VideosTranscripts)) > 0 {
		p.apply(catalog.VideosTranscripts, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
			return order(rows, column("video_id"), videoIndex, byColumns("language_code"))
		})
	}

	playlists := p.apply(catalog.Playlists, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
		ordered, res := order(rows, column("channel_id"), channelIndex, byColumns("published_at", "playlist_id"))
		ordered, res.FlagsChanged = applyCourseFlags(ordered, in.CoursePlaylistIDs)
		res.flagged = true
		return ordered, res
	})
	playlistIndex := catalog.PositionIndex(playlists, "playlist_id")

	p.apply(catalog.PlaylistsLocal, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
		return order(rows, column("playlist_id"), playlistIndex, byColumns("language_code"))
	})

	p.apply(catalog.PlaylistItems, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
		return order(rows, column("playlist_id"), playlistIndex, byPosition)
	})

	p.apply(catalog.AudioTracks, func(rows []catalog.Row) ([]catalog.Row, TableResult) {
		return order(rows, column("video_id"), videoIndex, nil)
	})

	if err := store.Flush(); err != nil {
		return p.report, fmt.Errorf("flush reconciled tables: %w", err)
	}
	return p.report, nil
}

type pass struct {
	store  *catalog.Store
	log    logrus.FieldLogger
	report Report
}

// apply runs fn over a table, stores the result when it changed and returns
// the rows in their reconciled order.
func (p *pass) apply(table string, fn func([]catalog.Row) ([]catalog.Row, TableResult)) []catalog.Row {
	rows, res := fn(p.store.Rows(table))
	res.Table = table
	if res.Changed() {
		p.store.Replace(table, rows)
	}
	p.report.Tables = append(p.report.Tables, res)

	entry := p.log.WithFields(logrus.Fields{"table": table, "removed": res.Removed, "reordered": res.Reordered})
	if res.Removed > 0 || res.FlagsChanged > 0 {
		entry.Warn(res.String())
	} else {
		entry.Info(res.String())
	}
	return rows
}

// channelRefIndex maps every normalized identifier of a reference row to
// its position. Extra channel ids and channels that already own videos
// follow the reference list so they are not treated as orphans.
func channelRefIndex(sources []catalog.Row, extra []string, videos []catalog.Row) map[string]int {
	index := make(map[string]int)
	for i, src := range sources {
		for _, col := range []string{"channel_id", "custom_url", "title"} {
			key := catalog.NormalizeIdentifier(src.Get(col))
			if _, ok := index[key]; key != "" && !ok {
				index[key] = i
			}
		}
	}

	next := len(sources)
	add := func(id string) {
		key := catalog.NormalizeIdentifier(id)
		if _, ok := index[key]; key != "" && !ok {
			index[key] = next
			next++
		}
	}
	for _, id := range extra {
		add(id)
	}
	for _, v := range videos {
		add(v.Get("channel_id"))
	}
	return index
}

func channelRefKey(row catalog.Row, refIndex map[string]int) string {
	for _, col := range []string{"channel_id", "custom_url", "title"} {
		key := catalog.NormalizeIdentifier(row.Get(col))
		if _, ok := refIndex[key]; key != "" && ok {
			return key
		}
	}
	return ""
}

type positioned struct {
	pos int
	row catalog.Row
}

// order keeps the rows whose key resolves in index and sorts them stably by
// (position, tiebreak).
func order(rows []catalog.Row, key func(catalog.Row) string, index map[string]int, tiebreak func(a, b catalog.Row) int) ([]catalog.Row, TableResult) {
	var res TableResult
	kept := make([]positioned, 0, len(rows))
	for _, row := range rows {
		k := key(row)
		pos, ok := index[k]
		if k == "" || !ok {
			res.Removed++
			continue
		}
		kept = append(kept, positioned{pos: pos, row: row})
	}

	slices.SortStableFunc(kept, func(a, b positioned) int {
		if c := cmp.Compare(a.pos, b.pos); c != 0 || tiebreak == nil {
			return c
		}
		return tiebreak(a.row, b.row)
	})

	ordered := lo.Map(kept, func(p positioned, _ int) catalog.Row { return p.row })
	res.Reordered = !slices.Equal(lo.Map(rows, rowIdentity), lo.Map(ordered, rowIdentity))
	return ordered, res
}

// rowIdentity is compared before and after sorting to detect reordering.
func rowIdentity(r catalog.Row, _ int) string {
	return strings.Join([]string{
		r.Get("channel_id"), r.Get("video_id"), r.Get("playlist_id"),
		r.Get("playlist_item_id"), r.Get("language_code"),
	}, "\x00")
}

func column(col string) func(catalog.Row) string {
	return func(r catalog.Row) string { return r.Get(col) }
}

func byColumns(cols ...string) func(a, b catalog.Row) int {
	return func(a, b catalog.Row) int {
		for _, col := range cols {
			if c := strings.Compare(a.Get(col), b.Get(col)); c != 0 {
				return c
			}
		}
		return 0
	}
}

func byPosition(a, b catalog.Row) int {
	return cmp.Compare(positionOf(a), positionOf(b))
}

// positionOf treats an unparseable position as 0.
func positionOf(r catalog.Row) int {
	n, err := strconv.Atoi(r.Get("position"))
	if err != nil {
		return 0
	}
	return n
}

// applyCourseFlags overwrites playlist_type_id from the course set and
// returns how many rows changed. Rows are copied before modification.
func applyCourseFlags(rows []catalog.Row, courses map[string]struct{}) ([]catalog.Row, int) {
	changed := 0
	out := make([]catalog.Row, len(rows))
	for i, row := range rows {
		out[i] = row
		id := row.Get("playlist_id")
		if id == "" {
			continue
		}
		want := catalog.PlaylistTypePlaylist
		if _, ok := courses[id]; ok {
			want = catalog.PlaylistTypeCourse
		}
		if row["playlist_type_id"] != want {
			updated := row.Clone()
			updated["playlist_type_id"] = want
			out[i] = updated
			changed++
		}
	}
	return out, changed
}
