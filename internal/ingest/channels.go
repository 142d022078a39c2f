package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/incremental"
	"ytcatalog/internal/youtube"
)

// SyncChannels processes the reference list in order. Quota exhaustion and
// cancellation abort the run; any other channel failure is logged and the
// channel skipped.
func (s *Syncer) SyncChannels(ctx context.Context, sources []catalog.Row) (Report, error) {
	report := Report{Totals: Counters{}}
	start, err := StartIndex(sources, s.opts.StartFrom)
	if err != nil {
		return report, err
	}

	s.seedOrder(sources)
	for i := start; i < len(sources); i++ {
		if s.opts.ChannelLimit > 0 && report.Processed >= s.opts.ChannelLimit {
			s.log.WithField("limit", s.opts.ChannelLimit).Info("channel limit reached")
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		changes := Counters{}
		processed, err := s.syncChannel(ctx, sources[i], i, changes)
		report.Totals.Merge(changes)
		if err != nil {
			if fatal(ctx, err) {
				return report, err
			}
			report.Failed++
			s.log.WithFields(logrus.Fields{
				"row":        i,
				"title":      sources[i].Get("title"),
				"channel_id": sources[i].Get("channel_id"),
			}).WithError(err).Error("channel sync failed; skipping")
			continue
		}
		if processed {
			report.Processed++
		} else {
			report.Skipped++
		}
	}
	return report, nil
}

// syncChannel brings one channel, its uploads and its playlists up to date
// and flushes the result. It returns false for channels that were skipped.
func (s *Syncer) syncChannel(ctx context.Context, src catalog.Row, index int, changes Counters) (bool, error) {
	st := s.working()
	channelID := src.Get("channel_id")
	handle := catalog.NormalizeHandle(src.Get("custom_url"))
	log := s.log.WithFields(logrus.Fields{"row": index, "handle": handle})

	if channelID == "" {
		if row := st.channel("", handle); row != nil {
			channelID = row.Get("channel_id")
		}
	}
	if channelID == "" && handle != "" {
		id, err := s.api.ResolveHandle(ctx, handle)
		if err != nil && !errors.Is(err, youtube.ErrNotFound) {
			return false, fmt.Errorf("resolve handle %s: %w", handle, err)
		}
		channelID = id
	}
	if channelID == "" {
		log.Warn("could not resolve channel id; skipping")
		return false, nil
	}
	log = log.WithField("channel_id", channelID)
	if _, ok := st.order[channelID]; !ok {
		st.order[channelID] = index
	}

	row := st.channel(channelID, handle)
	if row != nil && s.opts.SkipExisting {
		log.Debug("channel already stored; skipping")
		return false, nil
	}
	if row == nil {
		row = catalog.Row{
			"channel_id": channelID,
			"title":      src.Get("title"),
			"custom_url": src.Get("custom_url"),
		}
		st.channels = append(st.channels, row)
		changes.Add("channels_added", 1)
	}
	row["channel_id"] = channelID

	if row.Get("uploads_playlist_id") == "" {
		ch, err := s.api.Channel(ctx, channelID)
		switch {
		case errors.Is(err, youtube.ErrNotFound):
			log.Warn("channel not returned by the API")
		case err != nil:
			return false, fmt.Errorf("fetch channel: %w", err)
		default:
			if applyChannel(row, ch) {
				changes.Add("channels_updated", 1)
			}
			if s.opts.IncludeLocalizations {
				var n int
				st.channelsLocal, n = replaceLocal(st.channelsLocal, "channel_id", channelID, channelLocalRows(ch), textFields...)
				changes.Add("channels_local_updated", n)
			}
		}
	}
	uploads := row.Get("uploads_playlist_id")
	if uploads == "" {
		log.Warn("no uploads playlist; skipping")
		return false, s.save()
	}

	collected, err := s.syncUploads(ctx, channelID, uploads, changes, log)
	if err != nil {
		return false, err
	}
	if !collected {
		return false, s.save()
	}
	if err := s.syncPlaylists(ctx, channelID, handle, src.Get("title"), changes, log); err != nil {
		return false, err
	}

	row["last_updated"] = s.opts.Now().Format("2006-01-02")
	if err := s.save(); err != nil {
		return false, err
	}
	if changes.HasChanges() {
		log.Infof("UPDATED channel %s: %s", channelID, changes)
	}
	return true, nil
}

// syncUploads pages the uploads playlist until it reaches stored videos and
// replaces the tail of the channel's stored uploads with the fetched window.
// It returns false when the uploads playlist yielded no ids.
func (s *Syncer) syncUploads(ctx context.Context, channelID, uploads string, changes Counters, log logrus.FieldLogger) (bool, error) {
	st := s.working()
	block := st.channelVideos(channelID)
	known := make(map[string]struct{}, len(block))
	for _, v := range block {
		known[v.Get("video_id")] = struct{}{}
	}

	fetched, err := s.ctrl.FetchIDs(ctx, uploads, known, incremental.Options{
		PageLimit:   s.opts.PageLimit,
		StopOnKnown: s.opts.StopOnKnown && len(known) > 0,
	})
	if err != nil {
		return false, fmt.Errorf("fetch uploads: %w", err)
	}
	ids := lo.Uniq(lo.Compact(fetched.IDs))
	if len(ids) == 0 {
		log.Warn("no uploads collected; skipping")
		return false, nil
	}
	log.WithFields(logrus.Fields{"pages": fetched.Pages, "ids": len(ids), "reached_known": fetched.ReachedKnown}).Debug("uploads fetched")

	videos, err := s.api.Videos(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("fetch videos: %w", err)
	}
	window := make([]catalog.Row, 0, len(videos))
	for _, v := range videos {
		window = append(window, videoRow(v))
		if s.opts.IncludeLocalizations {
			var n int
			st.videosLocal, n = replaceLocal(st.videosLocal, "video_id", v.Id, videoLocalRows(v), "title")
			changes.Add("videos_local_updated", n)
		}
	}
	slices.SortStableFunc(window, byColumn("published_at"))

	videoKey := func(r catalog.Row) string { return r.Get("video_id") }
	merged := incremental.Merge(block, window, videoKey)
	fetchedSet := lo.SliceToMap(ids, func(id string) (string, struct{}) { return id, struct{}{} })
	missing := lo.FilterMap(block[merged.Boundary:], func(r catalog.Row, _ int) (string, bool) {
		_, ok := fetchedSet[r.Get("video_id")]
		return r.Get("video_id"), !ok
	})
	if len(missing) > 0 {
		log.WithField("video_ids", missing).Warn("stored uploads missing from the fetched window")
		changes.Add("videos_missing", len(missing))
	}

	rows, reordered := dropReordered(merged.Rows, merged.Boundary, videoKey)
	if len(reordered) > 0 {
		log.WithField("video_ids", reordered).Warn("uploads reordered; stored rows before the boundary replaced by fetched rows")
		changes.Add("videos_reordered", len(reordered))
	}

	changes.Add("videos_added", len(merged.Added)-len(lo.Intersect(merged.Added, reordered)))
	changes.Add("videos_removed", len(merged.Missing))
	if len(merged.Missing) > 0 {
		removed := lo.Keyify(merged.Missing)
		st.videosLocal = lo.Reject(st.videosLocal, func(r catalog.Row, _ int) bool {
			_, ok := removed[r.Get("video_id")]
			return ok
		})
	}
	if merged.Replaced() {
		changes.Add("videos_replaced", 1)
	}

	st.videos = append(lo.Reject(st.videos, func(r catalog.Row, _ int) bool {
		return r.Get("channel_id") == channelID
	}), rows...)
	return true, nil
}

// dropReordered removes items of the kept prefix rows[:boundary] whose key
// reappears from the boundary on, so each key is held once by its fetched
// copy. It returns the kept rows and the dropped keys.
func dropReordered[T any](rows []T, boundary int, key func(T) string) ([]T, []string) {
	fresh := lo.Keyify(lo.Map(rows[boundary:], func(item T, _ int) string { return key(item) }))
	out := make([]T, 0, len(rows))
	var dropped []string
	for i, item := range rows {
		if i < boundary {
			if _, ok := fresh[key(item)]; ok {
				dropped = append(dropped, key(item))
				continue
			}
		}
		out = append(out, item)
	}
	return out, dropped
}

// seedOrder assigns every reference channel its source position, resolving
// handle-only rows against stored channels.
func (s *Syncer) seedOrder(sources []catalog.Row) {
	st := s.working()
	for i, src := range sources {
		id := src.Get("channel_id")
		if id == "" {
			if row := st.channel("", catalog.NormalizeHandle(src.Get("custom_url"))); row != nil {
				id = row.Get("channel_id")
			}
		}
		if _, ok := st.order[id]; id != "" && !ok {
			st.order[id] = i
		}
	}
}
