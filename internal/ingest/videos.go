package ingest

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"ytcatalog/internal/catalog"
)

// IngestVideos adds individually listed videos that are not stored yet and
// whose channels are not part of the reference list. Unknown owning channels
// get placeholder rows ordered after every known channel.
func (s *Syncer) IngestVideos(ctx context.Context, sources, videoSources []catalog.Row) (Counters, error) {
	changes := Counters{}
	st := s.working()
	s.seedOrder(sources)

	reference := make(map[string]struct{})
	for _, src := range sources {
		if id := src.Get("channel_id"); id != "" {
			reference[id] = struct{}{}
		}
	}
	for id, pos := range st.order {
		if pos < len(sources) {
			reference[id] = struct{}{}
		}
	}

	stored := lo.Keyify(lo.Map(st.videos, func(r catalog.Row, _ int) string { return r.Get("video_id") }))
	var pending []string
	for _, row := range videoSources {
		id := catalog.VideoIDFromRow(row)
		if id == "" {
			continue
		}
		if _, ok := stored[id]; ok {
			continue
		}
		if _, ok := reference[row.Get("channel_id")]; ok {
			continue
		}
		pending = append(pending, id)
	}
	pending = lo.Uniq(pending)
	if len(pending) == 0 {
		return changes, nil
	}

	videos, err := s.api.Videos(ctx, pending)
	if err != nil {
		return changes, fmt.Errorf("fetch listed videos: %w", err)
	}
	if missing := len(pending) - len(videos); missing > 0 {
		s.log.WithField("missing", missing).Warn("listed videos not returned by the API")
	}

	for _, v := range videos {
		row := videoRow(v)
		channelID := row.Get("channel_id")
		if _, ok := reference[channelID]; ok {
			continue
		}
		if _, ok := stored[v.Id]; ok {
			continue
		}
		if _, ok := st.order[channelID]; channelID != "" && !ok {
			st.order[channelID] = st.nextPosition(len(sources))
		}

		st.videos = append(st.videos, row)
		stored[v.Id] = struct{}{}
		changes.Add("single_videos_added", 1)
		if s.opts.IncludeLocalizations {
			var n int
			st.videosLocal, n = replaceLocal(st.videosLocal, "video_id", v.Id, videoLocalRows(v), "title")
			changes.Add("videos_local_updated", n)
		}

		if channelID != "" && st.channel(channelID, "") == nil {
			st.channels = append(st.channels, catalog.Row{
				"channel_id": channelID,
				"title":      row.Get("channel_title"),
			})
			changes.Add("channels_added", 1)
		}
	}

	if err := s.save(); err != nil {
		return changes, err
	}
	if changes.HasChanges() {
		s.log.WithFields(logrus.Fields{"requested": len(pending)}).Infof("UPDATED single videos: %s", changes)
	}
	return changes, nil
}
