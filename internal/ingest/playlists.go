package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	yt "google.golang.org/api/youtube/v3"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/youtube"
)

// courseIDs returns the playlist ids listed under course headers naming
// the channel.
func (s *Syncer) courseIDs(title, handle string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, block := range s.courses {
		if catalog.MatchesCourseHeader(block.Header, title, handle) {
			for _, id := range block.PlaylistIDs {
				ids[id] = struct{}{}
			}
		}
	}
	return ids
}

// syncPlaylists upserts the channel's playlists and refetches the items of
// every playlist that is new or changed.
func (s *Syncer) syncPlaylists(ctx context.Context, channelID, handle, title string, changes Counters, log logrus.FieldLogger) error {
	st := s.working()
	listed, err := s.api.Playlists(ctx, channelID, s.opts.PlaylistPageLimit)
	if err != nil {
		return fmt.Errorf("list playlists: %w", err)
	}
	listedIDs := lo.Keyify(lo.Map(listed, func(p *yt.Playlist, _ int) string { return p.Id }))

	courses := s.courseIDs(title, handle)
	if absent := lo.Filter(lo.Keys(courses), func(id string, _ int) bool {
		_, ok := listedIDs[id]
		return !ok
	}); len(absent) > 0 {
		slices.Sort(absent)
		log.WithField("playlist_ids", absent).Warn("course playlists not returned for channel")
	}

	positions := catalog.PositionIndex(st.playlists, "playlist_id")
	var changed []string
	for _, p := range listed {
		_, course := courses[p.Id]
		row := playlistRow(p, course)

		localChanged := false
		if s.opts.IncludeLocalizations && len(p.Localizations) > 0 {
			var n int
			st.playlistsLocal, n = replaceLocal(st.playlistsLocal, "playlist_id", p.Id, playlistLocalRows(p), textFields...)
			if n > 0 {
				localChanged = true
				changes.Add("playlists_local_updated", 1)
			}
		}

		pos, exists := positions[p.Id]
		if !exists || localChanged || !sameFields(st.playlists[pos], row, playlistFields) {
			changed = append(changed, p.Id)
		}
		if exists {
			st.playlists[pos] = row
		} else {
			st.playlists = append(st.playlists, row)
			positions[p.Id] = len(st.playlists) - 1
		}
	}

	if s.opts.PlaylistPageLimit == 0 {
		s.removePlaylists(channelID, listedIDs, changes)
	}
	if len(changed) == 0 {
		return nil
	}
	changes.Add("playlists_updated", len(changed))

	refetch := lo.Keyify(changed)
	st.items = lo.Reject(st.items, func(r catalog.Row, _ int) bool {
		_, ok := refetch[r.Get("playlist_id")]
		return ok
	})
	for _, id := range changed {
		items, err := s.api.PlaylistItems(ctx, id)
		if errors.Is(err, youtube.ErrNotFound) {
			log.WithField("playlist_id", id).Warn("playlist items not available")
			continue
		}
		if err != nil {
			return fmt.Errorf("list items of playlist %s: %w", id, err)
		}
		for _, item := range items {
			st.items = append(st.items, playlistItemRow(item))
		}
		changes.Add("playlist_items_added", len(items))
	}
	return nil
}

// removePlaylists drops the channel's stored playlists that the API no longer
// lists, together with their localizations and items.
func (s *Syncer) removePlaylists(channelID string, listed map[string]struct{}, changes Counters) {
	st := s.working()
	removed := make(map[string]struct{})
	st.playlists = lo.Reject(st.playlists, func(r catalog.Row, _ int) bool {
		if r.Get("channel_id") != channelID {
			return false
		}
		if _, ok := listed[r.Get("playlist_id")]; ok {
			return false
		}
		removed[r.Get("playlist_id")] = struct{}{}
		return true
	})
	if len(removed) == 0 {
		return
	}
	gone := func(r catalog.Row, _ int) bool {
		_, ok := removed[r.Get("playlist_id")]
		return ok
	}
	st.playlistsLocal = lo.Reject(st.playlistsLocal, gone)
	st.items = lo.Reject(st.items, gone)
	changes.Add("playlists_removed", len(removed))
}
