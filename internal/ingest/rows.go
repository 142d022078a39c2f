package ingest

import (
	"strconv"
	"strings"

	yt "google.golang.org/api/youtube/v3"

	"ytcatalog/internal/catalog"
)

var (
	channelFields  = []string{"title", "description", "custom_url", "published_at", "default_language", "country", "uploads_playlist_id"}
	playlistFields = []string{"channel_id", "channel_title", "title", "description", "published_at", "item_count", "default_language", "playlist_type_id"}
	textFields     = []string{"title", "description"}
)

// applyChannel copies the API channel into row and reports whether any
// tracked field changed.
func applyChannel(row catalog.Row, ch *yt.Channel) bool {
	before := row.Clone()
	if s := ch.Snippet; s != nil {
		row["title"] = s.Title
		row["description"] = s.Description
		row["custom_url"] = s.CustomUrl
		row["published_at"] = s.PublishedAt
		row["default_language"] = s.DefaultLanguage
		row["country"] = s.Country
	}
	if cd := ch.ContentDetails; cd != nil && cd.RelatedPlaylists != nil {
		row["uploads_playlist_id"] = cd.RelatedPlaylists.Uploads
	}
	return !sameFields(before, row, channelFields)
}

func channelLocalRows(ch *yt.Channel) []catalog.Row {
	return localRows("channel_id", ch.Id, ch.Localizations, func(l yt.ChannelLocalization) catalog.Row {
		return catalog.Row{"title": l.Title, "description": l.Description}
	})
}

func videoRow(v *yt.Video) catalog.Row {
	row := catalog.Row{"video_id": v.Id}
	if s := v.Snippet; s != nil {
		row["channel_id"] = s.ChannelId
		row["channel_title"] = s.ChannelTitle
		row["title"] = s.Title
		row["description"] = s.Description
		row["published_at"] = s.PublishedAt
		row["category_id"] = s.CategoryId
		row["tags"] = strings.Join(s.Tags, "|")
		row["default_language"] = s.DefaultLanguage
		row["default_audio_language"] = s.DefaultAudioLanguage
	}
	if cd := v.ContentDetails; cd != nil {
		row["duration"] = cd.Duration
		row["caption_available"] = cd.Caption
	}
	if st := v.Statistics; st != nil {
		row["view_count"] = strconv.FormatUint(st.ViewCount, 10)
		row["like_count"] = strconv.FormatUint(st.LikeCount, 10)
		row["comment_count"] = strconv.FormatUint(st.CommentCount, 10)
	}
	return row
}

func videoLocalRows(v *yt.Video) []catalog.Row {
	return localRows("video_id", v.Id, v.Localizations, func(l yt.VideoLocalization) catalog.Row {
		return catalog.Row{"title": l.Title}
	})
}

func playlistRow(p *yt.Playlist, course bool) catalog.Row {
	row := catalog.Row{"playlist_id": p.Id, "playlist_type_id": catalog.PlaylistTypePlaylist}
	if course {
		row["playlist_type_id"] = catalog.PlaylistTypeCourse
	}
	if s := p.Snippet; s != nil {
		row["channel_id"] = s.ChannelId
		row["channel_title"] = s.ChannelTitle
		row["title"] = s.Title
		row["description"] = s.Description
		row["published_at"] = s.PublishedAt
		row["default_language"] = s.DefaultLanguage
	}
	if cd := p.ContentDetails; cd != nil {
		row["item_count"] = strconv.FormatInt(cd.ItemCount, 10)
	}
	return row
}

func playlistLocalRows(p *yt.Playlist) []catalog.Row {
	return localRows("playlist_id", p.Id, p.Localizations, func(l yt.PlaylistLocalization) catalog.Row {
		return catalog.Row{"title": l.Title, "description": l.Description}
	})
}

func playlistItemRow(item *yt.PlaylistItem) catalog.Row {
	row := catalog.Row{"playlist_item_id": item.Id}
	if s := item.Snippet; s != nil {
		row["playlist_id"] = s.PlaylistId
		row["position"] = strconv.FormatInt(s.Position, 10)
		row["video_owner_channel_id"] = s.VideoOwnerChannelId
		row["video_owner_channel_title"] = s.VideoOwnerChannelTitle
		if s.ResourceId != nil {
			row["video_id"] = s.ResourceId.VideoId
		}
	}
	if row["video_id"] == "" && item.ContentDetails != nil {
		row["video_id"] = item.ContentDetails.VideoId
	}
	return row
}

// atoi parses a position column; unparsable values sort first.
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	return n
}
