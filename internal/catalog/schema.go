// Package catalog holds the tabular entity store for one run: every table
// is loaded into memory, mutated by the pipeline, and flushed back as a
// complete atomic rewrite.
package catalog

import "strings"

// Table names. Each table persists as <name>.csv in the data directory.
const (
	Channels          = "channels"
	ChannelsLocal     = "channels_local"
	Videos            = "videos"
	VideosLocal       = "videos_local"
	VideosTranscripts = "videos_transcripts"
	Playlists         = "playlists"
	PlaylistsLocal    = "playlists_local"
	PlaylistItems     = "playlistItems"
	Comments          = "comments"
	VideoCategories   = "videoCategories"
	AudioTracks       = "audiotracks"
)

// Schema describes the fixed column layout of a table.
type Schema struct {
	Name   string
	Header []string
	// KeepFileHeader preserves a differing on-disk header instead of
	// rewriting the file with Header.
	KeepFileHeader bool
}

// FileName returns the CSV file name for the table.
func (s Schema) FileName() string {
	return s.Name + ".csv"
}

func cols(header string) []string {
	return strings.Split(header, ",")
}

// Schemas lists every table in dependency order.
var Schemas = []Schema{
	{Name: Channels, Header: cols("channel_id,title,description,custom_url,published_at,default_language,country,uploads_playlist_id,last_updated")},
	{Name: ChannelsLocal, Header: cols("channel_id,language_code,title,description")},
	{Name: Videos, Header: cols("video_id,channel_id,channel_title,title,description,published_at,category_id,tags,duration,caption_available,default_language,default_audio_language,view_count,like_count,comment_count")},
	{Name: VideosLocal, Header: cols("video_id,language_code,title")},
	{Name: VideosTranscripts, Header: cols("video_id,language_code,is_generated,is_translatable,transcript"), KeepFileHeader: true},
	{Name: Playlists, Header: cols("playlist_id,channel_id,channel_title,title,description,published_at,item_count,default_language,playlist_type_id")},
	{Name: PlaylistsLocal, Header: cols("playlist_id,language_code,title,description")},
	{Name: PlaylistItems, Header: cols("playlist_item_id,playlist_id,position,video_id,video_owner_channel_id,video_owner_channel_title")},
	{Name: Comments, Header: cols("video_id,comment_id,text_original,like_count,published_at,updated_at")},
	{Name: VideoCategories, Header: cols("category_id,title,assignable")},
	{Name: AudioTracks, Header: cols("video_id,languages_all,languages_non_auto,has_auto_dub,source,fetched_at,status,error")},
}

// Lookup returns the schema for a table name.
func Lookup(name string) (Schema, bool) {
	for _, s := range Schemas {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// Playlist classification values stored in playlists.playlist_type_id.
const (
	PlaylistTypePlaylist = "1"
	PlaylistTypeCourse   = "2"
)
