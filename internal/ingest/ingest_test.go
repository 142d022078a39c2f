package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	yt "google.golang.org/api/youtube/v3"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/incremental"
	"ytcatalog/internal/youtube"
)

// fakeAPI serves canned Data API resources. Upload pages are listed newest
// first, the way the uploads playlist returns them.
type fakeAPI struct {
	handles     map[string]string
	channels    map[string]*yt.Channel
	channelErrs map[string]error
	uploads     map[string][][]string
	videos      map[string]*yt.Video
	playlists   map[string][]*yt.Playlist
	items       map[string][]*yt.PlaylistItem

	pageCalls    int
	channelCalls int
	itemCalls    []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		handles:     map[string]string{},
		channels:    map[string]*yt.Channel{},
		channelErrs: map[string]error{},
		uploads:     map[string][][]string{},
		videos:      map[string]*yt.Video{},
		playlists:   map[string][]*yt.Playlist{},
		items:       map[string][]*yt.PlaylistItem{},
	}
}

func (f *fakeAPI) ListPage(_ context.Context, playlistID string, token mo.Option[string]) (incremental.Page, error) {
	f.pageCalls++
	pages := f.uploads[playlistID]
	idx := 0
	if t, ok := token.Get(); ok {
		idx, _ = strconv.Atoi(t)
	}
	if idx >= len(pages) {
		return incremental.Page{}, nil
	}
	page := incremental.Page{IDs: pages[idx]}
	if idx+1 < len(pages) {
		page.NextPageToken = mo.Some(strconv.Itoa(idx + 1))
	}
	return page, nil
}

func (f *fakeAPI) ResolveHandle(_ context.Context, handle string) (string, error) {
	if id, ok := f.handles[handle]; ok {
		return id, nil
	}
	return "", youtube.ErrNotFound
}

func (f *fakeAPI) Channel(_ context.Context, channelID string) (*yt.Channel, error) {
	f.channelCalls++
	if err := f.channelErrs[channelID]; err != nil {
		return nil, err
	}
	if ch, ok := f.channels[channelID]; ok {
		return ch, nil
	}
	return nil, youtube.ErrNotFound
}

func (f *fakeAPI) Videos(_ context.Context, ids []string) ([]*yt.Video, error) {
	return lo.FilterMap(ids, func(id string, _ int) (*yt.Video, bool) {
		v, ok := f.videos[id]
		return v, ok
	}), nil
}

func (f *fakeAPI) Playlists(_ context.Context, channelID string, _ int) ([]*yt.Playlist, error) {
	return f.playlists[channelID], nil
}

func (f *fakeAPI) PlaylistItems(_ context.Context, playlistID string) ([]*yt.PlaylistItem, error) {
	f.itemCalls = append(f.itemCalls, playlistID)
	return f.items[playlistID], nil
}

func (f *fakeAPI) addChannel(id, title, handle, uploads string) {
	f.channels[id] = &yt.Channel{
		Id: id,
		Snippet: &yt.ChannelSnippet{
			Title:       title,
			CustomUrl:   "@" + handle,
			PublishedAt: "2015-01-01T00:00:00Z",
		},
		ContentDetails: &yt.ChannelContentDetails{
			RelatedPlaylists: &yt.ChannelContentDetailsRelatedPlaylists{Uploads: uploads},
		},
		Localizations: map[string]yt.ChannelLocalization{
			"de": {Title: title + " DE", Description: "beschreibung"},
		},
	}
}

func (f *fakeAPI) addVideo(id, channelID, published string) {
	f.videos[id] = &yt.Video{
		Id: id,
		Snippet: &yt.VideoSnippet{
			ChannelId:   channelID,
			Title:       "title " + id,
			PublishedAt: published,
			Tags:        []string{"a", "b"},
		},
		Statistics: &yt.VideoStatistics{ViewCount: 10},
		Localizations: map[string]yt.VideoLocalization{
			"fr": {Title: "titre " + id},
		},
	}
}

func playlist(id, channelID, title string) *yt.Playlist {
	return &yt.Playlist{
		Id: id,
		Snippet: &yt.PlaylistSnippet{
			ChannelId:   channelID,
			Title:       title,
			PublishedAt: "2021-01-01T00:00:00Z",
		},
		ContentDetails: &yt.PlaylistContentDetails{ItemCount: 2},
	}
}

func item(playlistID, videoID string, position int64) *yt.PlaylistItem {
	return &yt.PlaylistItem{
		Id: playlistID + "-" + videoID,
		Snippet: &yt.PlaylistItemSnippet{
			PlaylistId: playlistID,
			Position:   position,
			ResourceId: &yt.ResourceId{VideoId: videoID},
		},
	}
}

func newTestSyncer(t *testing.T, api API, courses []catalog.CourseBlock, opts Options) (*Syncer, *catalog.Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	logger, _ := test.NewNullLogger()
	store, err := catalog.Open(fs, "/data", logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	}
	return New(store, api, courses, opts, logger), store, fs
}

func ids(rows []catalog.Row, col string) string {
	return strings.Join(lo.Map(rows, func(r catalog.Row, _ int) string { return r.Get(col) }), ",")
}

func TestSyncChannels_NewChannel(t *testing.T) {
	api := newFakeAPI()
	api.handles["alpha"] = "UCA"
	api.addChannel("UCA", "Alpha", "alpha", "UUA")
	api.uploads["UUA"] = [][]string{{"v3", "v2"}, {"v1"}}
	api.addVideo("v1", "UCA", "2020-01-01T00:00:00Z")
	api.addVideo("v2", "UCA", "2020-02-01T00:00:00Z")
	api.addVideo("v3", "UCA", "2020-03-01T00:00:00Z")
	api.playlists["UCA"] = []*yt.Playlist{playlist("PL1", "UCA", "Course one"), playlist("PL2", "UCA", "Misc")}
	api.items["PL1"] = []*yt.PlaylistItem{item("PL1", "v2", 1), item("PL1", "v1", 0)}

	courses := []catalog.CourseBlock{{Header: "alpha", PlaylistIDs: []string{"PL1", "PLgone"}}}
	s, store, fs := newTestSyncer(t, api, courses, Options{IncludeLocalizations: true})

	report, err := s.SyncChannels(context.Background(), []catalog.Row{{"title": "Alpha", "custom_url": "@alpha"}})
	if err != nil {
		t.Fatalf("SyncChannels() error = %v", err)
	}
	if report.Processed != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, want one processed channel", report)
	}
	if report.Totals["channels_added"] != 1 || report.Totals["videos_added"] != 3 {
		t.Errorf("totals = %v", report.Totals)
	}

	channels := store.Rows(catalog.Channels)
	if len(channels) != 1 {
		t.Fatalf("channels = %v, want one row", channels)
	}
	ch := channels[0]
	if ch.Get("uploads_playlist_id") != "UUA" || ch.Get("last_updated") != "2026-10-18" || ch.Get("custom_url") != "@alpha" {
		t.Errorf("channel row = %v", ch)
	}
	if got := ids(store.Rows(catalog.Videos), "video_id"); got != "v1,v2,v3" {
		t.Errorf("videos = %s, want v1,v2,v3", got)
	}
	if got := store.Rows(catalog.Videos)[0].Get("tags"); got != "a|b" {
		t.Errorf("tags = %q, want a|b", got)
	}
	if got := len(store.Rows(catalog.VideosLocal)); got != 3 {
		t.Errorf("videos_local rows = %d, want 3", got)
	}
	if got := len(store.Rows(catalog.ChannelsLocal)); got != 1 {
		t.Errorf("channels_local rows = %d, want 1", got)
	}

	types := lo.Associate(store.Rows(catalog.Playlists), func(r catalog.Row) (string, string) {
		return r.Get("playlist_id"), r.Get("playlist_type_id")
	})
	if types["PL1"] != catalog.PlaylistTypeCourse || types["PL2"] != catalog.PlaylistTypePlaylist {
		t.Errorf("playlist types = %v", types)
	}
	if got := ids(store.Rows(catalog.PlaylistItems), "video_id"); got != "v1,v2" {
		t.Errorf("playlist items = %s, want v1,v2 in position order", got)
	}

	// Everything must have been flushed to disk.
	logger, _ := test.NewNullLogger()
	reopened, err := catalog.Open(fs, "/data", logger)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got := len(reopened.Rows(catalog.Videos)); got != 3 {
		t.Errorf("flushed videos = %d, want 3", got)
	}
}

func TestSyncChannels_IncrementalMerge(t *testing.T) {
	api := newFakeAPI()
	api.uploads["UUA"] = [][]string{{"v3", "v2"}, {"v1"}}
	api.addVideo("v1", "UCA", "2020-01-01T00:00:00Z")
	api.addVideo("v2", "UCA", "2020-02-01T00:00:00Z")
	api.addVideo("v3", "UCA", "2020-04-01T00:00:00Z")

	s, store, _ := newTestSyncer(t, api, nil, Options{StopOnKnown: true})
	store.Replace(catalog.Channels, []catalog.Row{{"channel_id": "UCA", "title": "Alpha", "uploads_playlist_id": "UUA"}})
	store.Replace(catalog.Videos, []catalog.Row{
		{"video_id": "v1", "channel_id": "UCA", "published_at": "2020-01-01T00:00:00Z"},
		{"video_id": "v2", "channel_id": "UCA", "published_at": "2020-02-01T00:00:00Z"},
		{"video_id": "gone", "channel_id": "UCA", "published_at": "2020-03-01T00:00:00Z"},
		{"video_id": "other", "channel_id": "UCB", "published_at": "2019-01-01T00:00:00Z"},
	})

	report, err := s.SyncChannels(context.Background(), []catalog.Row{
		{"channel_id": "UCA"},
		{"channel_id": "UCB", "title": "Beta"},
	})
	if err != nil {
		t.Fatalf("SyncChannels() error = %v", err)
	}
	if api.pageCalls != 1 {
		t.Errorf("page requests = %d, want 1 (stop at known id)", api.pageCalls)
	}
	if api.channelCalls != 1 {
		t.Errorf("channel requests = %d, want 1 (only the channel without uploads id)", api.channelCalls)
	}
	if report.Processed != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 1 processed and 1 skipped", report)
	}

	want := map[string]int{"videos_added": 1, "videos_removed": 1, "videos_missing": 1, "videos_replaced": 1}
	for k, v := range want {
		if report.Totals[k] != v {
			t.Errorf("%s = %d, want %d (totals %v)", k, report.Totals[k], v, report.Totals)
		}
	}
	if got := ids(store.Rows(catalog.Videos), "video_id"); got != "v1,v2,v3,other" {
		t.Errorf("videos = %s, want v1,v2,v3,other", got)
	}
}

func TestSyncChannels_ReorderedUploads(t *testing.T) {
	api := newFakeAPI()
	api.uploads["UUA"] = [][]string{{"v1", "v3"}}
	api.addVideo("v1", "UCA", "2020-01-01T00:00:00Z")
	api.addVideo("v3", "UCA", "2019-12-01T00:00:00Z")

	s, store, _ := newTestSyncer(t, api, nil, Options{StopOnKnown: true})
	store.Replace(catalog.Channels, []catalog.Row{{"channel_id": "UCA", "title": "Alpha", "uploads_playlist_id": "UUA"}})
	store.Replace(catalog.Videos, []catalog.Row{
		{"video_id": "v1", "channel_id": "UCA", "title": "old v1", "published_at": "2020-01-01T00:00:00Z"},
		{"video_id": "v2", "channel_id": "UCA", "title": "old v2", "published_at": "2020-02-01T00:00:00Z"},
		{"video_id": "v3", "channel_id": "UCA", "title": "old v3", "published_at": "2020-03-01T00:00:00Z"},
	})

	report, err := s.SyncChannels(context.Background(), []catalog.Row{{"channel_id": "UCA"}})
	if err != nil {
		t.Fatalf("SyncChannels() error = %v", err)
	}

	videos := store.Rows(catalog.Videos)
	seen := map[string]int{}
	for _, row := range videos {
		seen[row.Get("video_id")]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("video %s stored %d times, want once (videos %s)", id, n, ids(videos, "video_id"))
		}
	}
	if got := ids(videos, "video_id"); got != "v3,v1,v2" {
		t.Errorf("videos = %s, want v3,v1,v2", got)
	}
	for _, row := range videos {
		if id := row.Get("video_id"); id != "v2" && row.Get("title") != "title "+id {
			t.Errorf("video %s title = %q, want the fetched row", id, row.Get("title"))
		}
	}

	want := map[string]int{"videos_reordered": 1, "videos_added": 0, "videos_removed": 0, "videos_missing": 0}
	for k, v := range want {
		if report.Totals[k] != v {
			t.Errorf("%s = %d, want %d (totals %v)", k, report.Totals[k], v, report.Totals)
		}
	}
}

func TestDropReordered(t *testing.T) {
	tests := []struct {
		name        string
		rows        []string
		boundary    int
		wantRows    []string
		wantDropped []string
	}{
		{"no repeats", []string{"a", "b", "c"}, 2, []string{"a", "b", "c"}, nil},
		{"prefix copy dropped", []string{"a", "b", "c", "a"}, 2, []string{"b", "c", "a"}, []string{"a"}},
		{"zero boundary keeps all", []string{"a", "b"}, 0, []string{"a", "b"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := dropReordered(tt.rows, tt.boundary, func(s string) string { return s })
			if !slices.Equal(got, tt.wantRows) {
				t.Errorf("rows = %v, want %v", got, tt.wantRows)
			}
			if !slices.Equal(dropped, tt.wantDropped) {
				t.Errorf("dropped = %v, want %v", dropped, tt.wantDropped)
			}
		})
	}
}

func TestSyncChannels_SkipExisting(t *testing.T) {
	api := newFakeAPI()
	s, store, _ := newTestSyncer(t, api, nil, Options{SkipExisting: true})
	store.Replace(catalog.Channels, []catalog.Row{{"channel_id": "UCA", "custom_url": "@Alpha", "uploads_playlist_id": "UUA"}})

	report, err := s.SyncChannels(context.Background(), []catalog.Row{{"custom_url": "https://www.youtube.com/@alpha"}})
	if err != nil {
		t.Fatalf("SyncChannels() error = %v", err)
	}
	if report.Skipped != 1 || report.Processed != 0 {
		t.Errorf("report = %+v, want the stored channel skipped", report)
	}
	if api.pageCalls != 0 || api.channelCalls != 0 {
		t.Errorf("api calls = %d pages, %d channels; want none", api.pageCalls, api.channelCalls)
	}
}

func TestSyncChannels_Failures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   bool
		wantFails int
	}{
		{"ordinary failure skips the channel", errors.New("backend error"), false, 1},
		{"quota aborts the run", fmt.Errorf("channels.list: %w", youtube.ErrQuotaExceeded), true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.channelErrs["UCA"] = tt.err
			api.addChannel("UCB", "Beta", "beta", "UUB")
			api.uploads["UUB"] = [][]string{{"b1"}}
			api.addVideo("b1", "UCB", "2021-01-01T00:00:00Z")

			s, store, _ := newTestSyncer(t, api, nil, Options{})
			report, err := s.SyncChannels(context.Background(), []catalog.Row{{"channel_id": "UCA"}, {"channel_id": "UCB"}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("SyncChannels() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, youtube.ErrQuotaExceeded) {
					t.Errorf("error = %v, want ErrQuotaExceeded", err)
				}
				return
			}
			if report.Failed != tt.wantFails || report.Processed != 1 {
				t.Errorf("report = %+v", report)
			}
			if got := ids(store.Rows(catalog.Videos), "video_id"); got != "b1" {
				t.Errorf("videos = %s, want b1", got)
			}
		})
	}
}

func TestSyncChannels_ChannelLimitAndStart(t *testing.T) {
	api := newFakeAPI()
	for _, id := range []string{"UCA", "UCB", "UCC"} {
		api.addChannel(id, id, strings.ToLower(id), "UU"+id)
	}

	s, _, _ := newTestSyncer(t, api, nil, Options{ChannelLimit: 1, StartFrom: "ucb"})
	report, err := s.SyncChannels(context.Background(), []catalog.Row{
		{"channel_id": "UCA"}, {"channel_id": "UCB"}, {"channel_id": "UCC"},
	})
	if err != nil {
		t.Fatalf("SyncChannels() error = %v", err)
	}
	// No uploads are listed, so every channel counts as skipped and the
	// limit is never reached.
	if report.Skipped != 2 || api.channelCalls != 2 {
		t.Errorf("report = %+v, channel calls = %d; want UCB and UCC only", report, api.channelCalls)
	}
}

func TestSyncPlaylists_RemovalAndRefetch(t *testing.T) {
	tests := []struct {
		name          string
		pageLimit     int
		wantPlaylists string
		wantItems     string
	}{
		{"stale playlists are removed", 0, "PL1,PL2", "PL1-v1,PL2-v2"},
		{"page limit keeps stale playlists", 1, "PLold,PL1,PL2", "PLold-v9,PL1-v1,PL2-v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.uploads["UUA"] = [][]string{{"v1"}}
			api.addVideo("v1", "UCA", "2020-01-01T00:00:00Z")
			pl1 := playlist("PL1", "UCA", "Same")
			api.playlists["UCA"] = []*yt.Playlist{pl1, playlist("PL2", "UCA", "New")}
			api.items["PL2"] = []*yt.PlaylistItem{item("PL2", "v2", 0)}

			s, store, _ := newTestSyncer(t, api, nil, Options{PlaylistPageLimit: tt.pageLimit})
			old := playlist("PLold", "UCA", "Old")
			old.Snippet.PublishedAt = "2019-01-01T00:00:00Z"
			store.Replace(catalog.Channels, []catalog.Row{{"channel_id": "UCA", "uploads_playlist_id": "UUA"}})
			store.Replace(catalog.Playlists, []catalog.Row{playlistRow(old, false), playlistRow(pl1, false)})
			store.Replace(catalog.PlaylistItems, []catalog.Row{
				playlistItemRow(item("PLold", "v9", 0)),
				playlistItemRow(item("PL1", "v1", 0)),
			})

			report, err := s.SyncChannels(context.Background(), []catalog.Row{{"channel_id": "UCA"}})
			if err != nil {
				t.Fatalf("SyncChannels() error = %v", err)
			}
			if strings.Join(api.itemCalls, ",") != "PL2" {
				t.Errorf("item refetches = %v, want only PL2", api.itemCalls)
			}
			if got := ids(store.Rows(catalog.Playlists), "playlist_id"); got != tt.wantPlaylists {
				t.Errorf("playlists = %s, want %s", got, tt.wantPlaylists)
			}
			if got := ids(store.Rows(catalog.PlaylistItems), "playlist_item_id"); got != tt.wantItems {
				t.Errorf("items = %s, want %s", got, tt.wantItems)
			}
			wantRemoved := lo.Ternary(tt.pageLimit == 0, 1, 0)
			if report.Totals["playlists_removed"] != wantRemoved {
				t.Errorf("playlists_removed = %d, want %d", report.Totals["playlists_removed"], wantRemoved)
			}
		})
	}
}

func TestIngestVideos(t *testing.T) {
	api := newFakeAPI()
	api.addVideo("singleAAAAA", "UCX", "2022-01-01T00:00:00Z")
	api.videos["singleAAAAA"].Snippet.ChannelTitle = "Outsider"
	api.addVideo("ownedBBBBBB", "UCA", "2022-01-01T00:00:00Z")

	s, store, _ := newTestSyncer(t, api, nil, Options{})
	store.Replace(catalog.Channels, []catalog.Row{{"channel_id": "UCA"}})
	store.Replace(catalog.Videos, []catalog.Row{{"video_id": "storedCCCCC", "channel_id": "UCY"}})

	changes, err := s.IngestVideos(context.Background(),
		[]catalog.Row{{"channel_id": "UCA"}},
		[]catalog.Row{
			{"video_url": "https://youtu.be/singleAAAAA"},
			{"video_id": "ownedBBBBBB"},
			{"videoId": "storedCCCCC"},
			{"video_id": "skippedDDDD", "channel_id": "UCA"},
		})
	if err != nil {
		t.Fatalf("IngestVideos() error = %v", err)
	}
	if changes["single_videos_added"] != 1 || changes["channels_added"] != 1 {
		t.Errorf("changes = %v", changes)
	}
	if got := ids(store.Rows(catalog.Videos), "video_id"); got != "singleAAAAA,storedCCCCC" {
		t.Errorf("videos = %s", got)
	}
	channels := store.Rows(catalog.Channels)
	if got := ids(channels, "channel_id"); got != "UCA,UCX" {
		t.Errorf("channels = %s, want placeholder after the reference channel", got)
	}
	if channels[1].Get("title") != "Outsider" {
		t.Errorf("placeholder title = %q", channels[1].Get("title"))
	}
}

func TestStartIndex(t *testing.T) {
	sources := []catalog.Row{
		{"channel_id": "UCA", "title": "Alpha"},
		{"custom_url": "@beta", "sauthorID": "42"},
		{"title": "Same"},
		{"title": "same"},
	}
	tests := []struct {
		identifier string
		want       int
		wantErr    bool
	}{
		{"", 0, false},
		{"alpha", 0, false},
		{"https://www.youtube.com/@Beta", 1, false},
		{"42", 1, false},
		{"same", 0, true},
		{"nobody", 0, true},
	}
	for _, tt := range tests {
		got, err := StartIndex(sources, tt.identifier)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("StartIndex(%q) = %d, %v; want %d, wantErr %v", tt.identifier, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestReplaceLocal(t *testing.T) {
	rows := []catalog.Row{
		{"video_id": "a", "language_code": "de", "title": "alt"},
		{"video_id": "a", "language_code": "fr", "title": "titre"},
		{"video_id": "b", "language_code": "de", "title": "andere"},
	}
	fresh := []catalog.Row{
		{"video_id": "a", "language_code": "de", "title": "neu"},
		{"video_id": "a", "language_code": "es", "title": "nuevo"},
	}
	got, changed := replaceLocal(rows, "video_id", "a", fresh, "title")
	if changed != 2 {
		t.Errorf("changed = %d, want 2", changed)
	}
	if len(got) != 3 || got[0].Get("video_id") != "b" {
		t.Errorf("rows = %v, want b then the fresh rows of a", got)
	}
}

func TestCounters(t *testing.T) {
	c := Counters{}
	if c.HasChanges() {
		t.Error("empty counters report changes")
	}
	c.Add("videos_added", 2)
	c.Add("channels_updated", 0)
	c.Merge(Counters{"videos_added": 1, "playlists_removed": 1})
	if got := c.String(); got != "playlists_removed=1, videos_added=3" {
		t.Errorf("String() = %q", got)
	}
}
