package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	yt "google.golang.org/api/youtube/v3"

	"ytcatalog/internal/fallback"
	"ytcatalog/internal/httpx"
	"ytcatalog/internal/innertube"
	"ytcatalog/internal/youtube"
)

const videoID = "dQw4w9WgXcQ"

type fakeDumper struct {
	video *youtube.YtdlpVideo
	err   error
	calls int
}

func (f *fakeDumper) Video(context.Context, string) (*youtube.YtdlpVideo, error) {
	f.calls++
	return f.video, f.err
}

type fakePlayer struct {
	resp *innertube.PlayerResponse
	err  error
}

func (f *fakePlayer) Player(context.Context, string) (*innertube.PlayerResponse, error) {
	return f.resp, f.err
}

type fakeLister struct {
	videos []*yt.Video
	err    error
}

func (f *fakeLister) Videos(context.Context, []string) ([]*yt.Video, error) {
	return f.videos, f.err
}

func failureKind(t *testing.T, res Result) fallback.FailureKind {
	t.Helper()
	f, ok := res.(fallback.Failure)
	if !ok {
		t.Fatalf("result = %#v, want Failure", res)
	}
	return f.Kind
}

func TestNormalizeLanguages(t *testing.T) {
	got := NormalizeLanguages([]string{" en ", "de", "", "en", "fr "})
	if strings.Join(got, ",") != "en,de,fr" {
		t.Errorf("NormalizeLanguages() = %v", got)
	}
}

func TestYtdlp_Fetch(t *testing.T) {
	dumper := &fakeDumper{video: &youtube.YtdlpVideo{
		ID:       videoID,
		Language: "en",
		Formats: []youtube.YtdlpFormat{
			{Acodec: "mp4a", Language: "en"},
			{Acodec: "opus", AudioTrack: &youtube.YtdlpAudioTrack{Language: "de"}},
			{Acodec: "none", Language: "fr"},
			{Acodec: "opus", Language: "en"},
		},
	}}
	res := NewYtdlp(dumper).Fetch(context.Background(), videoID)
	s, ok := res.(fallback.Success[AudioTracks])
	if !ok {
		t.Fatalf("Fetch() = %#v, want Success", res)
	}
	if strings.Join(s.Payload.LanguagesAll, ",") != "en,de" || s.Payload.HasAutoDub != "unknown" {
		t.Errorf("payload = %+v", s.Payload)
	}
	if s.Payload.DefaultAudioLanguage != "en" || s.Payload.Source != NameYtdlp {
		t.Errorf("payload = %+v", s.Payload)
	}
}

func TestYtdlp_Failures(t *testing.T) {
	tests := []struct {
		name string
		id   string
		err  error
		want fallback.FailureKind
	}{
		{"bad id is invalid without running", "nope", nil, fallback.KindInvalid},
		{"missing binary", videoID, &youtube.SourceError{Source: "ytdlp", Err: youtube.ErrYtdlpNotInstalled}, fallback.KindProviderMissing},
		{"throttled", videoID, errors.New("ERROR: HTTP Error 429: Too Many Requests"), fallback.KindRateLimited},
		{"unsupported url", videoID, errors.New("ERROR: Unsupported URL: x"), fallback.KindInvalid},
		{"unavailable", videoID, errors.New("ERROR: Video unavailable"), fallback.KindOpaque},
		{"canceled", videoID, fmt.Errorf("run: %w", context.Canceled), fallback.KindCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dumper := &fakeDumper{err: tt.err}
			if got := failureKind(t, NewYtdlp(dumper).Fetch(context.Background(), tt.id)); got != tt.want {
				t.Errorf("kind = %q, want %q", got, tt.want)
			}
			if tt.id != videoID && dumper.calls != 0 {
				t.Errorf("yt-dlp ran %d times for an invalid id", dumper.calls)
			}
		})
	}
}

func TestInnertube_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fallback.FailureKind
	}{
		{"http 429", fmt.Errorf("player request: %w", &httpx.RateLimitError{StatusCode: 429}), fallback.KindRateLimited},
		{"bot check", &innertube.PlayabilityError{Status: "LOGIN_REQUIRED", Reason: "Sign in to confirm you're not a bot"}, fallback.KindRateLimited},
		{"unplayable", &innertube.PlayabilityError{Status: "ERROR", Reason: "Video unavailable"}, fallback.KindOpaque},
		{"circuit open", httpx.ErrCircuitOpen, fallback.KindOpaque},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewInnertube(&fakePlayer{err: tt.err})
			if got := failureKind(t, p.Fetch(context.Background(), videoID)); got != tt.want {
				t.Errorf("kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInnertube_Success(t *testing.T) {
	resp := &innertube.PlayerResponse{
		StreamingData: &innertube.StreamingData{AdaptiveFormats: []innertube.Format{
			{MimeType: "audio/mp4", Language: "it"},
		}},
	}
	res := NewInnertube(&fakePlayer{resp: resp}).Fetch(context.Background(), videoID)
	s, ok := res.(fallback.Success[AudioTracks])
	if !ok || strings.Join(s.Payload.LanguagesAll, ",") != "it" || s.Payload.Source != NameInnertube {
		t.Errorf("Fetch() = %#v", res)
	}
}

func TestDataAPI_Fetch(t *testing.T) {
	lister := &fakeLister{videos: []*yt.Video{{Id: videoID, Snippet: &yt.VideoSnippet{DefaultAudioLanguage: "pl"}}}}
	res := NewDataAPI(lister).Fetch(context.Background(), videoID)
	s, ok := res.(fallback.Success[AudioTracks])
	if !ok || strings.Join(s.Payload.LanguagesAll, ",") != "pl" || s.Payload.DefaultAudioLanguage != "pl" {
		t.Errorf("Fetch() = %#v", res)
	}

	empty := NewDataAPI(&fakeLister{}).Fetch(context.Background(), videoID)
	if got := failureKind(t, empty); got != fallback.KindOpaque {
		t.Errorf("missing video kind = %q, want error", got)
	}

	quota := NewDataAPI(&fakeLister{err: fmt.Errorf("%w: daily", youtube.ErrQuotaExceeded)}).Fetch(context.Background(), videoID)
	if got := failureKind(t, quota); got != fallback.KindRateLimited {
		t.Errorf("quota kind = %q, want rate_limited", got)
	}
}

func TestBuild(t *testing.T) {
	log, hook := test.NewNullLogger()
	deps := Deps{Ytdlp: &fakeDumper{}, Innertube: &fakePlayer{}}

	got, err := Build([]string{"youtubei.js", "bogus", "YT_DLP", "ytdlp", "data-api"}, deps, log)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	var names []string
	for _, p := range got {
		names = append(names, p.Name())
	}
	if strings.Join(names, ",") != "innertube,yt-dlp" {
		t.Errorf("providers = %v, want [innertube yt-dlp]", names)
	}
	if len(hook.AllEntries()) != 2 {
		t.Errorf("warnings = %d, want 2 (unknown name, unconfigured dataapi)", len(hook.AllEntries()))
	}

	if _, err := Build([]string{"bogus"}, deps, log); !errors.Is(err, ErrNoProviders) {
		t.Errorf("Build(bogus) error = %v, want ErrNoProviders", err)
	}
}
