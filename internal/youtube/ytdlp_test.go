package youtube

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript creates a fake yt-dlp executable.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to create mock yt-dlp: %v", err)
	}
	return path
}

func TestParseYtdlpVideo(t *testing.T) {
	video, err := ParseYtdlpVideo([]byte(sampleVideoJSON))
	if err != nil {
		t.Fatalf("ParseYtdlpVideo() error = %v", err)
	}
	if video.ID != "dQw4w9WgXcQ" || video.Language != "en" {
		t.Errorf("video = %+v", video)
	}

	var langs []string
	for _, f := range video.Formats {
		if f.HasAudio() {
			langs = append(langs, f.TrackLanguage())
		}
	}
	want := []string{"en", "de", ""}
	if strings.Join(langs, ",") != strings.Join(want, ",") {
		t.Errorf("audio languages = %q, want %q", langs, want)
	}
}

func TestParseYtdlpVideo_Errors(t *testing.T) {
	if _, err := ParseYtdlpVideo([]byte("  \n")); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("empty output error = %v, want ErrEmptyResponse", err)
	}
	_, err := ParseYtdlpVideo([]byte("{not json"))
	if err == nil || !strings.HasPrefix(err.Error(), "json_parse_error") {
		t.Errorf("bad json error = %v, want json_parse_error prefix", err)
	}
}

func TestYtdlp_Video(t *testing.T) {
	path := writeScript(t, `
for arg in "$@"; do
  if [ "$arg" = "--cookies" ]; then echo "unexpected cookies" >&2; exit 1; fi
done
cat << 'EOF'
`+sampleVideoJSON+`
EOF
`)
	y := &Ytdlp{Path: path, Timeout: 10 * time.Second}
	video, err := y.Video(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Video() error = %v", err)
	}
	if len(video.Formats) != 4 {
		t.Errorf("len(Formats) = %d, want 4", len(video.Formats))
	}
}

func TestYtdlp_StderrIsReturned(t *testing.T) {
	path := writeScript(t, `echo "ERROR: [youtube] abc: HTTP Error 429: Too Many Requests" >&2
exit 1
`)
	y := &Ytdlp{Path: path}
	_, err := y.Video(context.Background(), "abc")
	if err == nil || !strings.Contains(err.Error(), "HTTP Error 429") {
		t.Errorf("Video() error = %v, want stderr text", err)
	}
}

func TestYtdlp_NotInstalled(t *testing.T) {
	y := &Ytdlp{Path: "/nonexistent/path/to/yt-dlp"}
	_, err := y.Video(context.Background(), "abc")
	if err == nil {
		t.Fatal("expected error for non-existent yt-dlp")
	}
	var srcErr *SourceError
	if !errors.As(err, &srcErr) || srcErr.Source != "ytdlp" {
		t.Errorf("error = %#v, want SourceError from ytdlp", err)
	}
	if !errors.Is(err, ErrYtdlpNotInstalled) {
		t.Errorf("error = %v, want ErrYtdlpNotInstalled", err)
	}
}

func TestYtdlp_MissingFromPATH(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	y := &Ytdlp{}
	_, err := y.Video(context.Background(), "abc")
	if !errors.Is(err, ErrYtdlpNotInstalled) {
		t.Errorf("Video() error = %v, want ErrYtdlpNotInstalled", err)
	}
}

func TestWatchURL(t *testing.T) {
	if got := WatchURL("abc"); got != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("WatchURL() = %q", got)
	}
}

const sampleVideoJSON = `{
  "id": "dQw4w9WgXcQ",
  "title": "Test Video",
  "language": "en",
  "formats": [
    {"format_id": "140-0", "acodec": "mp4a.40.2", "language": "en"},
    {"format_id": "140-1", "acodec": "mp4a.40.2", "audio_track": {"id": "de.3", "display_name": "German", "language": "de"}},
    {"format_id": "137", "acodec": "none", "language": "fr"},
    {"format_id": "251", "acodec": "opus"}
  ]
}`
