package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultYtdlpPath    = "yt-dlp"
	defaultYtdlpTimeout = 2 * time.Minute
	sourceYtdlp         = "ytdlp"
)

// Ytdlp runs the yt-dlp executable to dump single-video metadata.
type Ytdlp struct {
	// Path is the path to the yt-dlp executable. Defaults to "yt-dlp".
	Path string
	// Timeout bounds one invocation. Defaults to 2 minutes.
	Timeout time.Duration
	// CookiesPath is passed as --cookies when set.
	CookiesPath string
	// ExtraArgs are additional arguments to pass to yt-dlp.
	ExtraArgs []string
}

// YtdlpVideo is the subset of yt-dlp's -J output used for audio tracks.
type YtdlpVideo struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Language string        `json:"language"`
	Formats  []YtdlpFormat `json:"formats"`
}

// YtdlpFormat is one downloadable format.
type YtdlpFormat struct {
	FormatID   string           `json:"format_id"`
	Acodec     string           `json:"acodec"`
	Language   string           `json:"language"`
	AudioTrack *YtdlpAudioTrack `json:"audio_track"`
}

// YtdlpAudioTrack describes the audio track of a format when YouTube
// serves several.
type YtdlpAudioTrack struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

// HasAudio reports whether the format carries an audio stream.
func (f YtdlpFormat) HasAudio() bool {
	codec := strings.TrimSpace(f.Acodec)
	return codec != "" && codec != "none"
}

// TrackLanguage returns the format language, falling back to the audio track's.
func (f YtdlpFormat) TrackLanguage() string {
	if lang := strings.TrimSpace(f.Language); lang != "" {
		return lang
	}
	if f.AudioTrack != nil {
		return strings.TrimSpace(f.AudioTrack.Language)
	}
	return ""
}

// Video dumps metadata for one video. Failures carry yt-dlp's stderr text so
// callers can classify them.
func (y *Ytdlp) Video(ctx context.Context, videoID string) (*YtdlpVideo, error) {
	args := []string{
		"-J",
		"--no-playlist",
		"--skip-download",
		"--no-warnings",
	}
	if y.CookiesPath != "" {
		args = append(args, "--cookies", y.CookiesPath)
	}
	args = append(args, y.ExtraArgs...)
	args = append(args, WatchURL(videoID))

	timeout := y.Timeout
	if timeout == 0 {
		timeout = defaultYtdlpTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, y.path(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &SourceError{Source: sourceYtdlp, Op: "run", ID: videoID,
				Err: fmt.Errorf("%w: yt-dlp not found on PATH", ErrYtdlpNotInstalled)}
		}
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return nil, &SourceError{Source: sourceYtdlp, Op: "run", ID: videoID, Err: ErrNetworkTimeout}
		}
		if errors.Is(cmdCtx.Err(), context.Canceled) {
			return nil, &SourceError{Source: sourceYtdlp, Op: "run", ID: videoID, Err: context.Canceled}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &SourceError{Source: sourceYtdlp, Op: "run", ID: videoID, Err: errors.New(msg)}
	}

	return ParseYtdlpVideo(stdout.Bytes())
}

// ParseYtdlpVideo decodes yt-dlp's single-video JSON.
func ParseYtdlpVideo(data []byte) (*YtdlpVideo, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyResponse
	}
	var video YtdlpVideo
	if err := json.Unmarshal(data, &video); err != nil {
		return nil, fmt.Errorf("json_parse_error: %w", err)
	}
	return &video, nil
}

func (y *Ytdlp) path() string {
	if y.Path != "" {
		return y.Path
	}
	return defaultYtdlpPath
}

// WatchURL returns the canonical watch URL of a video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
