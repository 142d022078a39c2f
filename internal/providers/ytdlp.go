package providers

import (
	"context"
	"errors"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/fallback"
	"ytcatalog/internal/youtube"
)

// VideoDumper dumps single-video metadata. *youtube.Ytdlp implements it.
type VideoDumper interface {
	Video(ctx context.Context, videoID string) (*youtube.YtdlpVideo, error)
}

// Ytdlp reads audio tracks from the formats yt-dlp reports.
type Ytdlp struct {
	dumper VideoDumper
}

// NewYtdlp creates the yt-dlp provider.
func NewYtdlp(dumper VideoDumper) *Ytdlp {
	return &Ytdlp{dumper: dumper}
}

// Name implements Provider.
func (p *Ytdlp) Name() string { return NameYtdlp }

// Fetch implements Provider.
func (p *Ytdlp) Fetch(ctx context.Context, id string) Result {
	if !catalog.IsVideoID(id) {
		return invalidID(NameYtdlp, id)
	}
	video, err := p.dumper.Video(ctx, id)
	if err != nil {
		if errors.Is(err, youtube.ErrYtdlpNotInstalled) {
			return fallback.Failure{Kind: fallback.KindProviderMissing, Message: "yt-dlp not found on PATH", Provider: NameYtdlp}
		}
		return failure(NameYtdlp, err)
	}

	var langs []string
	for _, f := range video.Formats {
		if f.HasAudio() {
			langs = append(langs, f.TrackLanguage())
		}
	}
	// yt-dlp does not say which tracks are auto-dubbed.
	return success(NameYtdlp, payload(langs, langs, AutoDubUnknown, video.Language, NameYtdlp))
}
