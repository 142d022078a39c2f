package providers

import (
	"context"
	"errors"

	yt "google.golang.org/api/youtube/v3"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/fallback"
	"ytcatalog/internal/youtube"
)

// VideoLister fetches video resources. *youtube.DataAPI implements it.
type VideoLister interface {
	Videos(ctx context.Context, ids []string) ([]*yt.Video, error)
}

// DataAPI reports the declared default audio language of a video. It knows
// nothing about additional tracks.
type DataAPI struct {
	lister VideoLister
}

// NewDataAPI creates the Data API provider.
func NewDataAPI(lister VideoLister) *DataAPI {
	return &DataAPI{lister: lister}
}

// Name implements Provider.
func (p *DataAPI) Name() string { return NameDataAPI }

// Fetch implements Provider.
func (p *DataAPI) Fetch(ctx context.Context, id string) Result {
	if !catalog.IsVideoID(id) {
		return invalidID(NameDataAPI, id)
	}
	videos, err := p.lister.Videos(ctx, []string{id})
	if err != nil {
		if errors.Is(err, youtube.ErrRateLimited) || errors.Is(err, youtube.ErrQuotaExceeded) {
			return fallback.Failure{Kind: fallback.KindRateLimited, Message: err.Error(), Provider: NameDataAPI}
		}
		return failure(NameDataAPI, err)
	}
	if len(videos) == 0 || videos[0].Snippet == nil {
		return fallback.Failure{Kind: fallback.KindOpaque, Message: "video unavailable", Provider: NameDataAPI}
	}

	lang := videos[0].Snippet.DefaultAudioLanguage
	var langs []string
	if lang != "" {
		langs = []string{lang}
	}
	return success(NameDataAPI, payload(langs, langs, AutoDubUnknown, lang, NameDataAPI))
}
