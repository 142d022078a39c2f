package providers

import (
	"context"
	"errors"

	"ytcatalog/internal/catalog"
	"ytcatalog/internal/fallback"
	"ytcatalog/internal/httpx"
	"ytcatalog/internal/innertube"
)

// PlayerClient fetches player responses. *innertube.Client implements it.
type PlayerClient interface {
	Player(ctx context.Context, videoID string) (*innertube.PlayerResponse, error)
}

// Innertube reads audio tracks from the player API.
type Innertube struct {
	client PlayerClient
}

// NewInnertube creates the Innertube provider.
func NewInnertube(client PlayerClient) *Innertube {
	return &Innertube{client: client}
}

// Name implements Provider.
func (p *Innertube) Name() string { return NameInnertube }

// Fetch implements Provider.
func (p *Innertube) Fetch(ctx context.Context, id string) Result {
	if !catalog.IsVideoID(id) {
		return invalidID(NameInnertube, id)
	}
	resp, err := p.client.Player(ctx, id)
	if err != nil {
		var rateErr *httpx.RateLimitError
		if errors.As(err, &rateErr) {
			return fallback.Failure{Kind: fallback.KindRateLimited, Message: rateErr.Error(), Provider: NameInnertube}
		}
		var playErr *innertube.PlayabilityError
		if errors.As(err, &playErr) && playErr.BotCheck() {
			return fallback.Failure{Kind: fallback.KindRateLimited, Message: playErr.Error(), Provider: NameInnertube}
		}
		return failure(NameInnertube, err)
	}

	s := resp.AudioTracks()
	return success(NameInnertube, payload(s.LanguagesAll, s.LanguagesNonAuto, s.HasAutoDub, s.DefaultAudioLanguage, NameInnertube))
}
