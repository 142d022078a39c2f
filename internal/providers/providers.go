// Package providers implements the interchangeable audio-track sources
// consulted by the enrichment stage, and builds them from configuration.
package providers

import (
	"context"
	"errors"
	"strings"

	"ytcatalog/internal/fallback"
	"ytcatalog/internal/innertube"
)

// Canonical provider names.
const (
	NameInnertube = "innertube"
	NameYtdlp     = "yt-dlp"
	NameDataAPI   = "dataapi"
)

// Auto-dub flags carried in AudioTracks.HasAutoDub.
const (
	AutoDubTrue    = innertube.AutoDubTrue
	AutoDubFalse   = innertube.AutoDubFalse
	AutoDubUnknown = innertube.AutoDubUnknown
)

// AudioTracks is the payload every provider returns for a video.
type AudioTracks struct {
	LanguagesAll         []string
	LanguagesNonAuto     []string
	HasAutoDub           string
	DefaultAudioLanguage string
	Source               string
}

// Result is the outcome of one audio-track lookup.
type Result = fallback.Result[AudioTracks]

// Provider is an audio-track source.
type Provider = fallback.Provider[AudioTracks]

// NormalizeLanguages trims values and drops blanks and repeats, keeping the
// first occurrence order.
func NormalizeLanguages(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		lang := strings.TrimSpace(v)
		if lang == "" {
			continue
		}
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	return out
}

func payload(all, nonAuto []string, hasAutoDub, defaultLanguage, source string) AudioTracks {
	return AudioTracks{
		LanguagesAll:         NormalizeLanguages(all),
		LanguagesNonAuto:     NormalizeLanguages(nonAuto),
		HasAutoDub:           hasAutoDub,
		DefaultAudioLanguage: strings.TrimSpace(defaultLanguage),
		Source:               source,
	}
}

func success(name string, p AudioTracks) Result {
	return fallback.Success[AudioTracks]{Payload: p, Provider: name}
}

func invalidID(name, id string) Result {
	return fallback.Failure{Kind: fallback.KindInvalid, Message: "invalid video id: " + id, Provider: name}
}

// failure classifies an error by its text. Cancellation keeps its own kind.
func failure(name string, err error) fallback.Failure {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fallback.Failure{Kind: fallback.KindCanceled, Message: err.Error(), Provider: name}
	}
	return fallback.Classify(name, err.Error())
}
