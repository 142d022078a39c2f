package providers

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrNoProviders is returned when configuration yields no usable provider.
var ErrNoProviders = errors.New("no usable audio-track providers configured")

var aliases = map[string]string{
	"innertube":   NameInnertube,
	"youtubei":    NameInnertube,
	"youtubei.js": NameInnertube,
	"yt-dlp":      NameYtdlp,
	"ytdlp":       NameYtdlp,
	"yt_dlp":      NameYtdlp,
	"dataapi":     NameDataAPI,
	"data-api":    NameDataAPI,
	"data_api":    NameDataAPI,
}

// Canonical maps a configured provider name or alias to its canonical name.
func Canonical(name string) (string, bool) {
	canonical, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// Deps holds the clients providers are built on. A nil client leaves its
// provider unavailable.
type Deps struct {
	Ytdlp     VideoDumper
	Innertube PlayerClient
	DataAPI   VideoLister
}

// Build returns providers in the configured order. Unknown, repeated and
// unavailable names are logged and skipped.
func Build(names []string, deps Deps, log logrus.FieldLogger) ([]Provider, error) {
	var out []Provider
	seen := make(map[string]bool)
	for _, raw := range names {
		name, ok := Canonical(raw)
		if !ok {
			log.WithField("provider", raw).Warn("Unknown provider, skipping")
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		var p Provider
		switch name {
		case NameInnertube:
			if deps.Innertube != nil {
				p = NewInnertube(deps.Innertube)
			}
		case NameYtdlp:
			if deps.Ytdlp != nil {
				p = NewYtdlp(deps.Ytdlp)
			}
		case NameDataAPI:
			if deps.DataAPI != nil {
				p = NewDataAPI(deps.DataAPI)
			}
		}
		if p == nil {
			log.WithField("provider", name).Warn("Provider not configured, skipping")
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoProviders
	}
	return out, nil
}
