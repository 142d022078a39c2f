package enrich

import (
	"slices"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"ytcatalog/internal/catalog"
)

// maxSuggestions caps the "did you mean" list for an unknown channel title.
const maxSuggestions = 3

// resolveChannels turns the id and title filters into a set of channel ids.
// Titles match case-insensitively; unknown titles are reported with the
// closest stored titles.
func resolveChannels(channels []catalog.Row, ids, titles []string, log logrus.FieldLogger) map[string]struct{} {
	resolved := lo.Keyify(lo.Compact(ids))
	if len(titles) == 0 {
		return resolved
	}

	byTitle := make(map[string][]string)
	var known []string
	for _, row := range channels {
		title, id := row.Get("title"), row.Get("channel_id")
		if title == "" || id == "" {
			continue
		}
		key := strings.ToLower(title)
		if _, ok := byTitle[key]; !ok {
			known = append(known, title)
		}
		byTitle[key] = append(byTitle[key], id)
	}

	for _, title := range titles {
		matches := byTitle[strings.ToLower(strings.TrimSpace(title))]
		if len(matches) == 0 {
			entry := log.WithField("title", title)
			if suggestions := suggest(title, known); len(suggestions) > 0 {
				entry = entry.WithField("did_you_mean", suggestions)
			}
			entry.Warn("channel title not found in channels table")
			continue
		}
		for _, id := range matches {
			resolved[id] = struct{}{}
		}
	}
	return resolved
}

// suggest ranks stored titles by edit distance, keeping those that share
// the query's characters in order or differ by a few edits.
func suggest(query string, candidates []string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	type scored struct {
		title    string
		distance int
	}
	var hits []scored
	for _, c := range candidates {
		lc := strings.ToLower(c)
		d := fuzzy.LevenshteinDistance(q, lc)
		if fuzzy.Match(q, lc) || fuzzy.Match(lc, q) || d <= 3 {
			hits = append(hits, scored{title: c, distance: d})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return a.distance - b.distance })
	if len(hits) > maxSuggestions {
		hits = hits[:maxSuggestions]
	}
	return lo.Map(hits, func(s scored, _ int) string { return s.title })
}

// selectVideos applies the channel filter, drops already processed videos,
// orders newest first when asked and caps videos per channel.
func selectVideos(videos []catalog.Row, channels, processed map[string]struct{}, opts Options) []catalog.Row {
	selected := lo.Filter(videos, func(r catalog.Row, _ int) bool {
		if r.Get("video_id") == "" {
			return false
		}
		if len(channels) > 0 {
			if _, ok := channels[r.Get("channel_id")]; !ok {
				return false
			}
		}
		_, done := processed[r.Get("video_id")]
		return !done
	})
	if opts.NewestFirst {
		slices.Reverse(selected)
	}
	if opts.LimitPerChannel <= 0 {
		return selected
	}

	counts := make(map[string]int)
	return lo.Filter(selected, func(r catalog.Row, _ int) bool {
		id := r.Get("channel_id")
		if id == "" || counts[id] >= opts.LimitPerChannel {
			return false
		}
		counts[id]++
		return true
	})
}
