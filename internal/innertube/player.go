package innertube

import (
	"strings"

	"github.com/samber/lo"
)

// Auto-dub flags reported in TrackSummary.HasAutoDub.
const (
	AutoDubTrue    = "true"
	AutoDubFalse   = "false"
	AutoDubUnknown = "unknown"
)

// PlayerResponse is the subset of the player response used here.
type PlayerResponse struct {
	PlayabilityStatus PlayabilityStatus `json:"playabilityStatus"`
	StreamingData     *StreamingData    `json:"streamingData,omitempty"`
	Captions          *Captions         `json:"captions,omitempty"`
	Microformat       *Microformat      `json:"microformat,omitempty"`
}

// PlayabilityStatus says whether the video can be played.
type PlayabilityStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// StreamingData lists the formats a video is served with.
type StreamingData struct {
	AdaptiveFormats []Format `json:"adaptiveFormats,omitempty"`
}

// Format is one adaptive stream.
type Format struct {
	Itag       int         `json:"itag"`
	MimeType   string      `json:"mimeType"`
	Language   string      `json:"language,omitempty"`
	AudioTrack *AudioTrack `json:"audioTrack,omitempty"`
}

// AudioTrack identifies which audio track a format carries.
type AudioTrack struct {
	ID             string      `json:"id,omitempty"`
	AudioTrackID   string      `json:"audioTrackId,omitempty"`
	DisplayName    *SimpleText `json:"displayName,omitempty"`
	AudioIsDefault bool        `json:"audioIsDefault,omitempty"`
	// IsAutoDubbed is nil when YouTube does not say.
	IsAutoDubbed *bool `json:"isAutoDubbed,omitempty"`
}

// SimpleText holds a simple text value.
type SimpleText struct {
	SimpleText string `json:"simpleText,omitempty"`
}

// Captions holds the caption and audio track lists.
type Captions struct {
	Renderer *CaptionsTracklist `json:"playerCaptionsTracklistRenderer,omitempty"`
}

// CaptionsTracklist links audio tracks to caption tracks.
type CaptionsTracklist struct {
	CaptionTracks          []CaptionTrack      `json:"captionTracks,omitempty"`
	AudioTracks            []CaptionAudioTrack `json:"audioTracks,omitempty"`
	DefaultAudioTrackIndex *int                `json:"defaultAudioTrackIndex,omitempty"`
}

// CaptionTrack is one caption language.
type CaptionTrack struct {
	LanguageCode string `json:"languageCode"`
}

// CaptionAudioTrack references caption tracks by index.
type CaptionAudioTrack struct {
	AudioTrackID             string `json:"audioTrackId,omitempty"`
	CaptionTrackIndices      []int  `json:"captionTrackIndices,omitempty"`
	DefaultCaptionTrackIndex *int   `json:"defaultCaptionTrackIndex,omitempty"`
}

// Microformat carries the video's declared languages.
type Microformat struct {
	Renderer *PlayerMicroformat `json:"playerMicroformatRenderer,omitempty"`
}

// PlayerMicroformat holds declared language fields.
type PlayerMicroformat struct {
	DefaultAudioLanguage string `json:"defaultAudioLanguage,omitempty"`
	DefaultLanguage      string `json:"defaultLanguage,omitempty"`
}

// TrackSummary is what a player response says about audio languages.
type TrackSummary struct {
	LanguagesAll         []string
	LanguagesNonAuto     []string
	HasAutoDub           string
	DefaultAudioLanguage string
}

// orderedSet keeps first-insertion order.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func (s *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

// AudioTracks summarizes the audio languages of a player response.
//
// Languages come from three places, in order of preference: the caption
// tracks linked to each audio track when there are several, the language of
// every audio format carrying a track id, and the language of plain audio
// formats. When all of those are empty the default audio track's caption
// language is used.
func (p *PlayerResponse) AudioTracks() TrackSummary {
	var tracklist CaptionsTracklist
	if p.Captions != nil && p.Captions.Renderer != nil {
		tracklist = *p.Captions.Renderer
	}
	var formats []Format
	if p.StreamingData != nil {
		formats = p.StreamingData.AdaptiveFormats
	}

	autoDub := make(map[string]bool)
	trackLanguage := make(map[string]string)
	var trackOrder []string
	for _, f := range formats {
		if f.AudioTrack == nil || f.AudioTrack.AudioTrackID == "" {
			continue
		}
		id := f.AudioTrack.AudioTrackID
		if isAudio(f) {
			lang := f.Language
			if lang == "" && f.AudioTrack.DisplayName != nil {
				lang = f.AudioTrack.DisplayName.SimpleText
			}
			if lang != "" {
				if _, ok := trackLanguage[id]; !ok {
					trackOrder = append(trackOrder, id)
				}
				trackLanguage[id] = lang
			}
		}
		if f.AudioTrack.IsAutoDubbed != nil {
			autoDub[id] = *f.AudioTrack.IsAutoDubbed
		}
	}

	var all, nonAuto orderedSet
	hasAutoDub := AutoDubUnknown
	markNotDubbed := func() {
		if hasAutoDub != AutoDubTrue {
			hasAutoDub = AutoDubFalse
		}
	}

	if len(tracklist.AudioTracks) > 1 {
		for _, track := range tracklist.AudioTracks {
			langs := lo.FilterMap(track.CaptionTrackIndices, func(idx int, _ int) (string, bool) {
				if idx < 0 || idx >= len(tracklist.CaptionTracks) {
					return "", false
				}
				lang := tracklist.CaptionTracks[idx].LanguageCode
				return lang, lang != ""
			})
			for _, lang := range langs {
				all.add(lang)
			}

			dubbed, known := autoDub[track.AudioTrackID]
			switch {
			case known && dubbed:
				hasAutoDub = AutoDubTrue
			case known:
				markNotDubbed()
				lo.ForEach(langs, func(lang string, _ int) { nonAuto.add(lang) })
			default:
				if hasAutoDub != AutoDubTrue {
					hasAutoDub = AutoDubUnknown
				}
				lo.ForEach(langs, func(lang string, _ int) { nonAuto.add(lang) })
			}
		}
	}

	for _, id := range trackOrder {
		lang := trackLanguage[id]
		all.add(lang)
		if dubbed, known := autoDub[id]; known && dubbed {
			hasAutoDub = AutoDubTrue
			continue
		}
		markNotDubbed()
		nonAuto.add(lang)
	}

	if len(all.items) == 0 && len(trackLanguage) == 0 {
		for _, f := range formats {
			if isAudio(f) && f.Language != "" {
				all.add(f.Language)
				nonAuto.add(f.Language)
			}
		}
	}

	if len(all.items) == 0 && len(tracklist.AudioTracks) > 0 {
		if lang := defaultCaptionLanguage(tracklist); lang != "" {
			all.add(lang)
			nonAuto.add(lang)
		}
	}

	summary := TrackSummary{
		LanguagesAll:     all.items,
		LanguagesNonAuto: nonAuto.items,
		HasAutoDub:       hasAutoDub,
	}
	if p.Microformat != nil && p.Microformat.Renderer != nil {
		summary.DefaultAudioLanguage = lo.CoalesceOrEmpty(
			strings.TrimSpace(p.Microformat.Renderer.DefaultAudioLanguage),
			strings.TrimSpace(p.Microformat.Renderer.DefaultLanguage),
		)
	}
	return summary
}

func defaultCaptionLanguage(tl CaptionsTracklist) string {
	index := 0
	if tl.DefaultAudioTrackIndex != nil {
		index = *tl.DefaultAudioTrackIndex
	}
	if index < 0 || index >= len(tl.AudioTracks) {
		index = 0
	}
	track := tl.AudioTracks[index]

	captionIndex := -1
	switch {
	case track.DefaultCaptionTrackIndex != nil:
		captionIndex = *track.DefaultCaptionTrackIndex
	case len(track.CaptionTrackIndices) > 0:
		captionIndex = track.CaptionTrackIndices[0]
	}
	if captionIndex < 0 || captionIndex >= len(tl.CaptionTracks) {
		return ""
	}
	return tl.CaptionTracks[captionIndex].LanguageCode
}

func isAudio(f Format) bool {
	return strings.Contains(f.MimeType, "audio/")
}
