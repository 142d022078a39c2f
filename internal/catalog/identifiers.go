package catalog

import (
	"regexp"
	"strings"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtu\.be/([^?&#/]+)`),
	regexp.MustCompile(`youtube\.com/watch\?v=([^?&#/]+)`),
	regexp.MustCompile(`youtube\.com/shorts/([^?&#/]+)`),
	regexp.MustCompile(`youtube\.com/embed/([^?&#/]+)`),
}

var videoIDShape = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// NormalizeHandle reduces a handle, "@handle" or channel URL to the bare
// handle. Other values are returned trimmed.
func NormalizeHandle(value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http") {
		for _, part := range strings.Split(raw, "/") {
			if strings.HasPrefix(part, "@") {
				raw = part
				break
			}
		}
	}
	raw = strings.TrimSpace(raw)
	return strings.TrimSpace(strings.TrimPrefix(raw, "@"))
}

// NormalizeIdentifier is the case-insensitive form of NormalizeHandle used to
// match reference rows against stored channels.
func NormalizeIdentifier(value string) string {
	return strings.ToLower(NormalizeHandle(value))
}

// ExtractVideoID returns the video id of a watch, short, embed or youtu.be
// URL, or "" when url is none of those.
func ExtractVideoID(url string) string {
	for _, pattern := range videoIDPatterns {
		if m := pattern.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// IsVideoID reports whether id has the shape of a YouTube video id.
func IsVideoID(id string) bool {
	return videoIDShape.MatchString(id)
}
