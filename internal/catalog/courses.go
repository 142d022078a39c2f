package catalog

import "strings"

// CourseBlock is a header line of the course file followed by the playlist
// ids listed under it.
type CourseBlock struct {
	Header      string
	PlaylistIDs []string
}

// ParseCourseBlocks groups playlist links under the most recent non-link
// line. Links that appear before any header are ignored.
func ParseCourseBlocks(lines []string) []CourseBlock {
	var blocks []CourseBlock
	current := -1
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "playlist?list=") {
			blocks = append(blocks, CourseBlock{Header: line})
			current = len(blocks) - 1
			continue
		}
		if current < 0 {
			continue
		}
		if id := playlistIDFromLink(line); id != "" {
			blocks[current].PlaylistIDs = append(blocks[current].PlaylistIDs, id)
		}
	}
	return blocks
}

// CoursePlaylistIDs returns every playlist id linked anywhere in the course file.
func CoursePlaylistIDs(lines []string) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "playlist?list=") {
			continue
		}
		if id := playlistIDFromLink(line); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// MatchesCourseHeader reports whether a course header names the channel by
// title or handle, case-insensitively.
func MatchesCourseHeader(header, title, handle string) bool {
	normalized := strings.ToLower(strings.TrimSpace(header))
	if normalized == "" {
		return false
	}
	if title != "" && normalized == strings.ToLower(strings.TrimSpace(title)) {
		return true
	}
	return handle != "" && normalized == strings.ToLower(strings.TrimSpace(handle))
}

func playlistIDFromLink(line string) string {
	_, after, ok := strings.Cut(line, "list=")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(after, "&")
	return strings.TrimSpace(id)
}
