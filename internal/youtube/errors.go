// Package youtube talks to YouTube: the Data API v3 for catalog metadata and
// the yt-dlp executable for per-video media details.
package youtube

import (
	"errors"
	"fmt"
)

// Sentinel errors for YouTube operations.
var (
	ErrNotFound          = errors.New("youtube: not found")
	ErrRateLimited       = errors.New("youtube: rate limited")
	ErrQuotaExceeded     = errors.New("youtube: quota exceeded")
	ErrNetworkTimeout    = errors.New("youtube: network timeout")
	ErrYtdlpNotInstalled = errors.New("youtube: yt-dlp not installed")
	ErrEmptyResponse     = errors.New("youtube: empty response")
)

// SourceError wraps errors with context about the failed call.
type SourceError struct {
	Source string // "dataapi" or "ytdlp"
	Op     string // e.g. "videos.list"
	ID     string // item being requested
	Err    error
}

func (e *SourceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("youtube: %s %s: %v", e.Source, e.Op, e.Err)
	}
	return fmt.Sprintf("youtube: %s %s %s: %v", e.Source, e.Op, e.ID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
