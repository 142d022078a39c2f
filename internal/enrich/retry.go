package enrich

import (
	"strings"

	"ytcatalog/internal/catalog"
)

// Row statuses written to the audiotracks table.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusInvalid = "invalid"
	StatusMissing = "missing"
	StatusUnknown = "unknown"
)

// Error codes written by the runner itself.
const (
	ErrMissingPrimaryLanguage = "missing_primary_language"
	ErrNoAudioTracks          = "no_audio_tracks"
)

// DefaultRetryTable decides, per normalized error code, whether a stored
// failed row is fetched again. Codes not listed are retried.
var DefaultRetryTable = RetryTable{
	"offline":                                     false,
	"this video requires payment to watch":        false,
	"this live event will begin in a few moments": false,
	"video unavailable":                           false,
	ErrMissingPrimaryLanguage:                     true,
}

// RetryTable maps normalized error codes to a retry decision.
type RetryTable map[string]bool

// NewRetryTable copies DefaultRetryTable and applies the overrides. A code
// listed in both wins as no-retry.
func NewRetryTable(retry, noRetry []string) RetryTable {
	t := make(RetryTable, len(DefaultRetryTable)+len(retry)+len(noRetry))
	for k, v := range DefaultRetryTable {
		t[k] = v
	}
	for _, raw := range retry {
		if key := NormalizeErrorCode(raw); key != "" {
			t[key] = true
		}
	}
	for _, raw := range noRetry {
		if key := NormalizeErrorCode(raw); key != "" {
			t[key] = false
		}
	}
	return t
}

// NormalizeErrorCode lowercases an error text and drops one trailing period.
func NormalizeErrorCode(value string) string {
	text := strings.ToLower(strings.TrimSpace(value))
	return strings.TrimSuffix(text, ".")
}

// ShouldRetry reports whether a stored audiotracks row must be fetched again.
// Successful and invalid rows are final, as are videos known to have no
// audio tracks. Failed rows follow the table and default to a retry.
func (t RetryTable) ShouldRetry(row catalog.Row) bool {
	status := strings.ToLower(row.Get("status"))
	errText := strings.ToLower(row.Get("error"))
	switch {
	case status == StatusOK, status == StatusInvalid:
		return false
	case status == StatusMissing && errText == ErrNoAudioTracks:
		return false
	}
	if status == StatusError || status == StatusUnknown || status == StatusMissing {
		if retry, ok := t[NormalizeErrorCode(row.Get("error"))]; ok {
			return retry
		}
	}
	return true
}
