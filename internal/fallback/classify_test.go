package fallback

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    FailureKind
	}{
		{"ERROR: HTTP Error 429: Too Many Requests", KindRateLimited},
		{"Received status code 429 from server", KindRateLimited},
		{"Your IP has been temporarily blocked", KindRateLimited},
		{"Our systems have detected unusual traffic", KindRateLimited},
		{"please slow down", KindRateLimited},
		{"ERROR: Invalid video ID", KindInvalid},
		{"Unsupported URL: https://example.com", KindInvalid},
		{"that is not a valid URL", KindInvalid},
		{"invalid url and rate limit", KindRateLimited},
		{"Video unavailable", KindOpaque},
		{"", KindOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := Classify("yt-dlp", tt.message)
			if got.Kind != tt.want {
				t.Errorf("Classify(%q).Kind = %v, want %v", tt.message, got.Kind, tt.want)
			}
			if got.Provider != "yt-dlp" {
				t.Errorf("Classify().Provider = %q, want yt-dlp", got.Provider)
			}
		})
	}
}

func TestFailure_Retryable(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want bool
	}{
		{KindRateLimited, true},
		{KindOpaque, true},
		{KindInvalid, false},
		{KindProviderMissing, false},
		{KindNoProviders, false},
	}
	for _, tt := range tests {
		if got := (Failure{Kind: tt.kind}).Retryable(); got != tt.want {
			t.Errorf("Failure{%s}.Retryable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
