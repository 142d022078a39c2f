// Package innertube talks to YouTube's internal player API to read the
// audio tracks a video is served with.
package innertube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ytcatalog/internal/httpx"
)

const (
	// DefaultEndpoint is the Innertube player endpoint.
	DefaultEndpoint = "https://www.youtube.com/youtubei/v1/player?prettyPrint=false"

	defaultClientName = "WEB"

	// defaultUserAgent mimics a standard browser.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// clientProfile is the identification sent for one Innertube client name.
type clientProfile struct {
	version string
	// id is sent as X-YouTube-Client-Name.
	id string
}

var clientProfiles = map[string]clientProfile{
	"WEB":     {version: "2.20240101.00.00", id: "1"},
	"MWEB":    {version: "2.20240101.01.00", id: "2"},
	"ANDROID": {version: "19.09.37", id: "3"},
	"IOS":     {version: "19.09.3", id: "5"},
	"TVHTML5": {version: "7.20240101.09.00", id: "7"},
}

// ClientNames lists the supported Innertube client names.
func ClientNames() []string {
	return []string{"WEB", "MWEB", "ANDROID", "IOS", "TVHTML5"}
}

// Client handles Innertube player requests.
type Client struct {
	httpClient *httpx.Client
	endpoint   string
	clientName string
	profile    clientProfile
	cookie     string
}

// ClientOption configures the Innertube client.
type ClientOption func(*Client)

// WithEndpoint overrides the player endpoint.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithCookieHeader sends a Cookie header with every request.
func WithCookieHeader(cookie string) ClientOption {
	return func(c *Client) {
		c.cookie = cookie
	}
}

// NewClient creates a client identifying itself as clientName ("WEB" when
// empty).
func NewClient(httpClient *httpx.Client, clientName string, opts ...ClientOption) (*Client, error) {
	name := strings.ToUpper(strings.TrimSpace(clientName))
	if name == "" {
		name = defaultClientName
	}
	profile, ok := clientProfiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown innertube client %q (supported: %s)", clientName, strings.Join(ClientNames(), ", "))
	}

	c := &Client{
		httpClient: httpClient,
		endpoint:   DefaultEndpoint,
		clientName: name,
		profile:    profile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PlayerRequest is the body of a player call.
type PlayerRequest struct {
	Context ClientContext `json:"context"`
	VideoID string        `json:"videoId"`
}

// ClientContext contains client identification for the API request.
type ClientContext struct {
	Client InnertubeClient `json:"client"`
}

// InnertubeClient identifies the client making the request.
type InnertubeClient struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	HL            string `json:"hl"`
	GL            string `json:"gl"`
}

// PlayabilityError reports a player response whose status is not OK.
type PlayabilityError struct {
	Status string
	Reason string
}

func (e *PlayabilityError) Error() string {
	if e.Reason == "" {
		return strings.ToLower(e.Status)
	}
	return e.Reason
}

// BotCheck reports whether YouTube asked the client to prove it is human.
func (e *PlayabilityError) BotCheck() bool {
	return e.Status == "LOGIN_REQUIRED" && strings.Contains(strings.ToLower(e.Reason), "not a bot")
}

// Player fetches the player response of a video. A response that is not
// playable is returned as *PlayabilityError.
func (c *Client) Player(ctx context.Context, videoID string) (*PlayerResponse, error) {
	req := PlayerRequest{
		Context: ClientContext{
			Client: InnertubeClient{
				ClientName:    c.clientName,
				ClientVersion: c.profile.version,
				HL:            "en",
				GL:            "US",
			},
		},
		VideoID: videoID,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{
		"Content-Type":             "application/json",
		"User-Agent":               defaultUserAgent,
		"Origin":                   "https://www.youtube.com",
		"Referer":                  "https://www.youtube.com/",
		"X-YouTube-Client-Name":    c.profile.id,
		"X-YouTube-Client-Version": c.profile.version,
	}
	if c.cookie != "" {
		headers["Cookie"] = c.cookie
	}

	httpResp, err := c.httpClient.Do(ctx, http.MethodPost, c.endpoint, body, headers)
	if err != nil {
		return nil, fmt.Errorf("player request: %w", err)
	}

	var resp PlayerResponse
	if err := json.Unmarshal(httpResp.Body, &resp); err != nil {
		return nil, fmt.Errorf("json_parse_error: %w", err)
	}
	if status := resp.PlayabilityStatus.Status; status != "" && status != "OK" {
		return &resp, &PlayabilityError{Status: status, Reason: resp.PlayabilityStatus.Reason}
	}
	return &resp, nil
}
