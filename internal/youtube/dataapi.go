package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"ytcatalog/internal/incremental"
	"ytcatalog/internal/retry"
)

const sourceDataAPI = "dataapi"

// Parts requested from the Data API.
var (
	ChannelParts      = []string{"snippet", "contentDetails", "localizations"}
	VideoParts        = []string{"snippet", "contentDetails", "statistics", "localizations"}
	PlaylistParts     = []string{"snippet", "contentDetails", "localizations"}
	PlaylistItemParts = []string{"snippet", "contentDetails"}
)

// DataAPIOptions configures a DataAPI client.
type DataAPIOptions struct {
	APIKey string
	// RequestsPerSecond throttles every call. Zero disables throttling.
	RequestsPerSecond float64
	Retry             retry.Config
	// Endpoint and HTTPClient override the transport, mainly for tests.
	Endpoint   string
	HTTPClient *http.Client
}

// DataAPI is a throttled, retrying client over the YouTube Data API v3.
type DataAPI struct {
	service *yt.Service
	limiter *rate.Limiter
	retry   retry.Config
	log     logrus.FieldLogger
}

// NewDataAPI creates a Data API client.
func NewDataAPI(ctx context.Context, opts DataAPIOptions, log logrus.FieldLogger) (*DataAPI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key required")
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	service, err := yt.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if opts.Retry.Log == nil {
		opts.Retry.Log = log
	}

	return &DataAPI{
		service: service,
		limiter: limiter,
		retry:   opts.Retry,
		log:     log.WithField("source", sourceDataAPI),
	}, nil
}

// ListPage returns one page of video ids from a playlist. It is the paginated
// source behind the incremental fetch controller.
func (d *DataAPI) ListPage(ctx context.Context, playlistID string, pageToken mo.Option[string]) (incremental.Page, error) {
	var page incremental.Page
	err := d.call(ctx, "playlistItems.list", playlistID, func(ctx context.Context) error {
		call := d.service.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(incremental.PageSize).
			Context(ctx)
		if token, ok := pageToken.Get(); ok {
			call = call.PageToken(token)
		}

		resp, err := call.Do()
		if err != nil {
			return err
		}
		page.IDs = lo.FilterMap(resp.Items, func(item *yt.PlaylistItem, _ int) (string, bool) {
			if item.ContentDetails == nil {
				return "", false
			}
			return item.ContentDetails.VideoId, item.ContentDetails.VideoId != ""
		})
		page.NextPageToken = optionalToken(resp.NextPageToken)
		return nil
	})
	return page, err
}

// ResolveHandle returns the channel id for a handle, or ErrNotFound.
func (d *DataAPI) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	var channelID string
	err := d.call(ctx, "channels.list", "@"+handle, func(ctx context.Context) error {
		resp, err := d.service.Channels.List([]string{"id"}).ForHandle(handle).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return retry.Permanent(ErrNotFound)
		}
		channelID = resp.Items[0].Id
		return nil
	})
	return channelID, err
}

// Channel fetches snippet, content details and localizations of a channel.
func (d *DataAPI) Channel(ctx context.Context, channelID string) (*yt.Channel, error) {
	var channel *yt.Channel
	err := d.call(ctx, "channels.list", channelID, func(ctx context.Context) error {
		resp, err := d.service.Channels.List(ChannelParts).Id(channelID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return retry.Permanent(ErrNotFound)
		}
		channel = resp.Items[0]
		return nil
	})
	return channel, err
}

// Videos fetches full video resources in batches of 50. Ids the API does not
// return are simply absent from the result.
func (d *DataAPI) Videos(ctx context.Context, ids []string) ([]*yt.Video, error) {
	var videos []*yt.Video
	for _, chunk := range lo.Chunk(ids, incremental.PageSize) {
		err := d.call(ctx, "videos.list", strings.Join(chunk, ","), func(ctx context.Context) error {
			resp, err := d.service.Videos.List(VideoParts).
				Id(chunk...).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			videos = append(videos, resp.Items...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return videos, nil
}

// Playlists lists a channel's playlists. pageLimit of 0 fetches every page.
func (d *DataAPI) Playlists(ctx context.Context, channelID string, pageLimit int) ([]*yt.Playlist, error) {
	var playlists []*yt.Playlist
	token := mo.None[string]()
	for pages := 0; pageLimit == 0 || pages < pageLimit; pages++ {
		var next mo.Option[string]
		err := d.call(ctx, "playlists.list", channelID, func(ctx context.Context) error {
			call := d.service.Playlists.List(PlaylistParts).
				ChannelId(channelID).
				MaxResults(incremental.PageSize).
				Context(ctx)
			if t, ok := token.Get(); ok {
				call = call.PageToken(t)
			}
			resp, err := call.Do()
			if err != nil {
				return err
			}
			playlists = append(playlists, resp.Items...)
			next = optionalToken(resp.NextPageToken)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if next.IsAbsent() {
			break
		}
		token = next
	}
	return playlists, nil
}

// PlaylistItems lists every item of a playlist.
func (d *DataAPI) PlaylistItems(ctx context.Context, playlistID string) ([]*yt.PlaylistItem, error) {
	var items []*yt.PlaylistItem
	token := mo.None[string]()
	for {
		var next mo.Option[string]
		err := d.call(ctx, "playlistItems.list", playlistID, func(ctx context.Context) error {
			call := d.service.PlaylistItems.List(PlaylistItemParts).
				PlaylistId(playlistID).
				MaxResults(incremental.PageSize).
				Context(ctx)
			if t, ok := token.Get(); ok {
				call = call.PageToken(t)
			}
			resp, err := call.Do()
			if err != nil {
				return err
			}
			items = append(items, resp.Items...)
			next = optionalToken(resp.NextPageToken)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if next.IsAbsent() {
			return items, nil
		}
		token = next
	}
}

// call throttles, retries and wraps one API request.
func (d *DataAPI) call(ctx context.Context, op, id string, fn func(context.Context) error) error {
	err := retry.Do(ctx, d.retry, nil, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		return classifyAPIError(fn(ctx))
	})
	if err != nil {
		d.log.WithFields(logrus.Fields{"op": op, "id": id}).WithError(err).Debug("api call failed")
		return &SourceError{Source: sourceDataAPI, Op: op, ID: id, Err: err}
	}
	return nil
}

// classifyAPIError maps googleapi errors onto sentinels and marks the ones
// that will not improve on retry.
func classifyAPIError(err error) error {
	if err == nil || retry.IsPermanent(err) {
		return err
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
		}
		return err
	}

	switch {
	case hasReason(apiErr, "quotaExceeded", "dailyLimitExceeded"):
		return retry.Permanent(fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message))
	case apiErr.Code == http.StatusTooManyRequests || hasReason(apiErr, "rateLimitExceeded", "userRateLimitExceeded"):
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	case apiErr.Code == http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message))
	case apiErr.Code >= 500:
		return err
	default:
		return retry.Permanent(err)
	}
}

func hasReason(err *googleapi.Error, reasons ...string) bool {
	return lo.SomeBy(err.Errors, func(item googleapi.ErrorItem) bool {
		return lo.Contains(reasons, item.Reason)
	})
}

func optionalToken(token string) mo.Option[string] {
	if token == "" {
		return mo.None[string]()
	}
	return mo.Some(token)
}
