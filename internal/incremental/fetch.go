// Package incremental bounds re-fetch cost for paginated child lists: the
// controller stops paging once it reaches already-known data, and Merge
// replaces only the changed tail of the stored sequence.
package incremental

import (
	"context"
	"fmt"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"
)

// PageSize is the maximum number of ids requested per page.
const PageSize = 50

// Page is one response from a paginated source.
type Page struct {
	IDs           []string
	NextPageToken mo.Option[string]
}

// PageSource lists the children of a parent one page at a time.
type PageSource interface {
	ListPage(ctx context.Context, sourceID string, pageToken mo.Option[string]) (Page, error)
}

// Options tunes a single FetchIDs call.
type Options struct {
	// PageLimit caps the number of pages requested. Zero means unlimited.
	PageLimit int
	// StopOnKnown halts paging after a page whose last id is already known.
	StopOnKnown bool
}

// FetchResult is the outcome of FetchIDs.
type FetchResult struct {
	// IDs are the ids encountered, in source order.
	IDs []string
	// Pages is the number of page requests issued.
	Pages int
	// ReachedKnown is true when paging stopped at a known id.
	ReachedKnown bool
}

// Controller pages a source until it reaches known data.
type Controller struct {
	source PageSource
	log    logrus.FieldLogger
}

// NewController creates a controller over source.
func NewController(source PageSource, log logrus.FieldLogger) *Controller {
	return &Controller{source: source, log: log}
}

// FetchIDs requests pages of sourceID until the last id of a page is in
// known (when opts.StopOnKnown is set), the source reports no next page, or
// opts.PageLimit pages have been read. Transport errors are returned as-is;
// nothing is retried here.
func (c *Controller) FetchIDs(ctx context.Context, sourceID string, known map[string]struct{}, opts Options) (FetchResult, error) {
	var result FetchResult
	token := mo.None[string]()

	for {
		page, err := c.source.ListPage(ctx, sourceID, token)
		if err != nil {
			return result, fmt.Errorf("list page %d of %s: %w", result.Pages+1, sourceID, err)
		}
		result.Pages++
		result.IDs = append(result.IDs, page.IDs...)

		if opts.StopOnKnown && len(page.IDs) > 0 {
			if _, ok := known[page.IDs[len(page.IDs)-1]]; ok {
				result.ReachedKnown = true
				break
			}
		}

		next, ok := page.NextPageToken.Get()
		if !ok || next == "" {
			break
		}
		if opts.PageLimit > 0 && result.Pages >= opts.PageLimit {
			c.log.WithFields(logrus.Fields{"source_id": sourceID, "pages": result.Pages}).Debug("page limit reached")
			break
		}
		token = mo.Some(next)
	}
	return result, nil
}
