package pagination

import (
	"context"
	"fmt"

	"github.com/Sternrassler/creator-api-client/pkg/client"
	"github.com/rs/zerolog/log"
)

// BatchRequester issues GET requests concurrently and returns the responses
// in request order. client.Client implements it.
type BatchRequester interface {
	RequestMany(ctx context.Context, links []string) ([]client.Response, error)
}

// Lookahead walks a paginated collection, requesting width pages per round trip.
type Lookahead struct {
	requester  BatchRequester
	identify   IdentityFunc
	width      int
	firstWidth int
}

// NewLookahead creates a lookahead paginator. A width below 1 is raised to 1.
func NewLookahead(requester BatchRequester, identify IdentityFunc, width int) *Lookahead {
	if width < 1 {
		width = 1
	}
	return &Lookahead{
		requester:  requester,
		identify:   identify,
		width:      width,
		firstWidth: width,
	}
}

// WithFirstBatch returns a copy of l whose first batch requests width pages.
// Later batches keep the original width. A width below 1 is raised to 1.
func (l *Lookahead) WithFirstBatch(width int) *Lookahead {
	if width < 1 {
		width = 1
	}
	cp := *l
	cp.firstWidth = width
	return &cp
}

// Width returns the number of pages requested per batch after the first.
func (l *Lookahead) Width() int {
	return l.width
}

// Walk fetches batches starting at start and hands each batch's items, in
// offset order, to visit. The walk ends when visit returns true or when a
// page of the batch closes the collection: it reports no more data, holds
// fewer than Limit entries, or is not found. Pages of the batch after that
// page are ignored, whatever they claim.
//
// If a page fails, the whole batch is discarded and a *PageError is
// returned; batches visited before stay visited. Walk returns the number of
// batches dispatched.
func (l *Lookahead) Walk(ctx context.Context, start PageRequest, visit func([]Record) (stop bool)) (int, error) {
	if start.Limit < 1 {
		return 0, fmt.Errorf("page limit must be >= 1 (got %d)", start.Limit)
	}

	batches := 0
	width := l.firstWidth
	req := start
	for {
		requests := make([]PageRequest, width)
		links := make([]string, width)
		for i := range requests {
			requests[i] = req.Next(i)
			links[i] = requests[i].Link()
		}

		responses, err := l.requester.RequestMany(ctx, links)
		if err != nil {
			return batches, fmt.Errorf("fetch batch at offset %d: %w", req.Offset, err)
		}
		if len(responses) != len(links) {
			return batches, fmt.Errorf("fetch batch at offset %d: got %d responses for %d links",
				req.Offset, len(responses), len(links))
		}
		batches++
		lookaheadBatchesTotal.Inc()

		var (
			items []Record
			// end is set by the first page that closes the collection.
			end bool
		)
		for i, resp := range responses {
			page := ParsePage(requests[i], resp, l.identify)
			pagesFetchedTotal.WithLabelValues(page.Kind.String()).Inc()

			switch page.Kind {
			case PageFailed:
				log.Warn().
					Str("link", page.Err.Link).
					Int("code", page.Err.Code).
					Str("message", page.Err.Message).
					Int("batch", batches).
					Msg("Page fetch failed - discarding batch")
				return batches, page.Err
			case PageNotFound:
				end = true
			case PageItems:
				if end {
					log.Debug().
						Str("link", requests[i].Link()).
						Int("batch", batches).
						Msg("Ignoring page past the end of the collection")
					continue
				}
				items = append(items, page.Items...)
				if page.Count < req.Limit || !page.HasMore {
					end = true
				}
			}
		}

		log.Debug().
			Str("link", start.BaseLink).
			Int("offset", req.Offset).
			Int("batch", batches).
			Int("items", len(items)).
			Bool("end", end).
			Msg("Lookahead batch fetched")

		if visit(items) || end {
			return batches, nil
		}

		req = req.Next(width)
		width = l.width
	}
}

// FetchAll walks the whole collection and returns every item in offset order.
// On a page error the items of all completed batches are returned with it.
func (l *Lookahead) FetchAll(ctx context.Context, start PageRequest) ([]Record, error) {
	var all []Record
	_, err := l.Walk(ctx, start, func(items []Record) bool {
		all = append(all, items...)
		return false
	})
	return all, err
}
