package account

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Sternrassler/creator-api-client/pkg/model"
	"github.com/Sternrassler/creator-api-client/pkg/pagination"
)

var (
	identifyByID       = pagination.FieldIdentity("id")
	identifyByChatUser = pagination.FieldIdentity("withUser", "id")
)

// collection describes a cached, resumable resource.
type collection struct {
	resource string
	link     string
	limit    int
	identify pagination.IdentityFunc
	keep     func(pagination.Record) bool

	// firstWidth sizes the first lookahead batch; zero uses the worker count.
	firstWidth int
}

// fetchCollection returns the cached collection when refresh is false and
// one exists. Otherwise it walks the resource, merging with the cache, and
// stores the result. On a page error the records gathered so far are
// returned with the error and nothing is stored.
func (a *Account) fetchCollection(ctx context.Context, accountID int64, c collection, refresh bool) ([]pagination.Record, error) {
	key := a.cacheKey(c.resource, accountID)
	cached, hit := a.loadRecords(ctx, key, c.identify)
	if !refresh && hit {
		return cached, nil
	}

	la := pagination.NewLookahead(a.requester, c.identify, a.config.Workers)
	if c.firstWidth > 0 {
		la = la.WithFirstBatch(c.firstWidth)
	}
	start := pagination.PageRequest{BaseLink: c.link, Limit: c.limit}

	res, err := pagination.Resume(ctx, la, start, cached)
	records := filterRecords(res.Records, c.keep)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("resource", c.resource).
			Int("records", len(records)).
			Msg("Collection fetch incomplete")
		return records, fmt.Errorf("fetch %s: %w", c.resource, err)
	}

	a.saveRecords(ctx, key, records)
	collectionSize.WithLabelValues(c.resource).Set(float64(len(records)))

	a.logger.Info().
		Str("resource", c.resource).
		Int("records", len(records)).
		Int("batches", res.Batches).
		Bool("reconnected", res.Reconnected).
		Msg("Collection fetched")

	return records, nil
}

func filterRecords(records []pagination.Record, keep func(pagination.Record) bool) []pagination.Record {
	if keep == nil {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// GetChats returns the chat threads ordered by partner id descending.
func (a *Account) GetChats(ctx context.Context, refresh bool) ([]pagination.Record, error) {
	profile, err := a.checkActive()
	if err != nil {
		return nil, err
	}

	return a.fetchCollection(ctx, profile.ID, collection{
		resource:   ResourceChats,
		link:       chatsLink(),
		limit:      a.config.ChatLimit,
		firstWidth: a.chatWidth(profile.ChatMessagesCount),
		identify:   identifyByChatUser,
	}, refresh)
}

// chatWidth sizes the first lookahead batch to cover the known chat count
// without exceeding the worker count. Continuation batches use every worker.
func (a *Account) chatWidth(chatCount int) int {
	if chatCount <= 0 {
		return a.config.Workers
	}
	pages := (chatCount + a.config.ChatLimit - 1) / a.config.ChatLimit
	if pages > a.config.Workers {
		return a.config.Workers
	}
	return pages
}

// GetMassMessages returns the mass message statistics ordered by id
// descending.
func (a *Account) GetMassMessages(ctx context.Context, refresh bool) ([]pagination.Record, error) {
	profile, err := a.checkActive()
	if err != nil {
		return nil, err
	}

	return a.fetchCollection(ctx, profile.ID, collection{
		resource: ResourceMassMessages,
		link:     massMessagesLink(),
		limit:    a.config.MassMessageLimit,
		identify: identifyByID,
	}, refresh)
}

// PaidContent is a purchased message or post.
type PaidContent struct {
	Kind model.ContentKind
	pagination.Record
}

// GetPaidContent returns purchased content ordered by id descending.
// Records that are neither messages nor posts are skipped.
func (a *Account) GetPaidContent(ctx context.Context, refresh bool) ([]PaidContent, error) {
	profile, err := a.checkActive()
	if err != nil {
		return nil, err
	}

	records, err := a.fetchCollection(ctx, profile.ID, collection{
		resource: ResourcePaidContent,
		link:     paidLink(),
		limit:    a.config.PaidLimit,
		identify: identifyByID,
		keep: func(r pagination.Record) bool {
			_, ok := model.ClassifyPaid(r.Raw)
			return ok
		},
	}, refresh)

	out := make([]PaidContent, 0, len(records))
	for _, r := range records {
		kind, _ := model.ClassifyPaid(r.Raw)
		out = append(out, PaidContent{Kind: kind, Record: r})
	}
	return out, err
}

// GetLists returns the account's user lists from a single request.
func (a *Account) GetLists(ctx context.Context, refresh bool) ([]pagination.Record, error) {
	profile, err := a.checkActive()
	if err != nil {
		return nil, err
	}

	key := a.cacheKey(ResourceLists, profile.ID)
	if !refresh {
		if cached, ok := a.loadRecords(ctx, key, identifyByID); ok {
			return cached, nil
		}
	}

	req := pagination.PageRequest{BaseLink: pathLists, Limit: a.config.ListLimit}
	resp, err := a.requester.Request(ctx, req.Link(), http.MethodGet, nil)
	if err != nil {
		return nil, fmt.Errorf("get lists: %w", err)
	}

	page := pagination.ParsePage(req, resp, identifyByID)
	switch page.Kind {
	case pagination.PageFailed:
		return nil, fmt.Errorf("get lists: %w", page.Err)
	case pagination.PageNotFound:
		return nil, nil
	}

	a.saveRecords(ctx, key, page.Items)
	collectionSize.WithLabelValues(ResourceLists).Set(float64(len(page.Items)))
	return page.Items, nil
}

// GetListUsers returns the members of a list in server order.
func (a *Account) GetListUsers(ctx context.Context, listID int64) ([]pagination.Record, error) {
	if _, err := a.checkActive(); err != nil {
		return nil, err
	}

	la := pagination.NewLookahead(a.requester, identifyByID, a.config.Workers)
	records, err := la.FetchAll(ctx, pagination.PageRequest{
		BaseLink: listUsersLink(listID),
		Limit:    a.config.ListLimit,
	})
	if err != nil {
		return records, fmt.Errorf("get list %d users: %w", listID, err)
	}
	return records, nil
}
