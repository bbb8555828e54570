package account

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dario.cat/mergo"
	"github.com/Sternrassler/creator-api-client/pkg/cache"
	"github.com/Sternrassler/creator-api-client/pkg/model"
	"github.com/Sternrassler/creator-api-client/pkg/pagination"
	"golang.org/x/sync/errgroup"
)

// SubscriptionOptions selects how GetSubscriptions gathers its result.
type SubscriptionOptions struct {
	// Refresh fetches from the API even when a cached collection exists.
	Refresh bool

	// Identifiers limits the result to these users, looked up one by one.
	// The account's own id or username is skipped.
	Identifiers []string

	// ExtraInfo merges each subscription with the user's full profile.
	ExtraInfo bool
}

// GetSubscriptions returns the active subscriptions of the account.
//
// A performer account gets a synthetic subscription to itself first,
// expiring one year from now. The pages of the subscription list are
// fetched by a worker pool and concatenated in page order. A user listed
// twice is kept once, at its first position. When a page
// fails the remaining pages are returned together with the error and the
// cache is left untouched.
func (a *Account) GetSubscriptions(ctx context.Context, opts SubscriptionOptions) ([]model.User, error) {
	profile, err := a.checkActive()
	if err != nil {
		return nil, err
	}

	key := a.cacheKey(ResourceSubscriptions, profile.ID)
	if !opts.Refresh {
		if users, ok := a.loadSubscriptions(ctx, key); ok {
			return users, nil
		}
	}

	var results []model.User
	if profile.IsPerformer {
		results = append(results, a.selfSubscription(ctx, profile))
	}

	var fetchErr error
	if len(opts.Identifiers) == 0 {
		users, err := a.fetchSubscriptionPages(ctx, profile, opts.ExtraInfo)
		results = append(results, users...)
		fetchErr = err
	} else {
		results = append(results, a.fetchIdentifiers(ctx, profile, opts.Identifiers)...)
	}
	results = dedupeUsers(results)

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if fetchErr != nil {
		return results, fmt.Errorf("fetch %s: %w", ResourceSubscriptions, fetchErr)
	}

	a.saveSubscriptions(ctx, key, results)
	collectionSize.WithLabelValues(ResourceSubscriptions).Set(float64(len(results)))

	a.logger.Info().
		Str("resource", ResourceSubscriptions).
		Int("records", len(results)).
		Msg("Collection fetched")

	return results, nil
}

// GetSubscription finds a subscription by username or id in the cached
// subscriptions, fetching them when nothing is cached.
func (a *Account) GetSubscription(ctx context.Context, identifier string) (model.User, bool, error) {
	subscriptions, err := a.GetSubscriptions(ctx, SubscriptionOptions{ExtraInfo: true})
	if err != nil {
		return model.User{}, false, err
	}
	for _, s := range subscriptions {
		if s.Matches(identifier) {
			return s, true, nil
		}
	}
	return model.User{}, false, nil
}

// selfSubscription builds the subscription of a performer to itself from a
// snapshot of the own profile overlaid with the public profile.
func (a *Account) selfSubscription(ctx context.Context, profile model.User) model.User {
	self := profile.Snapshot()

	public, err := a.GetUser(ctx, profile.Handle())
	if err != nil {
		a.logger.Warn().Err(err).Str("username", profile.Handle()).Msg("Own public profile unavailable")
	} else if err := mergo.Merge(&self, public, mergo.WithOverride); err != nil {
		a.logger.Warn().Err(err).Msg("Own public profile merge failed")
	}

	self.ID = profile.ID
	self.SubscribedByData = &model.SubscribedByData{
		ExpiredAt: a.now().AddDate(1, 0, 0).Format(time.RFC3339),
	}
	return self
}

func (a *Account) fetchSubscriptionPages(ctx context.Context, profile model.User, extraInfo bool) ([]model.User, error) {
	limit := a.config.SubscriptionLimit
	pageCount := (profile.SubscribesCount + limit - 1) / limit

	fetcher := pagination.NewBatchFetcher[[]model.User](pagination.Config{
		MaxConcurrency: a.config.Workers,
		Timeout:        a.config.PageTimeout,
	})

	pages, err := fetcher.FetchAll(ctx, ResourceSubscriptions, pageCount, func(ctx context.Context, index int) ([]model.User, error) {
		req := pagination.PageRequest{BaseLink: subscriptionsLink(), Limit: limit, Offset: index * limit}
		return a.fetchSubscriptionPage(ctx, req, extraInfo)
	})

	var users []model.User
	for _, page := range pages {
		users = append(users, page...)
	}
	return users, err
}

func (a *Account) fetchSubscriptionPage(ctx context.Context, req pagination.PageRequest, extraInfo bool) ([]model.User, error) {
	resp, err := a.requester.Request(ctx, req.Link(), http.MethodGet, nil)
	if err != nil {
		return nil, err
	}

	page := pagination.ParsePage(req, resp, identifyByID)
	switch page.Kind {
	case pagination.PageFailed:
		return nil, page.Err
	case pagination.PageNotFound:
		return nil, nil
	}

	users := make([]model.User, 0, len(page.Items))
	for _, item := range page.Items {
		u, err := model.ParseUser(item.Raw)
		if err != nil {
			a.logger.Warn().Err(err).Int64("id", item.ID).Msg("Skipping malformed subscription")
			continue
		}
		users = append(users, u)
	}

	if !extraInfo {
		return users, nil
	}
	return a.enrich(ctx, users)
}

// enrich fetches the full profile of every user concurrently and merges it
// over the page record. Users whose profile fetch fails are dropped.
func (a *Account) enrich(ctx context.Context, users []model.User) ([]model.User, error) {
	extended := make([]*model.User, len(users))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range users {
		g.Go(func() error {
			ext, err := a.GetUser(gctx, u.Handle())
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.logger.Warn().Err(err).Int64("id", u.ID).Msg("Enrichment failed - dropping record")
				return nil
			}
			extended[i] = &ext
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.User, 0, len(users))
	for i, u := range users {
		ext := extended[i]
		if ext == nil || ext.ID != u.ID {
			enrichmentDroppedTotal.Inc()
			continue
		}
		merged := u.Snapshot()
		if err := mergo.Merge(&merged, ext.Snapshot(), mergo.WithOverride); err != nil {
			a.logger.Warn().Err(err).Int64("id", u.ID).Msg("Enrichment merge failed - dropping record")
			enrichmentDroppedTotal.Inc()
			continue
		}
		out = append(out, merged)
	}
	return out, nil
}

// fetchIdentifiers looks up each identifier and keeps the users the account
// is subscribed to.
func (a *Account) fetchIdentifiers(ctx context.Context, profile model.User, identifiers []string) []model.User {
	var out []model.User
	for _, identifier := range identifiers {
		if profile.Matches(identifier) {
			continue
		}
		if ctx.Err() != nil {
			return out
		}
		u, err := a.GetUser(ctx, identifier)
		if err != nil {
			a.logger.Debug().Err(err).Str("identifier", identifier).Msg("Skipping identifier")
			continue
		}
		if !u.SubscribedBy {
			continue
		}
		out = append(out, u)
	}
	return out
}

// dedupeUsers drops repeated ids, keeping the first occurrence and the
// order of the rest.
func dedupeUsers(users []model.User) []model.User {
	seen := make(map[int64]struct{}, len(users))
	out := users[:0]
	for _, u := range users {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (a *Account) loadSubscriptions(ctx context.Context, key cache.CacheKey) ([]model.User, bool) {
	records, ok := a.loadRecords(ctx, key, identifyByID)
	if !ok {
		return nil, false
	}
	users := make([]model.User, 0, len(records))
	for _, r := range records {
		u, err := model.ParseUser(r.Raw)
		if err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, true
}

func (a *Account) saveSubscriptions(ctx context.Context, key cache.CacheKey, users []model.User) {
	raws := make([]json.RawMessage, 0, len(users))
	for _, u := range users {
		raw, err := json.Marshal(u)
		if err != nil {
			a.logger.Warn().Err(err).Int64("id", u.ID).Msg("Skipping unencodable subscription")
			continue
		}
		raws = append(raws, raw)
	}
	a.saveRaw(ctx, key, raws)
}
