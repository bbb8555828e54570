// Package account implements the collection operations of an authenticated
// account: subscriptions, chats, mass messages, paid content, lists and
// user lookups.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sternrassler/creator-api-client/pkg/auth"
	"github.com/Sternrassler/creator-api-client/pkg/cache"
	"github.com/Sternrassler/creator-api-client/pkg/client"
	"github.com/Sternrassler/creator-api-client/pkg/logging"
	"github.com/Sternrassler/creator-api-client/pkg/model"
	"github.com/Sternrassler/creator-api-client/pkg/pagination"
	"github.com/rs/zerolog"
)

// Resource names used for caching and metrics.
const (
	ResourceSubscriptions = "subscriptions"
	ResourceChats         = "chats"
	ResourceMassMessages  = "mass_messages"
	ResourcePaidContent   = "paid_content"
	ResourceLists         = "lists"
)

// ErrUserNotFound is returned when a user lookup answers not found.
var ErrUserNotFound = errors.New("user not found")

// Session is the authenticated session the account acts for.
// auth.Machine implements it.
type Session interface {
	Active() bool
	Profile() model.User
}

// Config holds the account configuration.
type Config struct {
	// Workers is the page worker count and the lookahead width.
	Workers int

	SubscriptionLimit int
	ChatLimit         int
	MassMessageLimit  int
	PaidLimit         int
	ListLimit         int

	// PageTimeout bounds one subscription page including its enrichment.
	PageTimeout time.Duration
}

// DefaultConfig returns the default page sizes with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:           runtime.NumCPU(),
		SubscriptionLimit: 20,
		ChatLimit:         100,
		MassMessageLimit:  10,
		PaidLimit:         99,
		ListLimit:         100,
		PageTimeout:       60 * time.Second,
	}
}

// Account runs collection operations for one authenticated session.
type Account struct {
	session   Session
	requester client.Requester
	store     cache.Store
	config    Config
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates an account. A nil store keeps collections in memory.
func New(session Session, requester client.Requester, store cache.Store, cfg Config) (*Account, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if requester == nil {
		return nil, fmt.Errorf("requester is required")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1 (got %d)", cfg.Workers)
	}
	for name, limit := range map[string]int{
		"subscription_limit": cfg.SubscriptionLimit,
		"chat_limit":         cfg.ChatLimit,
		"mass_message_limit": cfg.MassMessageLimit,
		"paid_limit":         cfg.PaidLimit,
		"list_limit":         cfg.ListLimit,
	} {
		if limit < 1 {
			return nil, fmt.Errorf("%s must be >= 1 (got %d)", name, limit)
		}
	}
	if store == nil {
		store = cache.NewMemoryStore(0)
	}

	return &Account{
		session:   session,
		requester: requester,
		store:     store,
		config:    cfg,
		logger:    logging.NewLogger("account"),
		now:       time.Now,
	}, nil
}

// GetUser fetches a profile by id or username.
func (a *Account) GetUser(ctx context.Context, identifier string) (model.User, error) {
	resp, err := a.requester.Request(ctx, userLink(identifier), http.MethodGet, nil)
	if err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", identifier, err)
	}
	if resp.Err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", identifier, resp.Err)
	}
	if resp.NotFound() {
		return model.User{}, fmt.Errorf("get user %s: %w", identifier, ErrUserNotFound)
	}
	return model.ParseUser(resp.Body)
}

func (a *Account) checkActive() (model.User, error) {
	if !a.session.Active() {
		return model.User{}, auth.ErrNotAuthenticated
	}
	return a.session.Profile(), nil
}

func (a *Account) cacheKey(resource string, accountID int64) cache.CacheKey {
	return cache.CacheKey{Resource: resource, AccountID: accountID}
}

// loadRecords reads a cached collection. A miss or a read failure yields nil.
func (a *Account) loadRecords(ctx context.Context, key cache.CacheKey, identify pagination.IdentityFunc) ([]pagination.Record, bool) {
	entry, err := a.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			a.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed")
		}
		return nil, false
	}

	records := make([]pagination.Record, 0, len(entry.Records))
	for _, raw := range entry.Records {
		id, ok := identify(raw)
		if !ok {
			continue
		}
		records = append(records, pagination.Record{ID: id, Raw: raw})
	}
	a.logger.Debug().Str("key", key.String()).Int("records", len(records)).Msg("Cache hit")
	return records, true
}

// saveRecords replaces a cached collection. Failures are logged.
func (a *Account) saveRecords(ctx context.Context, key cache.CacheKey, records []pagination.Record) {
	raws := make([]json.RawMessage, len(records))
	for i, r := range records {
		raws[i] = r.Raw
	}
	a.saveRaw(ctx, key, raws)
}

func (a *Account) saveRaw(ctx context.Context, key cache.CacheKey, raws []json.RawMessage) {
	if err := a.store.Save(ctx, key, cache.NewEntry(raws)); err != nil {
		a.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache write failed")
	}
}
