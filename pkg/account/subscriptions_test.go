package account

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/creator-api-client/internal/testutil"
	"github.com/Sternrassler/creator-api-client/pkg/cache"
	"github.com/Sternrassler/creator-api-client/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSubscriptions_PageOrder(t *testing.T) {
	mock := newMock(t)
	mock.SetCollection(testutil.PathSubscriptions, testutil.Users(45, nil))
	a, _ := newTestAccount(t, mock, model.User{ID: 1000, SubscribesCount: 45})

	got, err := a.GetSubscriptions(context.Background(), SubscriptionOptions{Refresh: true})
	require.NoError(t, err)

	assert.Equal(t, descending(45, 1), userIDs(got))
	assert.Equal(t, 5, mock.Requests(testutil.PathSubscriptions), "ceil(45/10) pages")
}

func TestGetSubscriptions_Enrichment(t *testing.T) {
	mock := newMock(t)
	subs := testutil.Users(12, func(id int) map[string]any {
		return map[string]any{"subscribedBy": true}
	})
	mock.SetCollection(testutil.PathSubscriptions, subs)
	for id := 1; id <= 12; id++ {
		mock.AddUser(map[string]any{
			"id":       id,
			"username": fmt.Sprintf("user%d", id),
			"about":    fmt.Sprintf("about %d", id),
		})
	}
	mock.FailUser("user5", 500, "Internal error")
	a, _ := newTestAccount(t, mock, model.User{ID: 1000, SubscribesCount: 12})

	got, err := a.GetSubscriptions(context.Background(), SubscriptionOptions{Refresh: true, ExtraInfo: true})
	require.NoError(t, err)

	want := descending(12, 1)
	want = append(want[:7], want[8:]...)
	assert.Equal(t, want, userIDs(got), "failed enrichment is dropped")
	for _, u := range got {
		assert.Equal(t, fmt.Sprintf("about %d", u.ID), u.About)
		assert.True(t, u.SubscribedBy, "page fields survive the merge")
	}
}

func TestGetSubscriptions_SelfSubscription(t *testing.T) {
	mock := newMock(t)
	mock.SetCollection(testutil.PathSubscriptions, testutil.Users(3, nil))
	mock.AddUser(map[string]any{"id": 42, "username": "me", "about": "public about", "postsCount": 9})

	profile := model.User{ID: 42, Username: "me", Email: "me@example.com", IsPerformer: true, SubscribesCount: 3}
	a, _ := newTestAccount(t, mock, profile)

	for _, opts := range []SubscriptionOptions{
		{Refresh: true},
		{Refresh: true, Identifiers: []string{"user1"}},
	} {
		start := time.Now()
		got, err := a.GetSubscriptions(context.Background(), opts)
		require.NoError(t, err)
		require.NotEmpty(t, got)

		self := got[0]
		assert.Equal(t, int64(42), self.ID)
		assert.Equal(t, "me@example.com", self.Email, "own profile is kept")
		assert.Equal(t, "public about", self.About, "public profile is overlaid")
		assert.Equal(t, 9, self.PostsCount)

		expiry, ok := self.SubscribedByData.Expiry()
		require.True(t, ok)
		days := expiry.Sub(start).Hours() / 24
		assert.GreaterOrEqual(t, days, 364.0)
		assert.LessOrEqual(t, days, 366.0)
	}
}

func TestGetSubscriptions_Identifiers(t *testing.T) {
	mock := newMock(t)
	mock.AddUser(map[string]any{"id": 1, "username": "alice", "subscribedBy": true})
	mock.AddUser(map[string]any{"id": 2, "username": "bob", "subscribedBy": false})
	mock.AddUser(map[string]any{"id": 42, "username": "me", "subscribedBy": true})
	mock.FailUser("carol", 404, "User not found")
	a, _ := newTestAccount(t, mock, model.User{ID: 42, Username: "me", SubscribesCount: 100})

	got, err := a.GetSubscriptions(context.Background(), SubscriptionOptions{
		Refresh:     true,
		Identifiers: []string{"alice", "bob", "carol", "me", "42"},
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, userIDs(got))
	assert.Zero(t, mock.Requests(testutil.PathUsers+"me"), "own username is skipped")
	assert.Zero(t, mock.Requests(testutil.PathUsers+"42"), "own id is skipped")
	assert.Zero(t, mock.Requests(testutil.PathSubscriptions), "no enumeration")
}

func TestGetSubscriptions_Dedupe(t *testing.T) {
	ctx := context.Background()

	t.Run("identifiers naming the same user", func(t *testing.T) {
		mock := newMock(t)
		mock.AddUser(map[string]any{"id": 1, "username": "alice", "subscribedBy": true})
		mock.AddUser(map[string]any{"id": 2, "username": "bob", "subscribedBy": true})
		a, _ := newTestAccount(t, mock, model.User{ID: 42, Username: "me"})

		got, err := a.GetSubscriptions(ctx, SubscriptionOptions{
			Refresh:     true,
			Identifiers: []string{"alice", "bob", "1", "alice"},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, userIDs(got))

		cached, err := a.GetSubscriptions(ctx, SubscriptionOptions{})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, userIDs(cached))
	})

	t.Run("own account listed on a page", func(t *testing.T) {
		mock := newMock(t)
		page := append([]map[string]any{{"id": 42, "username": "me"}}, testutil.Users(3, nil)...)
		mock.SetCollection(testutil.PathSubscriptions, page)
		mock.AddUser(map[string]any{"id": 42, "username": "me"})
		a, _ := newTestAccount(t, mock, model.User{ID: 42, Username: "me", IsPerformer: true, SubscribesCount: 4})

		got, err := a.GetSubscriptions(ctx, SubscriptionOptions{Refresh: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{42, 3, 2, 1}, userIDs(got))
		require.NotNil(t, got[0].SubscribedByData, "the synthetic entry wins")
		assert.NotEmpty(t, got[0].SubscribedByData.ExpiredAt)

		cached, err := a.GetSubscriptions(ctx, SubscriptionOptions{})
		require.NoError(t, err)
		assert.Equal(t, []int64{42, 3, 2, 1}, userIDs(cached))
	})
}

func TestGetSubscriptions_RefreshFalseUsesCache(t *testing.T) {
	mock := newMock(t)
	mock.SetCollection(testutil.PathSubscriptions, testutil.Users(5, nil))
	a, _ := newTestAccount(t, mock, model.User{ID: 1000, SubscribesCount: 5})
	ctx := context.Background()

	// A cache miss falls through to a fetch.
	first, err := a.GetSubscriptions(ctx, SubscriptionOptions{})
	require.NoError(t, err)
	assert.Equal(t, descending(5, 1), userIDs(first))

	mock.SetCollection(testutil.PathSubscriptions, testutil.Users(2, nil))
	cached, err := a.GetSubscriptions(ctx, SubscriptionOptions{})
	require.NoError(t, err)
	assert.Equal(t, descending(5, 1), userIDs(cached))
	assert.Equal(t, 1, mock.Requests(testutil.PathSubscriptions))

	fresh, err := a.GetSubscriptions(ctx, SubscriptionOptions{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, descending(2, 1), userIDs(fresh), "refresh replaces the collection")
}

func TestGetSubscriptions_PageFailure(t *testing.T) {
	mock := newMock(t)
	mock.SetCollection(testutil.PathSubscriptions, testutil.Users(30, nil))
	mock.FailPage(testutil.PathSubscriptions, 10, 500, "Internal error")
	a, store := newTestAccount(t, mock, model.User{ID: 1000, SubscribesCount: 30})
	ctx := context.Background()

	got, err := a.GetSubscriptions(ctx, SubscriptionOptions{Refresh: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partial data: 2/3 pages")

	want := append(descending(30, 21), descending(10, 1)...)
	assert.Equal(t, want, userIDs(got), "other pages are kept in order")

	_, err = store.Load(ctx, cache.CacheKey{Resource: ResourceSubscriptions, AccountID: 1000})
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestGetSubscription(t *testing.T) {
	mock := newMock(t)
	mock.SetCollection(testutil.PathSubscriptions, testutil.Users(4, nil))
	for id := 1; id <= 4; id++ {
		mock.AddUser(map[string]any{"id": id, "username": fmt.Sprintf("user%d", id)})
	}
	a, _ := newTestAccount(t, mock, model.User{ID: 1000, SubscribesCount: 4})
	ctx := context.Background()

	u, ok, err := a.GetSubscription(ctx, "user3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), u.ID)

	u, ok, err = a.GetSubscription(ctx, "2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user2", u.Username)

	_, ok, err = a.GetSubscription(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, mock.Requests(testutil.PathSubscriptions), "lookups reuse the cached collection")
}
