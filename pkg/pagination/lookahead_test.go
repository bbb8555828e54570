package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Sternrassler/creator-api-client/pkg/client"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookahead_Exhaustion(t *testing.T) {
	const limit = 10

	for _, total := range []int{1, 9, 10, 11, 35, 40, 101} {
		for width := 1; width <= 5; width++ {
			t.Run(fmt.Sprintf("total=%d/width=%d", total, width), func(t *testing.T) {
				api := newFakeAPI(total)
				la := NewLookahead(api, FieldIdentity("id"), width)

				items, err := la.FetchAll(context.Background(), PageRequest{BaseLink: "/items", Limit: limit})
				require.NoError(t, err)

				assert.Len(t, items, total)
				seen := make(map[int64]bool, len(items))
				for _, r := range items {
					assert.False(t, seen[r.ID], "duplicate id %d", r.ID)
					seen[r.ID] = true
				}

				pageCount := (total + limit - 1) / limit
				maxBatches := (pageCount + width - 1) / width
				assert.LessOrEqual(t, api.batches, maxBatches)
			})
		}
	}
}

func TestLookahead_PreservesOffsetOrder(t *testing.T) {
	api := newFakeAPI(25)
	la := NewLookahead(api, FieldIdentity("id"), 3)

	items, err := la.FetchAll(context.Background(), PageRequest{BaseLink: "/items", Limit: 5})
	require.NoError(t, err)

	want := make([]int64, 25)
	for i := range want {
		want[i] = int64(25 - i)
	}
	if diff := cmp.Diff(want, ids(items)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestLookahead_BareArrays(t *testing.T) {
	api := newFakeAPI(20)
	api.bare = true
	la := NewLookahead(api, FieldIdentity("id"), 2)

	items, err := la.FetchAll(context.Background(), PageRequest{BaseLink: "/paid", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, items, 20)
	// Pages 0-1 are full, so a second batch is needed to see the empty page.
	assert.Equal(t, 2, api.batches)
}

func TestLookahead_ErrorKeepsPriorBatches(t *testing.T) {
	api := newFakeAPI(50)
	api.failOffset = 30 // second batch with width 2, limit 10
	la := NewLookahead(api, FieldIdentity("id"), 2)

	items, err := la.FetchAll(context.Background(), PageRequest{BaseLink: "/items", Limit: 10})

	var pageErr *PageError
	require.True(t, errors.As(err, &pageErr), "want *PageError, got %v", err)
	assert.Equal(t, 500, pageErr.Code)
	// The failing batch (offsets 20, 30) is discarded entirely.
	assert.Len(t, items, 20)
	assert.Equal(t, 2, api.batches)
}

func TestLookahead_VisitStops(t *testing.T) {
	api := newFakeAPI(100)
	la := NewLookahead(api, FieldIdentity("id"), 2)

	calls := 0
	batches, err := la.Walk(context.Background(), PageRequest{BaseLink: "/items", Limit: 10}, func([]Record) bool {
		calls++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batches)
	assert.Equal(t, 1, calls)
}

func TestLookahead_InvalidLimit(t *testing.T) {
	la := NewLookahead(newFakeAPI(1), FieldIdentity("id"), 1)

	_, err := la.Walk(context.Background(), PageRequest{BaseLink: "/items"}, func([]Record) bool { return false })
	assert.Error(t, err)
}

func TestNewLookahead_MinimumWidth(t *testing.T) {
	assert.Equal(t, 1, NewLookahead(newFakeAPI(1), FieldIdentity("id"), 0).Width())
}

type failingRequester struct{ err error }

func (f failingRequester) RequestMany(context.Context, []string) ([]client.Response, error) {
	return nil, f.err
}

func TestLookahead_TransportError(t *testing.T) {
	la := NewLookahead(failingRequester{err: context.Canceled}, FieldIdentity("id"), 2)

	_, err := la.FetchAll(context.Background(), PageRequest{BaseLink: "/items", Limit: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLookahead_InconsistentHasMore(t *testing.T) {
	const limit = 5

	tests := []struct {
		name        string
		total       int
		width       int
		staleTail   bool
		wantBatches int
	}{
		// Offsets 20 (3 items) and 25 (empty) both claim more data.
		{"short last page", 23, 2, false, 3},
		// Offset 5 is the real end; offset 10 repeats it with hasMore=true.
		{"stale page after short page", 7, 3, true, 1},
		// Offset 5 ends the data exactly; offsets 10 and 15 echo it as full pages.
		{"stale full pages after the end", 10, 4, true, 1},
		{"stale empty page inside batch", 12, 4, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(tt.total)
			api.staleHasMore = true
			api.staleTail = tt.staleTail
			la := NewLookahead(api, FieldIdentity("id"), tt.width)

			items, err := la.FetchAll(context.Background(), PageRequest{BaseLink: "/items", Limit: limit})
			require.NoError(t, err)

			want := make([]int64, tt.total)
			for i := range want {
				want[i] = int64(tt.total - i)
			}
			if diff := cmp.Diff(want, ids(items)); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantBatches, api.batches)
		})
	}
}

func TestLookahead_FirstBatchWidth(t *testing.T) {
	api := newFakeAPI(25)
	la := NewLookahead(api, FieldIdentity("id"), 3).WithFirstBatch(1)

	items, err := la.FetchAll(context.Background(), PageRequest{BaseLink: "/items", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, items, 25)

	// One page, then full-width batches at offsets 5-15 and 20-30.
	assert.Equal(t, 3, api.batches)
	assert.Len(t, api.links, 7)
	assert.Equal(t, 3, la.Width())
	assert.Equal(t, 1, NewLookahead(api, FieldIdentity("id"), 3).WithFirstBatch(0).firstWidth)
}
