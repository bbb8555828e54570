package pagination

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/Sternrassler/creator-api-client/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldIdentity(t *testing.T) {
	tests := []struct {
		name   string
		path   []string
		raw    string
		wantID int64
		wantOK bool
	}{
		{"top level", []string{"id"}, `{"id": 42}`, 42, true},
		{"nested", []string{"withUser", "id"}, `{"withUser": {"id": 7}, "id": 1}`, 7, true},
		{"numeric string", []string{"id"}, `{"id": "123"}`, 123, true},
		{"large id", []string{"id"}, `{"id": 9007199254740993}`, 9007199254740993, true},
		{"missing", []string{"id"}, `{"name": "x"}`, 0, false},
		{"float", []string{"id"}, `{"id": 1.5}`, 0, false},
		{"not an object", []string{"withUser", "id"}, `{"withUser": 5}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := FieldIdentity(tt.path...)(json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestPageRequest_Link(t *testing.T) {
	req := PageRequest{BaseLink: "/api2/v2/chats?limit=100&offset=0&order=desc", Limit: 10, Offset: 30}

	u, err := url.Parse(req.Link())
	require.NoError(t, err)
	assert.Equal(t, "/api2/v2/chats", u.Path)
	assert.Equal(t, "10", u.Query().Get("limit"))
	assert.Equal(t, "30", u.Query().Get("offset"))
	assert.Equal(t, "desc", u.Query().Get("order"))

	next := req.Next(2)
	assert.Equal(t, 50, next.Offset)
	assert.Equal(t, 30, req.Offset, "Next must not modify the receiver")
}

func TestParsePage(t *testing.T) {
	req := PageRequest{BaseLink: "/items", Limit: 3}
	identify := FieldIdentity("id")

	tests := []struct {
		name        string
		resp        client.Response
		wantKind    PageKind
		wantIDs     []int64
		wantHasMore bool
		wantCount   int
	}{
		{
			name:        "envelope",
			resp:        client.Response{Body: json.RawMessage(`{"list":[{"id":3},{"id":2}],"hasMore":true}`)},
			wantKind:    PageItems,
			wantIDs:     []int64{3, 2},
			wantHasMore: true,
			wantCount:   2,
		},
		{
			name:      "envelope without list",
			resp:      client.Response{Body: json.RawMessage(`{"hasMore":false}`)},
			wantKind:  PageItems,
			wantIDs:   []int64{},
			wantCount: 0,
		},
		{
			name:        "full bare array implies more",
			resp:        client.Response{Body: json.RawMessage(`[{"id":3},{"id":2},{"id":1}]`)},
			wantKind:    PageItems,
			wantIDs:     []int64{3, 2, 1},
			wantHasMore: true,
			wantCount:   3,
		},
		{
			name:      "short bare array",
			resp:      client.Response{Body: json.RawMessage(`[{"id":1}]`)},
			wantKind:  PageItems,
			wantIDs:   []int64{1},
			wantCount: 1,
		},
		{
			name:      "non-object and id-less entries dropped",
			resp:      client.Response{Body: json.RawMessage(`{"list":[{"id":5},"error",null,{"x":1}],"hasMore":false}`)},
			wantKind:  PageItems,
			wantIDs:   []int64{5},
			wantCount: 4,
		},
		{
			name:     "not found",
			resp:     client.Response{StatusCode: 404},
			wantKind: PageNotFound,
		},
		{
			name:     "error payload",
			resp:     client.Response{Err: &client.ErrorPayload{Code: 9, Message: "nope"}},
			wantKind: PageFailed,
		},
		{
			name:     "malformed",
			resp:     client.Response{Body: json.RawMessage(`"text"`)},
			wantKind: PageFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := ParsePage(req, tt.resp, identify)
			require.Equal(t, tt.wantKind, page.Kind)
			if tt.wantKind != PageItems {
				if tt.wantKind == PageFailed {
					require.NotNil(t, page.Err)
					assert.Contains(t, page.Err.Link, "/items")
				}
				return
			}
			assert.Equal(t, tt.wantIDs, ids(page.Items))
			assert.Equal(t, tt.wantHasMore, page.HasMore)
			assert.Equal(t, tt.wantCount, page.Count)
		})
	}
}
