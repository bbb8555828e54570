package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/Sternrassler/creator-api-client/pkg/client"
)

// fakeAPI serves a collection of ids total..1 (newest first) in
// {"list","hasMore"} envelopes, or as bare arrays when bare is set.
type fakeAPI struct {
	ids  []int64
	bare bool
	// failOffset makes the page at that offset answer with an error payload.
	failOffset int
	// staleHasMore makes short and out-of-range pages claim hasMore=true.
	staleHasMore bool
	// staleTail makes out-of-range pages repeat the final page's items.
	staleTail bool

	mu      sync.Mutex
	batches int
	links   []string
}

func newFakeAPI(total int) *fakeAPI {
	ids := make([]int64, total)
	for i := range ids {
		ids[i] = int64(total - i)
	}
	return &fakeAPI{ids: ids, failOffset: -1}
}

func (f *fakeAPI) RequestMany(_ context.Context, links []string) ([]client.Response, error) {
	f.mu.Lock()
	f.batches++
	f.links = append(f.links, links...)
	f.mu.Unlock()

	out := make([]client.Response, len(links))
	for i, link := range links {
		out[i] = f.page(link)
	}
	return out, nil
}

func (f *fakeAPI) page(link string) client.Response {
	u, err := url.Parse(link)
	if err != nil {
		return client.Response{Err: &client.ErrorPayload{Message: err.Error()}}
	}
	limit, _ := strconv.Atoi(u.Query().Get("limit"))
	offset, _ := strconv.Atoi(u.Query().Get("offset"))

	if offset == f.failOffset {
		return client.Response{StatusCode: 400, Err: &client.ErrorPayload{Code: 500, Message: "boom"}}
	}

	end := offset + limit
	if end > len(f.ids) {
		end = len(f.ids)
	}
	from := offset
	if from >= len(f.ids) && f.staleTail {
		from = max(len(f.ids)-limit, 0)
	}
	var list []json.RawMessage
	if from < end {
		for _, id := range f.ids[from:end] {
			list = append(list, json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)))
		}
	}
	if list == nil {
		list = []json.RawMessage{}
	}

	var body []byte
	if f.bare {
		body, _ = json.Marshal(list)
	} else {
		body, _ = json.Marshal(map[string]any{
			"list":    list,
			"hasMore": end < len(f.ids) || (f.staleHasMore && (len(list) < limit || offset >= len(f.ids))),
		})
	}
	return client.Response{StatusCode: 200, Body: body}
}

func ids(records []Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func rec(id int64) Record {
	return Record{ID: id, Raw: json.RawMessage(fmt.Sprintf(`{"id":%d}`, id))}
}

func recs(idList ...int64) []Record {
	out := make([]Record, len(idList))
	for i, id := range idList {
		out[i] = rec(id)
	}
	return out
}
