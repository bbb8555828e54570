package pagination

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/creator-api-client/pkg/client"
)

// Record is one raw item of a collection together with its identity.
type Record struct {
	ID  int64
	Raw json.RawMessage
}

// IdentityFunc extracts the natural key of a raw item.
// It reports false for items that have none.
type IdentityFunc func(raw json.RawMessage) (int64, bool)

// FieldIdentity returns an IdentityFunc reading the numeric value at path,
// e.g. FieldIdentity("withUser", "id"). Numeric strings are accepted.
func FieldIdentity(path ...string) IdentityFunc {
	return func(raw json.RawMessage) (int64, bool) {
		current := raw
		for _, field := range path {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(current, &obj); err != nil {
				return 0, false
			}
			next, ok := obj[field]
			if !ok {
				return 0, false
			}
			current = next
		}
		return parseID(current)
	}
}

func parseID(raw json.RawMessage) (int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}

	switch id := v.(type) {
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// PageRequest addresses one page of a collection.
type PageRequest struct {
	BaseLink string
	Limit    int
	Offset   int
}

// Link renders the request with limit and offset set on the query,
// replacing any values already present in BaseLink.
func (p PageRequest) Link() string {
	u, err := url.Parse(p.BaseLink)
	if err != nil {
		return p.BaseLink
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	u.RawQuery = q.Encode()
	return u.String()
}

// Next returns the request n pages further.
func (p PageRequest) Next(n int) PageRequest {
	p.Offset += n * p.Limit
	return p
}

// PageError reports a page the API answered with an error payload.
type PageError struct {
	Link    string
	Code    int
	Message string
}

// Error implements the error interface.
func (e *PageError) Error() string {
	return fmt.Sprintf("page %s: api error %d: %s", e.Link, e.Code, e.Message)
}

// PageKind tags the outcome of a page fetch.
type PageKind int

const (
	// PageItems is a page carrying a (possibly empty) item list.
	PageItems PageKind = iota
	// PageFailed is a page the API answered with an error payload.
	PageFailed
	// PageNotFound is a page with an empty or absent body.
	PageNotFound
)

// String returns the metric label of the kind.
func (k PageKind) String() string {
	switch k {
	case PageItems:
		return "items"
	case PageFailed:
		return "error"
	case PageNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// PageResult is the parsed outcome of one page.
type PageResult struct {
	Kind    PageKind
	Items   []Record
	HasMore bool
	// Count is the number of raw entries on the page, before filtering.
	Count int
	Err   *PageError
}

// ParsePage interprets the response for req. Entries that are not JSON
// objects or carry no identity are dropped.
func ParsePage(req PageRequest, resp client.Response, identify IdentityFunc) PageResult {
	if resp.Err != nil {
		return PageResult{
			Kind: PageFailed,
			Err:  &PageError{Link: req.Link(), Code: resp.Err.Code, Message: resp.Err.Message},
		}
	}
	if resp.NotFound() {
		return PageResult{Kind: PageNotFound}
	}

	var (
		raw     []json.RawMessage
		hasMore bool
	)

	body := bytes.TrimSpace(resp.Body)
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return malformed(req, err)
		}
		hasMore = req.Limit > 0 && len(raw) >= req.Limit
	case '{':
		var envelope struct {
			List    []json.RawMessage `json:"list"`
			HasMore bool              `json:"hasMore"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return malformed(req, err)
		}
		raw = envelope.List
		hasMore = envelope.HasMore
	default:
		return malformed(req, fmt.Errorf("unexpected body %.20q", body))
	}

	items := make([]Record, 0, len(raw))
	for _, entry := range raw {
		entry = bytes.TrimSpace(entry)
		if len(entry) == 0 || entry[0] != '{' {
			continue
		}
		id, ok := identify(entry)
		if !ok {
			continue
		}
		items = append(items, Record{ID: id, Raw: entry})
	}

	return PageResult{
		Kind:    PageItems,
		Items:   items,
		HasMore: hasMore,
		Count:   len(raw),
	}
}

func malformed(req PageRequest, err error) PageResult {
	return PageResult{
		Kind: PageFailed,
		Err:  &PageError{Link: req.Link(), Message: "malformed page: " + err.Error()},
	}
}
