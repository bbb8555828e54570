// Package pagination fetches offset-paginated collections.
//
// The API pages collections with limit/offset query parameters. A page is
// either a `{"list": [...], "hasMore": bool}` envelope or a bare JSON array,
// in which case a full page implies more data. This package provides:
//
//   - Lookahead, which requests several pages concurrently per round trip
//     and stops once the last page of a batch reports no more data or any
//     page comes back short
//   - Accumulator, which merges fresh pages with a cached collection and
//     detects where they reconnect with known records
//   - BatchFetcher, a worker pool for a known number of pages that returns
//     results in page order regardless of completion order
//
// Example usage:
//
//	la := pagination.NewLookahead(client, pagination.FieldIdentity("id"), 4)
//	res, err := pagination.Resume(ctx, la, pagination.PageRequest{
//		BaseLink: "/api2/v2/messages/queue/stats",
//		Limit:    10,
//	}, cached)
//
// Pagination never retries on its own: a failed page ends the walk with a
// *PageError and whatever was gathered before it.
package pagination
