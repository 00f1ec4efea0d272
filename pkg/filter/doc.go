// Package filter translates declarative filters into queries for the storage backends
// used by photovault repositories.
//
// A Filter maps a field name to a Condition with up to four operators:
//
//	filter.Filter{
//		"createdByUserId": {Exact: userID},
//		"name":            {Contains: "holiday"},
//		"createdAt":       {Greater: since, Less: until},
//	}
//
// Where builds the default condition for a single value: strings become a
// case-insensitive substring match, unless the field name looks like an identifier
// ("id", "spaceId", "gateway_customer_id"), in which case the match is exact.
//
// The same Filter is evaluated by three backends with identical semantics:
//
//   - Match and Apply evaluate records in memory (tests, memory stores).
//   - ToBSON and FindOptions build MongoDB filters and options.
//   - ToSQL and OrderBy build PostgreSQL WHERE/ORDER BY fragments with positional args.
//
// Backends resolve field names through a Fields allowlist, so unknown fields are
// rejected with ErrUnknownField instead of reaching the database.
//
// Pagination is page-number based. TotalPages is always ceil(totalItems/pageSize), and
// every backend sorts with an "id" tiebreaker so consecutive pages partition the
// result set.
package filter
