package filter

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Sort orders results by a single field; ties are broken by id.
type Sort struct {
	Field string `json:"field,omitempty"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query bundles a filter with ordering and pagination.
type Query struct {
	Filter   Filter `json:"filter,omitempty"`
	Sort     Sort   `json:"sort"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// Normalize returns a copy with defaults applied: page 1, DefaultPageSize,
// page size capped at MaxPageSize and sorting by id.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if q.Sort.Field == "" {
		q.Sort.Field = "id"
	}
	return q
}

// Offset returns the number of items skipped before the current page.
func (q Query) Offset() int64 {
	q = q.Normalize()
	return int64(q.Page-1) * int64(q.PageSize)
}

// Page is a single page of results.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// NewPage assembles a page for a normalized query.
func NewPage[T any](items []T, q Query, total int64) Page[T] {
	q = q.Normalize()
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalItems: total,
		TotalPages: TotalPages(total, q.PageSize),
	}
}

// HasNext reports whether a page follows this one.
func (p Page[T]) HasNext() bool {
	return p.Page < p.TotalPages
}

// TotalPages returns ceil(total/size), or 0 for a non-positive size.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
