package httpkit

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageParams are the shared list query parameters.
type PageParams struct {
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
	SortBy    string `form:"sortBy" validate:"omitempty,max=50"`
	SortOrder string `form:"sortOrder" validate:"omitempty,oneof=asc desc ASC DESC"`
	Search    string `form:"search" validate:"omitempty,max=200"`
}

// Normalize applies defaults and bounds.
func (p PageParams) Normalize() PageParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset is the SQL OFFSET for the normalized page.
func (p PageParams) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// Limit is the SQL LIMIT for the normalized page.
func (p PageParams) Limit() int {
	return p.Normalize().PageSize
}

// Paged is the list envelope consumed by the dashboard.
type Paged[T any] struct {
	Items           []T  `json:"items"`
	Page            int  `json:"page"`
	PageSize        int  `json:"pageSize"`
	TotalCount      int  `json:"totalCount"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// NewPaged builds the envelope. items is never serialized as null.
func NewPaged[T any](items []T, total int, params PageParams) Paged[T] {
	p := params.Normalize()
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + p.PageSize - 1) / p.PageSize
	}
	return Paged[T]{
		Items:           items,
		Page:            p.Page,
		PageSize:        p.PageSize,
		TotalCount:      total,
		TotalPages:      totalPages,
		HasNextPage:     p.Page < totalPages,
		HasPreviousPage: p.Page > 1,
	}
}

// MapPaged converts the items of a page.
func MapPaged[T, U any](in Paged[T], fn func(T) U) Paged[U] {
	out := make([]U, len(in.Items))
	for i, item := range in.Items {
		out[i] = fn(item)
	}
	return Paged[U]{
		Items:           out,
		Page:            in.Page,
		PageSize:        in.PageSize,
		TotalCount:      in.TotalCount,
		TotalPages:      in.TotalPages,
		HasNextPage:     in.HasNextPage,
		HasPreviousPage: in.HasPreviousPage,
	}
}
