// Package pagination slices lists into fixed-size pages.
package pagination

// DefaultPageSize is used when a non-positive page size is requested.
const DefaultPageSize = 10

// Page is one page of a list along with its navigation metadata.
type Page[T any] struct {
	Items       []T  `json:"items"`
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

// Paginate returns the 1-based page of list. Pages outside [1, TotalPages]
// yield an empty Items slice with the metadata still filled in.
func Paginate[T any](list []T, page, pageSize int) Page[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := len(list)
	totalPages := (total + pageSize - 1) / pageSize

	p := Page[T]{
		Items:       []T{},
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
	if page < 1 || page > totalPages {
		return p
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, total)
	p.Items = list[start:end]
	return p
}
