package models

// Page is the envelope every listing endpoint responds with.
type Page[T any] struct {
	Items      []T `json:"items"`
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}

// NewPage wraps items in a Page, normalizing nil slices to empty ones so the
// JSON always carries an array.
func NewPage[T any](items []T, pageNumber, pageSize, totalCount int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		PageNumber: pageNumber,
		PageSize:   pageSize,
		TotalCount: totalCount,
	}
}
