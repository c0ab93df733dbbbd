package repository

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageBounds normalises 1-based paging input into LIMIT and OFFSET values.
func pageBounds(page, size int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return size, (page - 1) * size
}
