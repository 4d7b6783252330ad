package app

// Pagination reports how a list response was windowed. Total counts every
// matching item, not just the page returned.
type Pagination struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func paginate(total, page, pageSize int) Pagination {
	return Pagination{Total: total, Page: page, PageSize: pageSize}
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// clampPageSize applies fallback for an unset (zero) size and bounds the
// rest to [1, max].
func clampPageSize(size, fallback, max int) int {
	if size == 0 {
		return fallback
	}
	if size < 1 {
		return 1
	}
	if size > max {
		return max
	}
	return size
}

func pageOffset(page, pageSize int) int {
	return (page - 1) * pageSize
}
