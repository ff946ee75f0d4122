package shared

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// MaxPage bounds page numbers so the row offset stays well inside int range.
const MaxPage = 100000

// Paging describes a window of a descending listing.
type Paging struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// NormalizePage clamps page and page size to sane bounds.
func NormalizePage(page, pageSize int) (int, int) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page <= 0 {
		page = 1
	}
	return page, pageSize
}

// NewPaging builds paging metadata; fetched is the number of rows read with a
// limit of pageSize+1.
func NewPaging(page, pageSize, fetched int) Paging {
	p := Paging{Page: page, PageSize: pageSize, HasNext: fetched > pageSize}
	if page > 1 {
		p.PrevPage = page - 1
	}
	if p.HasNext {
		p.NextPage = page + 1
	}
	return p
}
