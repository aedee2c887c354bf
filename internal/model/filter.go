package model

import "time"

// Pagination limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// SortOrder is the direction of a list sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortFields lists the columns a list may be ordered by.
var SortFields = map[string]bool{
	"timestamp": true, "created_at": true, "priority": true, "status": true,
	"type": true, "source": true, "title": true,
}

// ActivityFilter holds criteria for listing a tenant's activities. The
// tenant itself is passed separately so it can never be left unset.
type ActivityFilter struct {
	Types         []ActivityType `json:"types,omitempty"`
	Sources       []Source       `json:"sources,omitempty"`
	Statuses      []Status       `json:"statuses,omitempty"`
	Priorities    []Priority     `json:"priorities,omitempty"`
	EntityID      string         `json:"entity_id,omitempty"`
	EntityType    string         `json:"entity_type,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Read          *bool          `json:"read,omitempty"`
	Tags          []string       `json:"tags,omitempty"` // every tag must be present
	Start         *time.Time     `json:"start,omitempty"`
	End           *time.Time     `json:"end,omitempty"`
	Search        string         `json:"search,omitempty"` // case-insensitive on title/description
	CorrelationID string         `json:"correlation_id,omitempty"`

	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
	Page      int       `json:"page,omitempty"`
	PageSize  int       `json:"page_size,omitempty"`
}

// Normalize fills in pagination and sort defaults.
func (f *ActivityFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if f.SortBy == "" {
		f.SortBy = "timestamp"
	}
	if f.SortOrder == "" {
		f.SortOrder = SortDesc
	}
}

// Offset is the number of rows skipped for the current page.
func (f *ActivityFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// Page is one page of a filtered activity list.
type Page struct {
	Items      []*Activity `json:"items"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// NewPage assembles a Page, computing the page count from total.
func NewPage(items []*Activity, total, page, pageSize int) *Page {
	if items == nil {
		items = []*Activity{}
	}
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return &Page{Items: items, Total: total, Page: page, PageSize: pageSize, TotalPages: pages}
}

// Stats aggregates a tenant's activities over an optional time window.
type Stats struct {
	Total      int            `json:"total"`
	Unread     int            `json:"unread"`
	ByType     map[string]int `json:"by_type"`
	BySource   map[string]int `json:"by_source"`
	ByPriority map[string]int `json:"by_priority"`
	Start      *time.Time     `json:"start_date,omitempty"`
	End        *time.Time     `json:"end_date,omitempty"`
}

// NewStats returns an empty Stats with initialized maps.
func NewStats(start, end *time.Time) *Stats {
	return &Stats{
		ByType:     map[string]int{},
		BySource:   map[string]int{},
		ByPriority: map[string]int{},
		Start:      start,
		End:        end,
	}
}
