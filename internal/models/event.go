package models

import (
	"sort"
	"strings"
	"time"
)

type SortOption string

const (
	SortRelevance  SortOption = "relevance"
	SortDate       SortOption = "date"
	SortPrice      SortOption = "price"
	SortPopularity SortOption = "popularity"
	SortRating     SortOption = "rating"
	SortCreatedAt  SortOption = "created_at"
)

func (s SortOption) Valid() bool {
	switch s {
	case SortRelevance, SortDate, SortPrice, SortPopularity, SortRating, SortCreatedAt:
		return true
	}
	return false
}

// EventDocument is the indexed representation of one event listing.
// ID is immutable once assigned; IsActive=false marks a soft-removed
// document that remains queryable until explicitly deleted.
type EventDocument struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	Location         string    `json:"location"`
	Venue            string    `json:"venue"`
	City             string    `json:"city"`
	Country          string    `json:"country"`
	Price            float64   `json:"price"`
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
	AvailableTickets int       `json:"availableTickets"`
	Organizer        string    `json:"organizer"`
	Tags             []string  `json:"tags"`
	Popularity       float64   `json:"popularity"`
	ViewCount        int       `json:"viewCount"`
	BookingCount     int       `json:"bookingCount"`
	AverageRating    float64   `json:"averageRating"`
	RatingCount      int       `json:"ratingCount"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NormalizeTags lower-cases, trims, dedupes and sorts a tag list.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

type SearchQuery struct {
	SearchText     string     `json:"searchText,omitempty"`
	Category       string     `json:"category,omitempty"`
	City           string     `json:"city,omitempty"`
	Country        string     `json:"country,omitempty"`
	MinPrice       *float64   `json:"minPrice,omitempty"`
	MaxPrice       *float64   `json:"maxPrice,omitempty"`
	StartDate      *time.Time `json:"startDate,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Page           int        `json:"page"`
	PageSize       int        `json:"pageSize"`
	SortBy         SortOption `json:"sortBy,omitempty"`
	SortDescending bool       `json:"sortDescending"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps pagination, defaults the sort and canonicalizes
// the tag list so that equal queries compare (and cache) equal.
func (q *SearchQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if !q.SortBy.Valid() {
		q.SortBy = SortRelevance
	}
	q.Tags = NormalizeTags(q.Tags)
}

type SearchResult struct {
	Items        []EventDocument `json:"items"`
	TotalCount   int64           `json:"totalCount"`
	Page         int             `json:"page"`
	PageSize     int             `json:"pageSize"`
	SearchTimeMs int64           `json:"searchTimeMs"`
	Facets       *SearchFacets   `json:"facets,omitempty"`
}

type SearchFacets struct {
	Categories  map[string]int64 `json:"categories"`
	Cities      map[string]int64 `json:"cities"`
	Countries   map[string]int64 `json:"countries"`
	Tags        map[string]int64 `json:"tags"`
	PriceRanges PriceRangeFacet  `json:"priceRanges"`
}

// PriceRangeFacet holds the five fixed price buckets.
type PriceRangeFacet struct {
	Under25      int64 `json:"under25"`
	From25To50   int64 `json:"from25To50"`
	From50To100  int64 `json:"from50To100"`
	From100To200 int64 `json:"from100To200"`
	Over200      int64 `json:"over200"`
}

type Suggestion struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"` // event, category, location
	Score float64 `json:"score"`
}

// Domain event messages. Body is camelCase JSON; the message key on
// the wire is the entity id, which pins all events for one entity to
// one partition and bounds ordering guarantees to per-id.

type EventCreatedMessage struct {
	EventID         string    `json:"eventId"`
	Timestamp       time.Time `json:"timestamp"`
	Version         string    `json:"version"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	EventDate       time.Time `json:"eventDate"`
	Location        string    `json:"location"`
	MaxCapacity     int       `json:"maxCapacity"`
	TicketPrice     float64   `json:"ticketPrice"`
	OrganizerUserID string    `json:"organizerUserId"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
}

type EventUpdatedMessage struct {
	EventID     string    `json:"eventId"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	EventDate   time.Time `json:"eventDate"`
	Location    string    `json:"location"`
	MaxCapacity int       `json:"maxCapacity"`
	TicketPrice float64   `json:"ticketPrice"`
	IsActive    bool      `json:"isActive"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type EventDeletedMessage struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	DeletedAt time.Time `json:"deletedAt"`
}

// ChangelogEntry is the analytics-sink record of one applied index
// mutation.
type ChangelogEntry struct {
	EventID   string    `json:"eventId"`
	Operation string    `json:"operation"` // created, updated, deleted
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryPerformanceEvent is written for queries that exceed the slow
// query thresholds.
type QueryPerformanceEvent struct {
	QueryHash  string    `json:"queryHash"`
	Operation  string    `json:"operation"`
	DurationMs float64   `json:"durationMs"`
	TotalHits  int64     `json:"totalHits"`
	TimedOut   bool      `json:"timedOut"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"traceId"`
}
