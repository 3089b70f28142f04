package elasticsearch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shubhsaxena/event-search-service/internal/models"
)

func floatPtr(f float64) *float64 { return &f }

func mustClauses(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	boolQuery, ok := body["query"].(map[string]any)["bool"].(map[string]any)
	if !ok {
		t.Fatal("body has no bool query")
	}
	clauses, ok := boolQuery["must"].([]map[string]any)
	if !ok {
		t.Fatal("bool query has no must clauses")
	}
	return clauses
}

func TestBuildSearchBodyAlwaysFiltersActive(t *testing.T) {
	q := &models.SearchQuery{}
	q.Normalize()

	clauses := mustClauses(t, buildSearchBody(q))
	if len(clauses) != 1 {
		t.Fatalf("expected only the isActive filter, got %d clauses", len(clauses))
	}
	term, ok := clauses[0]["term"].(map[string]any)
	if !ok || term["isActive"] != true {
		t.Errorf("first clause is not an isActive=true term filter: %v", clauses[0])
	}
}

func TestBuildSearchBodyConjunctiveFilters(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	q := &models.SearchQuery{
		SearchText: "jazz festival",
		Category:   "Music",
		City:       "Berlin",
		Country:    "Germany",
		MinPrice:   floatPtr(10),
		MaxPrice:   floatPtr(80),
		StartDate:  &start,
		Tags:       []string{"outdoor", "live"},
	}
	q.Normalize()

	clauses := mustClauses(t, buildSearchBody(q))
	// isActive + multi_match + category + city + country + price + date + tags
	if len(clauses) != 8 {
		t.Fatalf("expected 8 conjunctive clauses, got %d: %v", len(clauses), clauses)
	}

	var sawMultiMatch, sawPrice, sawDate, sawTags bool
	for _, clause := range clauses {
		if mm, ok := clause["multi_match"].(map[string]any); ok {
			sawMultiMatch = true
			if mm["fuzziness"] != "AUTO" {
				t.Errorf("multi_match fuzziness = %v, want AUTO", mm["fuzziness"])
			}
			if mm["type"] != "best_fields" {
				t.Errorf("multi_match type = %v, want best_fields", mm["type"])
			}
		}
		if r, ok := clause["range"].(map[string]any); ok {
			if pr, ok := r["price"].(map[string]any); ok {
				sawPrice = true
				if pr["gte"] != 10.0 || pr["lte"] != 80.0 {
					t.Errorf("price range = %v, want gte 10 lte 80", pr)
				}
			}
			if dr, ok := r["startDate"].(map[string]any); ok {
				sawDate = true
				if dr["gte"] != "2026-06-01T00:00:00Z" {
					t.Errorf("date range gte = %v", dr["gte"])
				}
			}
		}
		if _, ok := clause["terms"]; ok {
			sawTags = true
		}
	}
	if !sawMultiMatch || !sawPrice || !sawDate || !sawTags {
		t.Errorf("missing clauses: multi_match=%v price=%v date=%v tags=%v",
			sawMultiMatch, sawPrice, sawDate, sawTags)
	}
}

func TestBuildSearchBodyPagination(t *testing.T) {
	q := &models.SearchQuery{Page: 3, PageSize: 25}
	q.Normalize()

	body := buildSearchBody(q)
	if body["from"] != 50 {
		t.Errorf("from = %v, want 50", body["from"])
	}
	if body["size"] != 25 {
		t.Errorf("size = %v, want 25", body["size"])
	}
}

func TestBuildSort(t *testing.T) {
	tests := []struct {
		name       string
		sortBy     models.SortOption
		descending bool
		wantField  string
		wantOrder  string
	}{
		{"date ascending", models.SortDate, false, "startDate", "asc"},
		{"date descending", models.SortDate, true, "startDate", "desc"},
		{"price", models.SortPrice, false, "price", "asc"},
		{"popularity", models.SortPopularity, true, "popularity", "desc"},
		{"rating", models.SortRating, true, "averageRating", "desc"},
		{"created at", models.SortCreatedAt, true, "createdAt", "desc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sort := buildSort(tt.sortBy, tt.descending)
			if len(sort) != 1 {
				t.Fatalf("expected single sort clause, got %d", len(sort))
			}
			field, ok := sort[0][tt.wantField].(map[string]any)
			if !ok {
				t.Fatalf("sort clause missing field %s: %v", tt.wantField, sort[0])
			}
			if field["order"] != tt.wantOrder {
				t.Errorf("order = %v, want %s", field["order"], tt.wantOrder)
			}
		})
	}
}

func TestBuildSortRelevanceBreaksTiesByPopularity(t *testing.T) {
	sort := buildSort(models.SortRelevance, true)
	if len(sort) != 2 {
		t.Fatalf("expected score + popularity, got %d clauses", len(sort))
	}
	if _, ok := sort[0]["_score"]; !ok {
		t.Error("first sort clause should be _score")
	}
	pop, ok := sort[1]["popularity"].(map[string]any)
	if !ok || pop["order"] != "desc" {
		t.Errorf("second sort clause should be popularity desc: %v", sort[1])
	}
}

func TestFacetPriceBucketsAreContiguous(t *testing.T) {
	aggs := buildFacetAggregations()
	rangeAgg := aggs["price_ranges"].(map[string]any)["range"].(map[string]any)
	ranges := rangeAgg["ranges"].([]map[string]any)

	if len(ranges) != 5 {
		t.Fatalf("expected 5 price buckets, got %d", len(ranges))
	}
	if _, hasFrom := ranges[0]["from"]; hasFrom {
		t.Error("first bucket must be open at the bottom")
	}
	if _, hasTo := ranges[len(ranges)-1]["to"]; hasTo {
		t.Error("last bucket must be open at the top")
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i]["from"] != ranges[i-1]["to"] {
			t.Errorf("bucket %d starts at %v but previous ends at %v",
				i, ranges[i]["from"], ranges[i-1]["to"])
		}
	}
}

func TestBuildSuggestBodyThreeSuggesters(t *testing.T) {
	body := buildSuggestBody("jaz", 10)
	if body["size"] != 0 {
		t.Errorf("suggest query should fetch no hits, size = %v", body["size"])
	}

	suggest := body["suggest"].(map[string]any)
	for _, name := range []string{"event_suggest", "category_suggest", "location_suggest"} {
		s, ok := suggest[name].(map[string]any)
		if !ok {
			t.Fatalf("missing suggester %s", name)
		}
		if s["prefix"] != "jaz" {
			t.Errorf("%s prefix = %v", name, s["prefix"])
		}
		completion := s["completion"].(map[string]any)
		if completion["skip_duplicates"] != true {
			t.Errorf("%s should skip duplicates", name)
		}
		if completion["size"] != 10 {
			t.Errorf("%s size = %v, want 10", name, completion["size"])
		}
	}
}

func TestBuildMoreLikeThisBodyExcludesSource(t *testing.T) {
	body := buildMoreLikeThisBody("events", "evt-42", 5)
	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)

	mustNot := boolQuery["must_not"].([]map[string]any)
	ids := mustNot[0]["ids"].(map[string]any)["values"].([]string)
	if len(ids) != 1 || ids[0] != "evt-42" {
		t.Errorf("must_not ids = %v, want [evt-42]", ids)
	}

	var sawActive bool
	for _, clause := range boolQuery["must"].([]map[string]any) {
		if term, ok := clause["term"].(map[string]any); ok && term["isActive"] == true {
			sawActive = true
		}
		if mlt, ok := clause["more_like_this"].(map[string]any); ok {
			if mlt["max_query_terms"] != 50 {
				t.Errorf("max_query_terms = %v, want 50", mlt["max_query_terms"])
			}
		}
	}
	if !sawActive {
		t.Error("more-like-this must filter to active documents")
	}
}

func TestExtractFacets(t *testing.T) {
	raw := map[string]json.RawMessage{
		"categories": json.RawMessage(`{"buckets":[{"key":"Music","doc_count":7},{"key":"Tech","doc_count":3}]}`),
		"cities":     json.RawMessage(`{"buckets":[{"key":"Berlin","doc_count":4}]}`),
		"countries":  json.RawMessage(`{"buckets":[]}`),
		"tags":       json.RawMessage(`{"buckets":[{"key":"live","doc_count":2}]}`),
		"price_ranges": json.RawMessage(`{"buckets":{
			"under_25":{"doc_count":1},
			"25_to_50":{"doc_count":2},
			"50_to_100":{"doc_count":3},
			"100_to_200":{"doc_count":4},
			"over_200":{"doc_count":0}}}`),
	}

	facets := extractFacets(raw)
	if facets == nil {
		t.Fatal("expected facets")
	}
	if facets.Categories["Music"] != 7 || facets.Categories["Tech"] != 3 {
		t.Errorf("categories = %v", facets.Categories)
	}
	if facets.Cities["Berlin"] != 4 {
		t.Errorf("cities = %v", facets.Cities)
	}
	if facets.PriceRanges.From100To200 != 4 || facets.PriceRanges.Over200 != 0 {
		t.Errorf("price ranges = %+v", facets.PriceRanges)
	}
}

func TestExtractFacetsEmpty(t *testing.T) {
	if extractFacets(nil) != nil {
		t.Error("no aggregations should produce nil facets")
	}
}
