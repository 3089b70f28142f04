package elasticsearch

import (
	"time"

	"github.com/shubhsaxena/event-search-service/internal/models"
)

// searchFields is the weighted multi-field match used for free text.
// Title dominates, category and tags help, description and organizer
// are low-signal tiebreakers.
var searchFields = []string{"title^3", "category^2", "tags^1.5", "description", "organizer"}

// buildSearchBody translates a normalized SearchQuery into an ES
// request body. Every clause is conjunctive and every query is
// restricted to active documents.
func buildSearchBody(q *models.SearchQuery) map[string]any {
	must := []map[string]any{
		{"term": map[string]any{"isActive": true}},
	}

	if q.SearchText != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":     q.SearchText,
				"type":      "best_fields",
				"fields":    searchFields,
				"fuzziness": "AUTO",
			},
		})
	}

	if q.Category != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"category": q.Category},
		})
	}
	if q.City != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"city": q.City},
		})
	}
	if q.Country != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"country": q.Country},
		})
	}

	if q.MinPrice != nil || q.MaxPrice != nil {
		priceRange := map[string]any{}
		if q.MinPrice != nil {
			priceRange["gte"] = *q.MinPrice
		}
		if q.MaxPrice != nil {
			priceRange["lte"] = *q.MaxPrice
		}
		must = append(must, map[string]any{
			"range": map[string]any{"price": priceRange},
		})
	}

	if q.StartDate != nil || q.EndDate != nil {
		dateRange := map[string]any{}
		if q.StartDate != nil {
			dateRange["gte"] = q.StartDate.UTC().Format(time.RFC3339)
		}
		if q.EndDate != nil {
			dateRange["lte"] = q.EndDate.UTC().Format(time.RFC3339)
		}
		must = append(must, map[string]any{
			"range": map[string]any{"startDate": dateRange},
		})
	}

	if len(q.Tags) > 0 {
		must = append(must, map[string]any{
			"terms": map[string]any{"tags": q.Tags},
		})
	}

	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"must": must},
		},
		"from":         (q.Page - 1) * q.PageSize,
		"size":         q.PageSize,
		"sort":         buildSort(q.SortBy, q.SortDescending),
		"aggs":         buildFacetAggregations(),
		"track_total_hits": true,
	}

	return body
}

func buildSort(sortBy models.SortOption, descending bool) []map[string]any {
	order := "asc"
	if descending {
		order = "desc"
	}

	switch sortBy {
	case models.SortDate:
		return []map[string]any{{"startDate": map[string]any{"order": order}}}
	case models.SortPrice:
		return []map[string]any{{"price": map[string]any{"order": order}}}
	case models.SortPopularity:
		return []map[string]any{{"popularity": map[string]any{"order": order}}}
	case models.SortRating:
		return []map[string]any{{"averageRating": map[string]any{"order": order}}}
	case models.SortCreatedAt:
		return []map[string]any{{"createdAt": map[string]any{"order": order}}}
	default:
		// Relevance: score first, popularity breaks ties.
		return []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{"popularity": map[string]any{"order": "desc"}},
		}
	}
}

// buildFacetAggregations requests term counts per field plus the five
// fixed price buckets. The buckets are contiguous, so their counts sum
// to the total for any result set where every document has a price.
func buildFacetAggregations() map[string]any {
	return map[string]any{
		"categories": map[string]any{
			"terms": map[string]any{"field": "category", "size": 20},
		},
		"cities": map[string]any{
			"terms": map[string]any{"field": "city", "size": 50},
		},
		"countries": map[string]any{
			"terms": map[string]any{"field": "country", "size": 20},
		},
		"tags": map[string]any{
			"terms": map[string]any{"field": "tags", "size": 30},
		},
		"price_ranges": map[string]any{
			"range": map[string]any{
				"field": "price",
				"keyed": true,
				"ranges": []map[string]any{
					{"key": "under_25", "to": 25.0},
					{"key": "25_to_50", "from": 25.0, "to": 50.0},
					{"key": "50_to_100", "from": 50.0, "to": 100.0},
					{"key": "100_to_200", "from": 100.0, "to": 200.0},
					{"key": "over_200", "from": 200.0},
				},
			},
		},
	}
}

// buildSuggestBody requests completion suggestions over the three
// suggestable fields: event titles, categories and cities.
func buildSuggestBody(prefix string, size int) map[string]any {
	completion := func(field string) map[string]any {
		return map[string]any{
			"prefix": prefix,
			"completion": map[string]any{
				"field":           field,
				"size":            size,
				"skip_duplicates": true,
			},
		}
	}
	return map[string]any{
		"size": 0,
		"suggest": map[string]any{
			"event_suggest":    completion("title.suggest"),
			"category_suggest": completion("category.suggest"),
			"location_suggest": completion("city.suggest"),
		},
	}
}

// buildMoreLikeThisBody finds active documents textually close to the
// source document, excluding the source itself, ranked by match score
// with popularity as tiebreak.
func buildMoreLikeThisBody(index, id string, size int) map[string]any {
	return map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					{
						"more_like_this": map[string]any{
							"fields": []string{"title", "description", "category", "tags"},
							"like": []map[string]any{
								{"_index": index, "_id": id},
							},
							"min_term_freq":  1,
							"min_doc_freq":   1,
							"max_query_terms": 50,
						},
					},
					{"term": map[string]any{"isActive": true}},
				},
				"must_not": []map[string]any{
					{"ids": map[string]any{"values": []string{id}}},
				},
			},
		},
		"sort": []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{"popularity": map[string]any{"order": "desc"}},
		},
	}
}
