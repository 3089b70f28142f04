package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/cache"
	"github.com/shubhsaxena/event-search-service/internal/config"
	"github.com/shubhsaxena/event-search-service/internal/models"
	"github.com/shubhsaxena/event-search-service/internal/observability"
)

// Repository is the read capability of the document store.
// Implemented by the Elasticsearch client.
type Repository interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResult, error)
	Suggest(ctx context.Context, prefix string, size int) ([]models.Suggestion, error)
	MoreLikeThis(ctx context.Context, id string, size int) (*models.SearchResult, error)
}

const (
	MinPrefixLength       = 2
	DefaultMaxSuggestions = 10
	MaxSuggestions        = 20
	DefaultMaxSimilar     = 10
	MaxSimilar            = 20
	DefaultMaxPopular     = 20
	MaxPopular            = 50
)

// Service answers read queries cache-first. Engine failures on the
// read path degrade to empty results so the API stays available;
// cache failures degrade to engine queries.
type Service struct {
	repo   Repository
	cache  cache.Store
	ttl    config.CacheTTLConfig
	slow   *observability.SlowQueryDetector
	logger *zap.Logger
}

func NewService(repo Repository, store cache.Store, ttl config.CacheTTLConfig, slow *observability.SlowQueryDetector, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  store,
		ttl:    ttl,
		slow:   slow,
		logger: logger,
	}
}

// Search runs a filtered, faceted, paginated query.
func (s *Service) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResult, error) {
	query.Normalize()
	key := searchCacheKey(query)

	start := time.Now()
	if cached, ok := s.cacheLookup(ctx, "search", key); ok {
		var result models.SearchResult
		if err := json.Unmarshal(cached, &result); err == nil {
			observability.SearchRequestsTotal.WithLabelValues("search", "hit").Inc()
			return &result, nil
		}
	}

	result, err := s.repo.Search(ctx, query)
	duration := time.Since(start)
	observability.SearchRequestDuration.WithLabelValues("search").Observe(duration.Seconds())

	if err != nil {
		observability.SearchRequestsTotal.WithLabelValues("search", "degraded").Inc()
		s.logger.Error("search degraded to empty result",
			zap.String("cache_key", key),
			zap.Error(err),
		)
		return emptyResult(query.Page, query.PageSize), nil
	}
	observability.SearchRequestsTotal.WithLabelValues("search", "miss").Inc()

	if s.slow != nil {
		s.slow.Intercept(ctx, key, "search", duration, result.TotalCount)
	}

	if result.TotalCount > 0 {
		s.cacheStore(ctx, key, result, s.ttl.SearchResults)
	}
	return result, nil
}

// Autocomplete returns up to max completion suggestions for a prefix,
// ranked by descending suggestion score. Prefixes shorter than two
// characters return empty without touching the engine.
func (s *Service) Autocomplete(ctx context.Context, prefix string, max int) ([]models.Suggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if utf8.RuneCountInString(prefix) < MinPrefixLength {
		return []models.Suggestion{}, nil
	}
	max = clamp(max, DefaultMaxSuggestions, MaxSuggestions)

	key := fmt.Sprintf("autocomplete:%s:%d", strings.ToLower(prefix), max)

	start := time.Now()
	if cached, ok := s.cacheLookup(ctx, "autocomplete", key); ok {
		var suggestions []models.Suggestion
		if err := json.Unmarshal(cached, &suggestions); err == nil {
			observability.SearchRequestsTotal.WithLabelValues("autocomplete", "hit").Inc()
			return suggestions, nil
		}
	}

	suggestions, err := s.repo.Suggest(ctx, prefix, max)
	duration := time.Since(start)
	observability.SearchRequestDuration.WithLabelValues("autocomplete").Observe(duration.Seconds())

	if err != nil {
		observability.SearchRequestsTotal.WithLabelValues("autocomplete", "degraded").Inc()
		s.logger.Error("autocomplete degraded to empty result",
			zap.String("prefix", prefix),
			zap.Error(err),
		)
		return []models.Suggestion{}, nil
	}
	observability.SearchRequestsTotal.WithLabelValues("autocomplete", "miss").Inc()

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > max {
		suggestions = suggestions[:max]
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}

	if s.slow != nil {
		s.slow.Intercept(ctx, key, "autocomplete", duration, int64(len(suggestions)))
	}

	// Unlike search results, an empty suggestion list is cached too:
	// prefixes with no completions are common and repeated, and a
	// mutation invalidates autocomplete:* anyway.
	s.cacheStore(ctx, key, suggestions, s.ttl.Autocomplete)
	return suggestions, nil
}

// SimilarTo returns active documents textually similar to the given
// one, excluding the document itself.
func (s *Service) SimilarTo(ctx context.Context, id string, max int) (*models.SearchResult, error) {
	if id == "" {
		return nil, fmt.Errorf("document id required")
	}
	max = clamp(max, DefaultMaxSimilar, MaxSimilar)

	key := fmt.Sprintf("similar:%s:%d", id, max)

	start := time.Now()
	if cached, ok := s.cacheLookup(ctx, "similar", key); ok {
		var result models.SearchResult
		if err := json.Unmarshal(cached, &result); err == nil {
			observability.SearchRequestsTotal.WithLabelValues("similar", "hit").Inc()
			return &result, nil
		}
	}

	result, err := s.repo.MoreLikeThis(ctx, id, max)
	duration := time.Since(start)
	observability.SearchRequestDuration.WithLabelValues("similar").Observe(duration.Seconds())

	if err != nil {
		observability.SearchRequestsTotal.WithLabelValues("similar", "degraded").Inc()
		s.logger.Error("similar degraded to empty result",
			zap.String("event_id", id),
			zap.Error(err),
		)
		return emptyResult(1, max), nil
	}
	observability.SearchRequestsTotal.WithLabelValues("similar", "miss").Inc()

	if s.slow != nil {
		s.slow.Intercept(ctx, key, "similar", duration, result.TotalCount)
	}

	if result.TotalCount > 0 {
		s.cacheStore(ctx, key, result, s.ttl.Similar)
	}
	return result, nil
}

// Popular returns the most popular active documents, optionally
// restricted by category and city.
func (s *Service) Popular(ctx context.Context, category, city string, max int) (*models.SearchResult, error) {
	max = clamp(max, DefaultMaxPopular, MaxPopular)

	key := fmt.Sprintf("popular:%s:%s:%d", orAll(category), orAll(city), max)

	start := time.Now()
	if cached, ok := s.cacheLookup(ctx, "popular", key); ok {
		var result models.SearchResult
		if err := json.Unmarshal(cached, &result); err == nil {
			observability.SearchRequestsTotal.WithLabelValues("popular", "hit").Inc()
			return &result, nil
		}
	}

	query := &models.SearchQuery{
		Category:       category,
		City:           city,
		Page:           1,
		PageSize:       max,
		SortBy:         models.SortPopularity,
		SortDescending: true,
	}
	query.Normalize()

	result, err := s.repo.Search(ctx, query)
	duration := time.Since(start)
	observability.SearchRequestDuration.WithLabelValues("popular").Observe(duration.Seconds())

	if err != nil {
		observability.SearchRequestsTotal.WithLabelValues("popular", "degraded").Inc()
		s.logger.Error("popular degraded to empty result",
			zap.String("category", category),
			zap.String("city", city),
			zap.Error(err),
		)
		return emptyResult(1, max), nil
	}
	observability.SearchRequestsTotal.WithLabelValues("popular", "miss").Inc()

	if s.slow != nil {
		s.slow.Intercept(ctx, key, "popular", duration, result.TotalCount)
	}

	if result.TotalCount > 0 {
		s.cacheStore(ctx, key, result, s.ttl.Popular)
	}
	return result, nil
}

// cacheLookup returns (payload, true) on a hit. Errors count as
// misses so a degraded cache never blocks reads.
func (s *Service) cacheLookup(ctx context.Context, operation, key string) ([]byte, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed, falling through to engine",
			zap.String("key", key),
			zap.Error(err),
		)
		observability.CacheMisses.WithLabelValues(operation).Inc()
		return nil, false
	}
	if data == nil {
		observability.CacheMisses.WithLabelValues(operation).Inc()
		return nil, false
	}
	observability.CacheHits.WithLabelValues(operation).Inc()
	return data, true
}

func (s *Service) cacheStore(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// searchCacheKey builds a deterministic key from the normalized query.
// Normalize sorts tags, so tag order never changes the key.
func searchCacheKey(q *models.SearchQuery) string {
	parts := []string{
		strings.ToLower(q.SearchText),
		q.Category,
		q.City,
		q.Country,
		formatFloat(q.MinPrice),
		formatFloat(q.MaxPrice),
		formatTime(q.StartDate),
		formatTime(q.EndDate),
		strings.Join(q.Tags, ","),
		strconv.Itoa(q.Page),
		strconv.Itoa(q.PageSize),
		string(q.SortBy),
		strconv.FormatBool(q.SortDescending),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "search:" + fmt.Sprintf("%x", sum[:16])
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func emptyResult(page, pageSize int) *models.SearchResult {
	return &models.SearchResult{
		Items:    []models.EventDocument{},
		Page:     page,
		PageSize: pageSize,
	}
}
