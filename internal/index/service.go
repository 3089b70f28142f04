package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/cache"
	"github.com/shubhsaxena/event-search-service/internal/models"
	"github.com/shubhsaxena/event-search-service/internal/observability"
)

// Repository is the document store capability the index service
// mutates. Implemented by the Elasticsearch client.
type Repository interface {
	IndexDocument(ctx context.Context, doc *models.EventDocument) error
	UpdateDocument(ctx context.Context, doc *models.EventDocument) error
	BulkIndex(ctx context.Context, docs []models.EventDocument) error
	DeleteDocument(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// ChangelogWriter records applied index mutations for analytics.
type ChangelogWriter interface {
	InsertChangelogEntry(ctx context.Context, entry *models.ChangelogEntry) error
}

// Service applies document mutations and invalidates any cached reads
// the mutation could have made stale. Invalidation is best-effort:
// a failed invalidation is logged, the mutation itself stands, and
// cache TTLs bound the staleness window.
type Service struct {
	repo      Repository
	cache     cache.Store
	changelog ChangelogWriter
	logger    *zap.Logger
}

func NewService(repo Repository, store cache.Store, changelog ChangelogWriter, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     store,
		changelog: changelog,
		logger:    logger,
	}
}

// Upsert writes the full document. Writing the same document twice is
// a no-op for index state.
func (s *Service) Upsert(ctx context.Context, doc *models.EventDocument, version string) error {
	if doc.ID == "" {
		return fmt.Errorf("document id required")
	}

	if err := s.repo.IndexDocument(ctx, doc); err != nil {
		observability.IndexMutationsTotal.WithLabelValues("upsert", "error").Inc()
		return fmt.Errorf("upserting %s: %w", doc.ID, err)
	}
	observability.IndexMutationsTotal.WithLabelValues("upsert", "success").Inc()

	s.invalidate(ctx, documentPatterns(doc)...)
	s.recordChangelog(ctx, doc.ID, "created", version)
	return nil
}

// Update applies a partial document update, creating the document if
// it is absent.
func (s *Service) Update(ctx context.Context, doc *models.EventDocument, version string) error {
	if doc.ID == "" {
		return fmt.Errorf("document id required")
	}

	if err := s.repo.UpdateDocument(ctx, doc); err != nil {
		observability.IndexMutationsTotal.WithLabelValues("update", "error").Inc()
		return fmt.Errorf("updating %s: %w", doc.ID, err)
	}
	observability.IndexMutationsTotal.WithLabelValues("update", "success").Inc()

	s.invalidate(ctx, documentPatterns(doc)...)
	s.recordChangelog(ctx, doc.ID, "updated", version)
	return nil
}

// BulkUpsert indexes a batch in one round trip. Any item failure
// fails the whole batch and nothing is invalidated. Only the global
// patterns are cleared, once, not per document; per-id similarity
// entries age out via TTL.
func (s *Service) BulkUpsert(ctx context.Context, docs []models.EventDocument) error {
	if len(docs) == 0 {
		return nil
	}
	for i := range docs {
		if docs[i].ID == "" {
			return fmt.Errorf("document %d has no id", i)
		}
	}

	if err := s.repo.BulkIndex(ctx, docs); err != nil {
		observability.IndexMutationsTotal.WithLabelValues("bulk", "error").Inc()
		return fmt.Errorf("bulk upserting %d documents: %w", len(docs), err)
	}
	observability.IndexMutationsTotal.WithLabelValues("bulk", "success").Inc()

	s.invalidate(ctx, globalPatterns()...)

	for i := range docs {
		s.recordChangelog(ctx, docs[i].ID, "created", "")
	}
	return nil
}

// Delete removes the document and every cache entry derived from it.
// Deleting an absent document succeeds.
func (s *Service) Delete(ctx context.Context, id, version string) error {
	if id == "" {
		return fmt.Errorf("document id required")
	}

	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		observability.IndexMutationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	observability.IndexMutationsTotal.WithLabelValues("delete", "success").Inc()

	s.invalidate(ctx, append(globalPatterns(), similarPattern(id))...)
	s.recordChangelog(ctx, id, "deleted", version)
	return nil
}

func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("document id required")
	}
	return s.repo.Exists(ctx, id)
}

// globalPatterns covers the read operations any document mutation can
// stale: result sets, popularity listings and prefix completions.
func globalPatterns() []string {
	return []string{"search:*", "popular:*", "autocomplete:*"}
}

func similarPattern(id string) string {
	return "similar:" + id + ":*"
}

// documentPatterns adds the popular listings scoped to the
// document's category/city combination on top of the global set,
// mirroring the key shapes the search service writes.
func documentPatterns(doc *models.EventDocument) []string {
	patterns := append(globalPatterns(), similarPattern(doc.ID))
	if doc.Category != "" {
		patterns = append(patterns, "popular:"+doc.Category+":*")
	}
	if doc.City != "" {
		patterns = append(patterns, "popular:*:"+doc.City+":*")
	}
	if doc.Category != "" && doc.City != "" {
		patterns = append(patterns, "popular:"+doc.Category+":"+doc.City+":*")
	}
	return patterns
}

func (s *Service) invalidate(ctx context.Context, patterns ...string) {
	for _, pattern := range patterns {
		if err := s.cache.DeletePattern(ctx, pattern); err != nil {
			observability.CacheInvalidations.WithLabelValues("error").Inc()
			s.logger.Warn("cache invalidation failed",
				zap.String("pattern", pattern),
				zap.Error(err),
			)
			continue
		}
		observability.CacheInvalidations.WithLabelValues("success").Inc()
	}
}

func (s *Service) recordChangelog(ctx context.Context, id, operation, version string) {
	if s.changelog == nil {
		return
	}
	entry := &models.ChangelogEntry{
		EventID:   id,
		Operation: operation,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
	if err := s.changelog.InsertChangelogEntry(ctx, entry); err != nil {
		s.logger.Warn("changelog write failed",
			zap.String("event_id", id),
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
}
