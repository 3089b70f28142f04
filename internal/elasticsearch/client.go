package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/config"
	"github.com/shubhsaxena/event-search-service/internal/models"
	"github.com/shubhsaxena/event-search-service/internal/observability"
	"github.com/shubhsaxena/event-search-service/internal/resilience"
)

// Client adapts Elasticsearch to the repository capability interfaces
// consumed by the index and search services. Read queries run behind a
// circuit breaker with bounded retry; writes surface errors directly
// so the caller can withhold offset commits.
type Client struct {
	es       *elasticsearch.Client
	cb       *gobreaker.CircuitBreaker
	cfg      config.ElasticsearchConfig
	retryCfg resilience.RetryConfig
	logger   *zap.Logger
}

func NewClient(cfg config.ElasticsearchConfig, searchCfg config.SearchConfig, logger *zap.Logger) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := es.Ping()
	if err != nil {
		return nil, fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch ping returned status: %s", res.Status())
	}

	cb := resilience.NewCircuitBreaker("elasticsearch", searchCfg.CircuitBreaker, logger)

	logger.Info("elasticsearch client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		es:  es,
		cb:  cb,
		cfg: cfg,
		retryCfg: resilience.RetryConfig{
			MaxAttempts: searchCfg.Retry.MaxAttempts,
			InitialWait: searchCfg.Retry.InitialWait,
			MaxWait:     searchCfg.Retry.MaxWait,
			Multiplier:  searchCfg.Retry.Multiplier,
		},
		logger: logger,
	}, nil
}

// Search runs a filtered relevance query with facet aggregations.
func (c *Client) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "es.search",
		attribute.String("es.index", c.cfg.Index),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.guardedSearch(ctx, buildSearchBody(query))
	c.observe("search", start, err)
	if err != nil {
		return nil, fmt.Errorf("es search: %w", err)
	}

	items := make([]models.EventDocument, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		items = append(items, h.Source)
	}

	return &models.SearchResult{
		Items:        items,
		TotalCount:   resp.Hits.Total.Value,
		Page:         query.Page,
		PageSize:     query.PageSize,
		SearchTimeMs: time.Since(start).Milliseconds(),
		Facets:       extractFacets(resp.Aggregations),
	}, nil
}

// Suggest returns completion suggestions for a prefix across event
// titles, categories and cities. The merged list is unsorted; the
// search service ranks and truncates it.
func (c *Client) Suggest(ctx context.Context, prefix string, size int) ([]models.Suggestion, error) {
	ctx, span := observability.StartSpan(ctx, "es.suggest")
	defer span.End()

	start := time.Now()
	resp, err := c.guardedSearch(ctx, buildSuggestBody(prefix, size))
	c.observe("suggest", start, err)
	if err != nil {
		return nil, fmt.Errorf("es suggest: %w", err)
	}

	suggestTypes := map[string]string{
		"event_suggest":    "event",
		"category_suggest": "category",
		"location_suggest": "location",
	}

	var suggestions []models.Suggestion
	for name, kind := range suggestTypes {
		for _, entry := range resp.Suggest[name] {
			for _, opt := range entry.Options {
				suggestions = append(suggestions, models.Suggestion{
					Text:  opt.Text,
					Type:  kind,
					Score: opt.Score,
				})
			}
		}
	}
	return suggestions, nil
}

// MoreLikeThis finds active documents similar to the given id,
// excluding the source document itself.
func (c *Client) MoreLikeThis(ctx context.Context, id string, size int) (*models.SearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "es.more_like_this",
		attribute.String("es.document_id", id),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.guardedSearch(ctx, buildMoreLikeThisBody(c.cfg.Index, id, size))
	c.observe("more_like_this", start, err)
	if err != nil {
		return nil, fmt.Errorf("es more-like-this: %w", err)
	}

	items := make([]models.EventDocument, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		items = append(items, h.Source)
	}

	return &models.SearchResult{
		Items:        items,
		TotalCount:   resp.Hits.Total.Value,
		Page:         1,
		PageSize:     size,
		SearchTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// IndexDocument writes a document under its id. Writing the same
// document twice leaves the index in the same state.
func (c *Client) IndexDocument(ctx context.Context, doc *models.EventDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document %s: %w", doc.ID, err)
	}

	res, err := c.es.Index(
		c.cfg.Index,
		bytes.NewReader(body),
		c.es.Index.WithDocumentID(doc.ID),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("indexing document %s: %w", doc.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing document %s: %s", doc.ID, responseError(res.Body, res.Status()))
	}
	return nil
}

// UpdateDocument applies a partial update, creating the document when
// it does not exist yet (doc_as_upsert).
func (c *Client) UpdateDocument(ctx context.Context, doc *models.EventDocument) error {
	body, err := json.Marshal(map[string]any{
		"doc":           doc,
		"doc_as_upsert": true,
	})
	if err != nil {
		return fmt.Errorf("marshaling update for %s: %w", doc.ID, err)
	}

	res, err := c.es.Update(
		c.cfg.Index,
		doc.ID,
		bytes.NewReader(body),
		c.es.Update.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", doc.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("updating document %s: %s", doc.ID, responseError(res.Body, res.Status()))
	}
	return nil
}

// BulkIndex writes all documents in one bulk request. Any item-level
// failure fails the whole batch.
func (c *Client) BulkIndex(ctx context.Context, docs []models.EventDocument) error {
	if len(docs) == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "es.bulk_index",
		attribute.Int("batch_size", len(docs)),
	)
	defer span.End()

	var buf bytes.Buffer
	for i := range docs {
		meta, err := json.Marshal(map[string]any{
			"index": map[string]any{"_index": c.cfg.Index, "_id": docs[i].ID},
		})
		if err != nil {
			return fmt.Errorf("marshaling bulk meta: %w", err)
		}
		buf.Write(meta)
		buf.WriteByte('\n')

		body, err := json.Marshal(&docs[i])
		if err != nil {
			return fmt.Errorf("marshaling bulk body for %s: %w", docs[i].ID, err)
		}
		buf.Write(body)
		buf.WriteByte('\n')
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk request: %s", responseError(res.Body, res.Status()))
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}

	if bulkResp.Errors {
		var errMsgs []string
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Error != nil {
					errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s", result.ID, result.Error.Reason))
				}
			}
		}
		return fmt.Errorf("bulk indexing had errors: %s", strings.Join(errMsgs, "; "))
	}

	return nil
}

// DeleteDocument removes a document. Deleting a missing document is a
// no-op so redelivered delete events stay idempotent.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.es.Delete(
		c.cfg.Index,
		id,
		c.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("deleting document %s: %s", id, responseError(res.Body, res.Status()))
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	res, err := c.es.Exists(
		c.cfg.Index,
		id,
		c.es.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("checking document %s: %w", id, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("checking document %s: unexpected status %s", id, res.Status())
	}
}

// EnsureIndex creates the index with its analyzer and completion
// mapping. Safe to call repeatedly; an existing index is left alone.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists(
		[]string{c.cfg.Index},
		c.es.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", c.cfg.Index, err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(indexDefinition(c.cfg.NumShards, c.cfg.NumReplicas))
	if err != nil {
		return fmt.Errorf("marshaling index definition: %w", err)
	}

	createRes, err := c.es.Indices.Create(
		c.cfg.Index,
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", c.cfg.Index, err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("creating index %s: %s", c.cfg.Index, responseError(createRes.Body, createRes.Status()))
	}

	c.logger.Info("elasticsearch index created", zap.String("index", c.cfg.Index))
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	res, err := c.es.Cluster.Health(
		c.es.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return "red", fmt.Errorf("es health check: %w", err)
	}
	defer res.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return "red", fmt.Errorf("decoding health response: %w", err)
	}
	return health.Status, nil
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) guardedSearch(ctx context.Context, body map[string]any) (*esSearchResponse, error) {
	result, err := c.cb.Execute(func() (any, error) {
		var resp *esSearchResponse
		retryErr := resilience.Retry(ctx, c.retryCfg, func() error {
			var execErr error
			resp, execErr = c.executeSearch(ctx, body)
			return execErr
		})
		return resp, retryErr
	})
	if err != nil {
		return nil, err
	}

	resp, ok := result.(*esSearchResponse)
	if !ok || resp == nil {
		return nil, fmt.Errorf("unexpected nil result from circuit breaker")
	}
	return resp, nil
}

func (c *Client) executeSearch(ctx context.Context, body map[string]any) (*esSearchResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling es query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.cfg.Index),
		c.es.Search.WithBody(bytes.NewReader(data)),
		c.es.Search.WithTimeout(c.cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("executing es search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("es search: %s", responseError(res.Body, res.Status()))
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("decoding es response: %w", err)
	}
	return &esResp, nil
}

func (c *Client) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.ESQueryDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

func responseError(body io.Reader, status string) string {
	data, _ := io.ReadAll(body)
	return fmt.Sprintf("status=%s body=%s", status, string(data))
}

func indexDefinition(shards, replicas int) map[string]any {
	keywordWithSuggest := map[string]any{
		"type": "keyword",
		"fields": map[string]any{
			"suggest": map[string]any{"type": "completion"},
		},
	}

	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
			"analysis": map[string]any{
				"analyzer": map[string]any{
					"event_analyzer": map[string]any{
						"type":      "custom",
						"tokenizer": "standard",
						"filter":    []string{"lowercase", "stop", "snowball"},
					},
				},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id": map[string]any{"type": "keyword"},
				"title": map[string]any{
					"type":     "text",
					"analyzer": "event_analyzer",
					"fields": map[string]any{
						"suggest": map[string]any{"type": "completion"},
						"keyword": map[string]any{"type": "keyword"},
					},
				},
				"description": map[string]any{
					"type":     "text",
					"analyzer": "event_analyzer",
				},
				"category":         keywordWithSuggest,
				"city":             keywordWithSuggest,
				"country":          map[string]any{"type": "keyword"},
				"venue":            map[string]any{"type": "keyword"},
				"location":         map[string]any{"type": "text"},
				"organizer":        map[string]any{"type": "keyword"},
				"tags":             map[string]any{"type": "keyword"},
				"price":            map[string]any{"type": "double"},
				"popularity":       map[string]any{"type": "double"},
				"viewCount":        map[string]any{"type": "integer"},
				"bookingCount":     map[string]any{"type": "integer"},
				"averageRating":    map[string]any{"type": "double"},
				"ratingCount":      map[string]any{"type": "integer"},
				"availableTickets": map[string]any{"type": "integer"},
				"startDate":        map[string]any{"type": "date"},
				"endDate":          map[string]any{"type": "date"},
				"createdAt":        map[string]any{"type": "date"},
				"updatedAt":        map[string]any{"type": "date"},
				"isActive":         map[string]any{"type": "boolean"},
			},
		},
	}
}

// Response types.

type esSearchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []esHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage  `json:"aggregations"`
	Suggest      map[string][]esSuggestEntry `json:"suggest"`
}

type esHit struct {
	ID     string               `json:"_id"`
	Score  float64              `json:"_score"`
	Source models.EventDocument `json:"_source"`
}

type esSuggestEntry struct {
	Text    string `json:"text"`
	Options []struct {
		Text  string  `json:"text"`
		Score float64 `json:"_score"`
	} `json:"options"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

type termsAggregation struct {
	Buckets []struct {
		Key      string `json:"key"`
		DocCount int64  `json:"doc_count"`
	} `json:"buckets"`
}

type keyedRangeAggregation struct {
	Buckets map[string]struct {
		DocCount int64 `json:"doc_count"`
	} `json:"buckets"`
}

func extractFacets(aggs map[string]json.RawMessage) *models.SearchFacets {
	if len(aggs) == 0 {
		return nil
	}

	facets := &models.SearchFacets{
		Categories: termCounts(aggs["categories"]),
		Cities:     termCounts(aggs["cities"]),
		Countries:  termCounts(aggs["countries"]),
		Tags:       termCounts(aggs["tags"]),
	}

	if raw, ok := aggs["price_ranges"]; ok {
		var ranges keyedRangeAggregation
		if err := json.Unmarshal(raw, &ranges); err == nil {
			facets.PriceRanges = models.PriceRangeFacet{
				Under25:      ranges.Buckets["under_25"].DocCount,
				From25To50:   ranges.Buckets["25_to_50"].DocCount,
				From50To100:  ranges.Buckets["50_to_100"].DocCount,
				From100To200: ranges.Buckets["100_to_200"].DocCount,
				Over200:      ranges.Buckets["over_200"].DocCount,
			}
		}
	}

	return facets
}

func termCounts(raw json.RawMessage) map[string]int64 {
	counts := make(map[string]int64)
	if len(raw) == 0 {
		return counts
	}
	var agg termsAggregation
	if err := json.Unmarshal(raw, &agg); err != nil {
		return counts
	}
	for _, b := range agg.Buckets {
		counts[b.Key] = b.DocCount
	}
	return counts
}
