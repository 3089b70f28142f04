package observability

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/models"
)

// PerformanceWriter persists slow-query records out of band.
type PerformanceWriter interface {
	WriteQueryPerformance(ctx context.Context, event *models.QueryPerformanceEvent) error
}

type SlowQueryDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	writer            PerformanceWriter
}

func NewSlowQueryDetector(warning, critical time.Duration, logger *zap.Logger, writer PerformanceWriter) *SlowQueryDetector {
	return &SlowQueryDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		writer:            writer,
	}
}

// Intercept records a query that exceeded the warning threshold. Fast
// queries return immediately with zero overhead.
func (sqd *SlowQueryDetector) Intercept(ctx context.Context, cacheKey, operation string, duration time.Duration, totalHits int64) {
	if duration <= sqd.warningThreshold {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := sqd.classifySeverity(duration)

	SlowQueryCounter.WithLabelValues(severity, operation).Inc()

	sqd.logger.Warn("slow query detected",
		zap.String("trace_id", traceID),
		zap.String("query_hash", hashQueryForLog(cacheKey)),
		zap.String("operation", operation),
		zap.Float64("duration_ms", float64(duration.Milliseconds())),
		zap.Int64("total_hits", totalHits),
		zap.String("severity", severity),
	)

	if sqd.writer == nil {
		return
	}

	event := &models.QueryPerformanceEvent{
		QueryHash:  hashQueryForLog(cacheKey),
		Operation:  operation,
		DurationMs: float64(duration.Milliseconds()),
		TotalHits:  totalHits,
		Timestamp:  time.Now().UTC(),
		TraceID:    traceID,
	}
	// Written asynchronously so it never blocks the response.
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sqd.writer.WriteQueryPerformance(writeCtx, event); err != nil {
			sqd.logger.Error("failed to write query analytics",
				zap.String("trace_id", traceID),
				zap.Error(err),
			)
		}
	}()
}

func (sqd *SlowQueryDetector) classifySeverity(d time.Duration) string {
	if d > sqd.criticalThreshold {
		return "critical"
	}
	return "warning"
}

func hashQueryForLog(q string) string {
	h := sha256.Sum256([]byte(q))
	return fmt.Sprintf("%x", h[:8])
}
