package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/config"
	"github.com/shubhsaxena/event-search-service/internal/models"
)

// Client writes analytics records: slow-query performance events and
// the index mutation changelog. Both writes are best-effort from the
// caller's point of view; the serving path never depends on them.
type Client struct {
	conn   driver.Conn
	cfg    config.ClickHouseConfig
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse connected",
		zap.Strings("addresses", cfg.Addresses),
		zap.String("database", cfg.Database),
	)

	return &Client{conn: conn, cfg: cfg, logger: logger}, nil
}

// EnsureTables creates the analytics tables. Safe to call repeatedly.
func (c *Client) EnsureTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS query_performance (
			query_hash   String,
			operation    LowCardinality(String),
			duration_ms  Float64,
			total_hits   Int64,
			timed_out    UInt8,
			trace_id     String,
			timestamp    DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (operation, timestamp)
		TTL toDateTime(timestamp) + INTERVAL 90 DAY`,

		`CREATE TABLE IF NOT EXISTS events_changelog (
			event_id   String,
			operation  LowCardinality(String),
			version    String,
			timestamp  DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (event_id, timestamp)
		TTL toDateTime(timestamp) + INTERVAL 180 DAY`,
	}

	for _, stmt := range ddl {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating analytics table: %w", err)
		}
	}
	return nil
}

func (c *Client) WriteQueryPerformance(ctx context.Context, event *models.QueryPerformanceEvent) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	timedOut := uint8(0)
	if event.TimedOut {
		timedOut = 1
	}

	err := c.conn.Exec(ctx,
		`INSERT INTO query_performance
			(query_hash, operation, duration_ms, total_hits, timed_out, trace_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.QueryHash,
		event.Operation,
		event.DurationMs,
		event.TotalHits,
		timedOut,
		event.TraceID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting query performance record: %w", err)
	}
	return nil
}

func (c *Client) InsertChangelogEntry(ctx context.Context, entry *models.ChangelogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	err := c.conn.Exec(ctx,
		`INSERT INTO events_changelog (event_id, operation, version, timestamp)
		VALUES (?, ?, ?, ?)`,
		entry.EventID,
		entry.Operation,
		entry.Version,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting changelog entry: %w", err)
	}
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
