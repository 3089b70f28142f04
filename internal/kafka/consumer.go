package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/config"
	"github.com/shubhsaxena/event-search-service/internal/models"
	"github.com/shubhsaxena/event-search-service/internal/observability"
	"github.com/shubhsaxena/event-search-service/internal/resilience"
)

// Handler projects decoded domain events onto the index. Implemented
// by the indexing processor.
type Handler interface {
	HandleCreated(ctx context.Context, msg *models.EventCreatedMessage) error
	HandleUpdated(ctx context.Context, msg *models.EventUpdatedMessage) error
	HandleDeleted(ctx context.Context, msg *models.EventDeletedMessage) error
}

// deadLetterWriter is the slice of kafka.Writer the consumer needs.
type deadLetterWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer runs one fetch-process-commit loop per subscribed topic.
// Offsets are committed only after the message has landed somewhere,
// giving at-least-once delivery; the handler must be idempotent.
// Undecodable messages and messages whose processing keeps failing
// after bounded retries are routed to the dead-letter topic before
// their offset commits, so no event is ever skipped. Fetching past a
// failed offset and then committing a later one would silently drop
// it, so when even the dead-letter write fails the partition loop
// holds on the same message instead of fetching the next.
type Consumer struct {
	cfg      config.KafkaConfig
	handler  Handler
	logger   *zap.Logger
	readers  map[string]*kafka.Reader
	dlq      deadLetterWriter
	retryCfg resilience.RetryConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(cfg config.KafkaConfig, handler Handler, logger *zap.Logger) *Consumer {
	startOffset := kafka.FirstOffset
	if cfg.OffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}

	readers := make(map[string]*kafka.Reader, 3)
	for _, topic := range cfg.Topics() {
		readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:           cfg.Brokers,
			GroupID:           cfg.ConsumerGroup,
			Topic:             topic,
			StartOffset:       startOffset,
			MinBytes:          cfg.FetchMinBytes,
			MaxBytes:          10 << 20,
			MaxWait:           cfg.FetchMaxWait,
			SessionTimeout:    cfg.SessionTimeout,
			HeartbeatInterval: cfg.HeartbeatInterval,
			RebalanceTimeout:  cfg.MaxPollInterval,
			CommitInterval:    0, // commits are explicit
		})
	}

	dlq := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicDLQ,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	return &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		readers: readers,
		dlq:     dlq,
		retryCfg: resilience.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			InitialWait: 200 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Multiplier:  2.0,
		},
	}
}

// Start launches one consume loop per topic and returns immediately.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.consumeLoop(ctx, topic, reader)
	}

	c.logger.Info("kafka consumer started",
		zap.Strings("topics", c.cfg.Topics()),
		zap.String("group", c.cfg.ConsumerGroup),
	)
}

// Stop cancels the loops, waits for in-flight messages to drain and
// closes the readers. No offsets are committed after Stop returns.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var firstErr error
	for topic, reader := range c.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing reader for %s: %w", topic, err)
		}
	}
	if err := c.dlq.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing dlq writer: %w", err)
	}

	c.logger.Info("kafka consumer stopped")
	return firstErr
}

func (c *Consumer) consumeLoop(ctx context.Context, topic string, reader *kafka.Reader) {
	defer c.wg.Done()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch failed",
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}

		observability.ConsumerLag.WithLabelValues(topic).Set(float64(reader.Lag()))

		// processMessage only errors when the message could not be
		// placed anywhere (index or dead letter). Fetching the next
		// message and later committing it would commit this offset
		// too, dropping the event, so the loop holds here.
		for c.processMessage(ctx, topic, msg) != nil {
			observability.ConsumedEventsTotal.WithLabelValues(topic, "error").Inc()
			c.logger.Error("message could not be processed or dead-lettered, holding partition",
				zap.String("topic", topic),
				zap.Int64("offset", msg.Offset),
				zap.String("key", string(msg.Key)),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryCfg.MaxWait):
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("offset commit failed",
				zap.String("topic", topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
	}
}

// processMessage decodes and projects one message. Decode failures go
// straight to the dead-letter topic; handler failures are retried
// with backoff and dead-lettered once retries are exhausted. A nil
// return means the offset is safe to commit; an error means the
// message is still unplaced and must not be committed past.
func (c *Consumer) processMessage(ctx context.Context, topic string, msg kafka.Message) error {
	handle, err := c.decode(topic, msg.Value)
	if err != nil {
		c.logger.Warn("undecodable message routed to dead letter",
			zap.String("topic", topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return c.deadLetter(ctx, topic, msg, err)
	}

	err = resilience.Retry(ctx, c.retryCfg, func() error {
		return handle(ctx)
	})
	if err == nil {
		observability.ConsumedEventsTotal.WithLabelValues(topic, "success").Inc()
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.logger.Error("processing exhausted retries, routing to dead letter",
		zap.String("topic", topic),
		zap.Int64("offset", msg.Offset),
		zap.String("key", string(msg.Key)),
		zap.Error(err),
	)
	return c.deadLetter(ctx, topic, msg, err)
}

func (c *Consumer) decode(topic string, value []byte) (func(context.Context) error, error) {
	switch topic {
	case c.cfg.TopicCreated:
		var msg models.EventCreatedMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return nil, fmt.Errorf("decoding created event: %w", err)
		}
		if msg.EventID == "" {
			return nil, fmt.Errorf("created event missing eventId")
		}
		return func(ctx context.Context) error { return c.handler.HandleCreated(ctx, &msg) }, nil

	case c.cfg.TopicUpdated:
		var msg models.EventUpdatedMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return nil, fmt.Errorf("decoding updated event: %w", err)
		}
		if msg.EventID == "" {
			return nil, fmt.Errorf("updated event missing eventId")
		}
		return func(ctx context.Context) error { return c.handler.HandleUpdated(ctx, &msg) }, nil

	case c.cfg.TopicDeleted:
		var msg models.EventDeletedMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return nil, fmt.Errorf("decoding deleted event: %w", err)
		}
		if msg.EventID == "" {
			return nil, fmt.Errorf("deleted event missing eventId")
		}
		return func(ctx context.Context) error { return c.handler.HandleDeleted(ctx, &msg) }, nil

	default:
		return nil, fmt.Errorf("message from unsubscribed topic %s", topic)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, origin string, msg kafka.Message, cause error) error {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "origin-topic", Value: []byte(origin)},
			{Key: "origin-offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			{Key: "failure-reason", Value: []byte(cause.Error())},
		},
	}
	if err := c.dlq.WriteMessages(ctx, dlqMsg); err != nil {
		return fmt.Errorf("writing to dead letter topic: %w", err)
	}
	observability.ConsumedEventsTotal.WithLabelValues(origin, "dead_letter").Inc()
	return nil
}

// HealthCheck dials the brokers; any reachable broker counts as
// healthy.
func (c *Consumer) HealthCheck(ctx context.Context) error {
	var lastErr error
	for _, broker := range c.cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}
