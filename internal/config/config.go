package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Search        SearchConfig        `yaml:"search"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ElasticsearchConfig struct {
	Addresses      []string      `yaml:"addresses"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Index          string        `yaml:"index"`
	NumShards      int           `yaml:"num_shards"`
	NumReplicas    int           `yaml:"num_replicas"`
}

type RedisConfig struct {
	Addresses    []string       `yaml:"addresses"`
	Password     string         `yaml:"password"`
	DB           int            `yaml:"db"`
	PoolSize     int            `yaml:"pool_size"`
	MinIdleConns int            `yaml:"min_idle_conns"`
	DialTimeout  time.Duration  `yaml:"dial_timeout"`
	ReadTimeout  time.Duration  `yaml:"read_timeout"`
	WriteTimeout time.Duration  `yaml:"write_timeout"`
	TTL          CacheTTLConfig `yaml:"ttl"`
}

// CacheTTLConfig carries one expiration per read operation. Cache
// entries are best-effort; staleness after a missed invalidation is
// bounded by these values.
type CacheTTLConfig struct {
	SearchResults time.Duration `yaml:"search_results"`
	Autocomplete  time.Duration `yaml:"autocomplete"`
	Similar       time.Duration `yaml:"similar"`
	Popular       time.Duration `yaml:"popular"`
}

type ClickHouseConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Database     string        `yaml:"database"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
}

type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	TopicCreated      string        `yaml:"topic_created"`
	TopicUpdated      string        `yaml:"topic_updated"`
	TopicDeleted      string        `yaml:"topic_deleted"`
	TopicDLQ          string        `yaml:"topic_dlq"`
	ConsumerGroup     string        `yaml:"consumer_group"`
	OffsetReset       string        `yaml:"offset_reset"` // earliest or latest
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxPollInterval   time.Duration `yaml:"max_poll_interval"`
	FetchMinBytes     int           `yaml:"fetch_min_bytes"`
	FetchMaxWait      time.Duration `yaml:"fetch_max_wait"`
	MaxRetries        int           `yaml:"max_retries"`
}

// Topics returns the three subscribed topics in a fixed order.
func (k KafkaConfig) Topics() []string {
	return []string{k.TopicCreated, k.TopicUpdated, k.TopicDeleted}
}

type SearchConfig struct {
	QueryTimeout   time.Duration        `yaml:"query_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	SlowQuery      SlowQueryConfig      `yaml:"slow_query"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

type SlowQueryConfig struct {
	WarningThreshold  time.Duration `yaml:"warning_threshold"`
	CriticalThreshold time.Duration `yaml:"critical_threshold"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	ServiceName string `yaml:"service_name"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:      []string{"http://localhost:9200"},
			MaxRetries:     3,
			RequestTimeout: 500 * time.Millisecond,
			Index:          "events",
			NumShards:      1,
			NumReplicas:    0,
		},
		Redis: RedisConfig{
			Addresses:    []string{"localhost:6379"},
			PoolSize:     100,
			MinIdleConns: 10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
			TTL: CacheTTLConfig{
				SearchResults: 5 * time.Minute,
				Autocomplete:  2 * time.Minute,
				Similar:       15 * time.Minute,
				Popular:       10 * time.Minute,
			},
		},
		ClickHouse: ClickHouseConfig{
			Addresses:    []string{"localhost:9000"},
			Database:     "event_search",
			DialTimeout:  5 * time.Second,
			QueryTimeout: 2 * time.Second,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			TopicCreated:      "event-created",
			TopicUpdated:      "event-updated",
			TopicDeleted:      "event-deleted",
			TopicDLQ:          "event-search-dlq",
			ConsumerGroup:     "event-search-indexer",
			OffsetReset:       "earliest",
			SessionTimeout:    6 * time.Second,
			HeartbeatInterval: 3 * time.Second,
			MaxPollInterval:   5 * time.Minute,
			FetchMinBytes:     1024,
			FetchMaxWait:      500 * time.Millisecond,
			MaxRetries:        3,
		},
		Search: SearchConfig{
			QueryTimeout: 2 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      100,
				Interval:         30 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 2,
				InitialWait: 50 * time.Millisecond,
				MaxWait:     500 * time.Millisecond,
				Multiplier:  2.0,
			},
			SlowQuery: SlowQueryConfig{
				WarningThreshold:  200 * time.Millisecond,
				CriticalThreshold: 500 * time.Millisecond,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			ServiceName: "event-search",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("at least one elasticsearch address required")
	}
	if c.Elasticsearch.Index == "" {
		return fmt.Errorf("elasticsearch index name required")
	}
	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("at least one redis address required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker required")
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("kafka consumer group required")
	}
	if c.Kafka.OffsetReset != "earliest" && c.Kafka.OffsetReset != "latest" {
		return fmt.Errorf("kafka offset reset must be earliest or latest, got %q", c.Kafka.OffsetReset)
	}
	for _, topic := range c.Kafka.Topics() {
		if topic == "" {
			return fmt.Errorf("all kafka event topics must be set")
		}
	}
	return nil
}
