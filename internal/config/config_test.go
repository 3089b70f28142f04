package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Elasticsearch.Index != "events" {
		t.Errorf("index = %q, want default events", cfg.Elasticsearch.Index)
	}
	if cfg.Redis.TTL.SearchResults != 5*time.Minute {
		t.Errorf("search ttl = %v, want 5m", cfg.Redis.TTL.SearchResults)
	}
	if cfg.Kafka.ConsumerGroup != "event-search-indexer" {
		t.Errorf("consumer group = %q", cfg.Kafka.ConsumerGroup)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_ES_INDEX", "events-staging")
	path := writeConfig(t, "elasticsearch:\n  index: ${TEST_ES_INDEX}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Elasticsearch.Index != "events-staging" {
		t.Errorf("index = %q, want events-staging", cfg.Elasticsearch.Index)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, "kafka:\n  session_timeout: 12s\n  fetch_max_wait: 250ms\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kafka.SessionTimeout != 12*time.Second {
		t.Errorf("session timeout = %v, want 12s", cfg.Kafka.SessionTimeout)
	}
	if cfg.Kafka.FetchMaxWait != 250*time.Millisecond {
		t.Errorf("fetch max wait = %v, want 250ms", cfg.Kafka.FetchMaxWait)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"no es addresses", func(c *Config) { c.Elasticsearch.Addresses = nil }},
		{"no index", func(c *Config) { c.Elasticsearch.Index = "" }},
		{"no redis addresses", func(c *Config) { c.Redis.Addresses = nil }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"no consumer group", func(c *Config) { c.Kafka.ConsumerGroup = "" }},
		{"bad offset reset", func(c *Config) { c.Kafka.OffsetReset = "newest" }},
		{"empty topic", func(c *Config) { c.Kafka.TopicUpdated = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTopicsOrder(t *testing.T) {
	cfg := DefaultConfig()
	topics := cfg.Kafka.Topics()
	want := []string{"event-created", "event-updated", "event-deleted"}
	for i, topic := range want {
		if topics[i] != topic {
			t.Errorf("topics[%d] = %q, want %q", i, topics[i], topic)
		}
	}
}
