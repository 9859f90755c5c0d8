package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kafka.TopicRaw != "orders.raw" || cfg.Kafka.TopicEnriched != "orders.out" {
		t.Fatalf("unexpected topic defaults: %+v", cfg.Kafka)
	}
	if cfg.Gateway.AckTimeout != 3*time.Second {
		t.Fatalf("ack timeout default should be 3s, got %s", cfg.Gateway.AckTimeout)
	}
	if cfg.Enrich.BaseCurrency != "IDR" {
		t.Fatalf("base currency default should be IDR, got %s", cfg.Enrich.BaseCurrency)
	}
	if cfg.Stage.MaxAttempts != 3 {
		t.Fatalf("max attempts default should be 3, got %d", cfg.Stage.MaxAttempts)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
kafka:
  bootstrap: broker:9092
  topic_raw: test.orders
gateway:
  ack_timeout: 500ms
enrich:
  base_currency: USD
  threshold: 2000
  rates:
    USD: 1
    IDR: 0.0000625
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kafka.Bootstrap != "broker:9092" || cfg.Kafka.TopicRaw != "test.orders" {
		t.Fatalf("file values not applied: %+v", cfg.Kafka)
	}
	if cfg.Gateway.AckTimeout != 500*time.Millisecond {
		t.Fatalf("duration not decoded: %s", cfg.Gateway.AckTimeout)
	}
	if cfg.Enrich.BaseCurrency != "USD" {
		t.Fatalf("base currency not applied: %s", cfg.Enrich.BaseCurrency)
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Gateway.AckTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero ack timeout should be rejected")
	}

	cfg = base()
	cfg.Enrich.Threshold = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative threshold should be rejected")
	}

	cfg = base()
	cfg.Enrich.Rates = map[string]float64{"USD": 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing base currency entry should be rejected")
	}

	cfg = base()
	cfg.Stage.DeadLetterSink = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown dead letter sink should be rejected")
	}
}

func TestRateTableAndThreshold(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	table, err := cfg.RateTable()
	if err != nil {
		t.Fatalf("RateTable: %v", err)
	}
	code, rate := table.Resolve("usd")
	if code != "USD" || !rate.Equal(decimal.NewFromInt(16000)) {
		t.Fatalf("unexpected resolution: %s %s", code, rate)
	}
	if !cfg.Threshold().Equal(decimal.NewFromInt(1000000)) {
		t.Fatalf("unexpected threshold: %s", cfg.Threshold())
	}
}
