package config_test

import (
	"os"
	"testing"

	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/config"
	"github.com/arborlabs/kbackup/internal/timeslice"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_CONSUMER_GROUP",
		"STORAGE_BACKEND", "S3_BUCKET", "S3_PREFIX", "GCS_BUCKET", "GCS_PREFIX",
		"TIME_POLICY", "TIME_PERIOD_SECONDS", "TIME_CHRONO_UNIT",
		"COMPRESSION", "GZIP_LEVEL", "LEDGER_DATABASE_URL",
		"ADMIN_LISTEN_ADDR", "ADMIN_JWT_SECRET", "ADMIN_JWT_SCOPE",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestLoadFromEnvRequiresKafkaSettings(t *testing.T) {
	clearEnv(t)
	if _, err := config.LoadFromEnv(); err == nil {
		t.Fatalf("expected error when KAFKA_BROKERS/KAFKA_TOPIC are unset")
	}
}

func TestLoadFromEnvRejectsUnknownStorageBackend(t *testing.T) {
	clearEnv(t)
	os.Setenv("KAFKA_BROKERS", "localhost:9092")
	os.Setenv("KAFKA_TOPIC", "events")
	os.Setenv("STORAGE_BACKEND", "azure")

	if _, err := config.LoadFromEnv(); err == nil {
		t.Fatalf("expected error for an unsupported STORAGE_BACKEND")
	}
}

func TestLoadFromEnvDefaultsToChronoUnitSecond(t *testing.T) {
	clearEnv(t)
	os.Setenv("KAFKA_BROKERS", "localhost:9092")
	os.Setenv("KAFKA_TOPIC", "events")
	os.Setenv("STORAGE_BACKEND", "s3")
	os.Setenv("S3_BUCKET", "my-bucket")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	want := timeslice.ChronoUnitSlice{Unit: timeslice.UnitSecond}
	if cfg.TimePolicy != want {
		t.Fatalf("expected default policy %+v, got %+v", want, cfg.TimePolicy)
	}
	if cfg.Compression != compression.None {
		t.Fatalf("expected default compression None, got %v", cfg.Compression)
	}
	if cfg.AdminListenAddr != ":9090" {
		t.Fatalf("expected default admin listen addr :9090, got %q", cfg.AdminListenAddr)
	}
	if cfg.KafkaConsumerGroup != "kbackup" {
		t.Fatalf("expected default consumer group kbackup, got %q", cfg.KafkaConsumerGroup)
	}
}

func TestLoadFromEnvParsesPeriodFromFirst(t *testing.T) {
	clearEnv(t)
	os.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
	os.Setenv("KAFKA_TOPIC", "events")
	os.Setenv("STORAGE_BACKEND", "gcs")
	os.Setenv("GCS_BUCKET", "my-bucket")
	os.Setenv("TIME_POLICY", "period_from_first")
	os.Setenv("TIME_PERIOD_SECONDS", "30")
	os.Setenv("COMPRESSION", "gzip")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
	want := timeslice.PeriodFromFirst{Period: 30_000_000_000}
	if cfg.TimePolicy != want {
		t.Fatalf("expected period policy %+v, got %+v", want, cfg.TimePolicy)
	}
	if cfg.Compression != compression.Gzip {
		t.Fatalf("expected compression Gzip, got %v", cfg.Compression)
	}
}

func TestLoadFromEnvRejectsBadGzipLevel(t *testing.T) {
	clearEnv(t)
	os.Setenv("KAFKA_BROKERS", "localhost:9092")
	os.Setenv("KAFKA_TOPIC", "events")
	os.Setenv("STORAGE_BACKEND", "s3")
	os.Setenv("S3_BUCKET", "my-bucket")
	os.Setenv("GZIP_LEVEL", "not-a-number")

	if _, err := config.LoadFromEnv(); err == nil {
		t.Fatalf("expected error for a non-numeric GZIP_LEVEL")
	}
}
