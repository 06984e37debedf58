// Package config is a minimal environment-backed configuration loader used
// by cmd/backup, in the same shape as the teacher's kernel/internal/config
// (LoadFromEnv reading os.Getenv with permissive strconv parsing and
// sensible defaults, no external config library).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/timeslice"
)

// StorageBackend selects which object-storage adapter cmd/backup wires up.
type StorageBackend string

const (
	BackendS3  StorageBackend = "s3"
	BackendGCS StorageBackend = "gcs"
)

// Config holds every runtime value cmd/backup needs, one struct per the
// teacher's convention of a single flat Config rather than nested
// per-subsystem structs.
type Config struct {
	// Kafka source
	KafkaBrokers       []string // KAFKA_BROKERS (comma-separated)
	KafkaTopic         string   // KAFKA_TOPIC
	KafkaConsumerGroup string   // KAFKA_CONSUMER_GROUP

	// Storage backend selection
	StorageBackend StorageBackend // STORAGE_BACKEND (s3|gcs)
	S3Bucket       string         // S3_BUCKET
	S3Prefix       string         // S3_PREFIX
	GCSBucket      string         // GCS_BUCKET
	GCSPrefix      string         // GCS_PREFIX

	// Time-bucketing policy
	TimePolicy        timeslice.Policy
	TimePeriodSeconds int    // TIME_PERIOD_SECONDS (PeriodFromFirst)
	TimeChronoUnit    string // TIME_CHRONO_UNIT (second|minute|hour|day)

	// Compression
	Compression compression.Kind // COMPRESSION (none|gzip)
	GzipLevel   compression.Level

	// Run ledger (optional)
	LedgerDatabaseURL string // LEDGER_DATABASE_URL

	// Admin surface
	AdminListenAddr string // ADMIN_LISTEN_ADDR (default :9090)
	AdminJWTSecret  string // ADMIN_JWT_SECRET
	AdminJWTScope   string // ADMIN_JWT_SCOPE (default backup:admin)
}

// LoadFromEnv reads every Config field from its environment variable,
// validates the combination, and returns an error describing the first
// missing or malformed setting rather than panicking deep in main.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		KafkaBrokers:       splitCommaList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         os.Getenv("KAFKA_TOPIC"),
		KafkaConsumerGroup: os.Getenv("KAFKA_CONSUMER_GROUP"),

		StorageBackend: StorageBackend(strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_BACKEND")))),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Prefix:       os.Getenv("S3_PREFIX"),
		GCSBucket:      os.Getenv("GCS_BUCKET"),
		GCSPrefix:      os.Getenv("GCS_PREFIX"),

		TimeChronoUnit: strings.ToLower(strings.TrimSpace(os.Getenv("TIME_CHRONO_UNIT"))),

		LedgerDatabaseURL: os.Getenv("LEDGER_DATABASE_URL"),

		AdminListenAddr: os.Getenv("ADMIN_LISTEN_ADDR"),
		AdminJWTSecret:  os.Getenv("ADMIN_JWT_SECRET"),
		AdminJWTScope:   os.Getenv("ADMIN_JWT_SCOPE"),
	}

	if cfg.AdminListenAddr == "" {
		cfg.AdminListenAddr = ":9090"
	}
	if cfg.AdminJWTScope == "" {
		cfg.AdminJWTScope = "backup:admin"
	}

	if cfg.KafkaTopic == "" || len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("config: KAFKA_BROKERS and KAFKA_TOPIC are required")
	}
	if cfg.KafkaConsumerGroup == "" {
		cfg.KafkaConsumerGroup = "kbackup"
	}

	switch cfg.StorageBackend {
	case BackendS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("config: S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	case BackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("config: GCS_BUCKET is required when STORAGE_BACKEND=gcs")
		}
	default:
		return nil, fmt.Errorf("config: STORAGE_BACKEND must be %q or %q, got %q", BackendS3, BackendGCS, cfg.StorageBackend)
	}

	policy, periodSeconds, err := loadTimePolicy(cfg.TimeChronoUnit, os.Getenv("TIME_POLICY"), os.Getenv("TIME_PERIOD_SECONDS"))
	if err != nil {
		return nil, err
	}
	cfg.TimePolicy = policy
	cfg.TimePeriodSeconds = periodSeconds

	kind, level, err := loadCompression(os.Getenv("COMPRESSION"), os.Getenv("GZIP_LEVEL"))
	if err != nil {
		return nil, err
	}
	cfg.Compression = kind
	cfg.GzipLevel = level

	return cfg, nil
}

func loadTimePolicy(chronoUnit, timePolicy, periodSecondsStr string) (timeslice.Policy, int, error) {
	switch strings.ToLower(strings.TrimSpace(timePolicy)) {
	case "", "chrono_unit":
		unit, err := parseChronoUnit(chronoUnit)
		if err != nil {
			return nil, 0, err
		}
		return timeslice.ChronoUnitSlice{Unit: unit}, 0, nil
	case "period_from_first":
		seconds := 60
		if periodSecondsStr != "" {
			n, err := strconv.Atoi(periodSecondsStr)
			if err != nil || n <= 0 {
				return nil, 0, fmt.Errorf("config: TIME_PERIOD_SECONDS must be a positive integer, got %q", periodSecondsStr)
			}
			seconds = n
		}
		return timeslice.PeriodFromFirst{Period: time.Duration(seconds) * time.Second}, seconds, nil
	default:
		return nil, 0, fmt.Errorf("config: TIME_POLICY must be %q or %q, got %q", "chrono_unit", "period_from_first", timePolicy)
	}
}

func parseChronoUnit(unit string) (timeslice.ChronoUnit, error) {
	switch unit {
	case "", "second":
		return timeslice.UnitSecond, nil
	case "minute":
		return timeslice.UnitMinute, nil
	case "hour":
		return timeslice.UnitHour, nil
	case "day":
		return timeslice.UnitDay, nil
	default:
		return 0, fmt.Errorf("config: TIME_CHRONO_UNIT must be one of second|minute|hour|day, got %q", unit)
	}
}

func loadCompression(kindStr, levelStr string) (compression.Kind, compression.Level, error) {
	level := compression.DefaultLevel
	if levelStr != "" {
		n, err := strconv.Atoi(levelStr)
		if err != nil {
			return 0, 0, fmt.Errorf("config: GZIP_LEVEL must be an integer, got %q", levelStr)
		}
		level = compression.Level(n)
	}

	switch strings.ToLower(strings.TrimSpace(kindStr)) {
	case "", "none":
		return compression.None, level, nil
	case "gzip":
		return compression.Gzip, level, nil
	default:
		return 0, 0, fmt.Errorf("config: COMPRESSION must be %q or %q, got %q", "none", "gzip", kindStr)
	}
}

func splitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
