// Command backup runs the Kafka-to-object-storage backup pipeline: it reads
// cmd/backup's configuration from the environment, wires a Kafka source
// into one of the S3/GCS storage backends through internal/pipeline, and
// serves an admin HTTP surface alongside it — the same overall shape as the
// teacher's cmd/kernel/main.go (load config, construct dependencies, start
// background work, start an HTTP server, wait on an OS signal, shut
// everything down in order).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/arborlabs/kbackup/internal/adminserver"
	appconfig "github.com/arborlabs/kbackup/internal/config"
	"github.com/arborlabs/kbackup/internal/kafkasource"
	"github.com/arborlabs/kbackup/internal/ledger"
	"github.com/arborlabs/kbackup/internal/pipeline"
	"github.com/arborlabs/kbackup/internal/storagesink"
	"github.com/arborlabs/kbackup/internal/storagesink/gcsbackend"
	"github.com/arborlabs/kbackup/internal/storagesink/s3backend"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	runID := uuid.New()
	log.SetPrefix(fmt.Sprintf("[%s] ", runID))
	log.Printf("starting backup run %s", runID)

	cfg, err := appconfig.LoadFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	adapter, err := buildStorageAdapter(ctx, cfg)
	if err != nil {
		log.Fatalf("storage backend: %v", err)
	}

	src, err := kafkasource.New(kafkasource.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaConsumerGroup,
	})
	if err != nil {
		log.Fatalf("kafka source: %v", err)
	}
	defer src.Close()

	lg, db := buildLedger(ctx, cfg, runID)
	if db != nil {
		defer db.Close()
	}

	ctrl := pipeline.Run(ctx, src, adapter, pipeline.Config{
		Policy:      cfg.TimePolicy,
		Compression: cfg.Compression,
		Level:       cfg.GzipLevel,
	})

	admin := adminserver.New(adminserver.Config{
		ListenAddr:    cfg.AdminListenAddr,
		Secret:        cfg.AdminJWTSecret,
		RequiredScope: cfg.AdminJWTScope,
	}, ctrl, lg)

	adminErrCh := make(chan error, 1)
	go func() { adminErrCh <- admin.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-adminErrCh:
		if err != nil {
			log.Printf("admin server exited with error: %v", err)
		}
		stopSignals()
	}

	ctrl.Cancel()
	if err := ctrl.Wait(); err != nil && err != context.Canceled {
		log.Printf("pipeline stopped with error: %v", err)
	}

	shutdownWait := time.NewTimer(5 * time.Second)
	select {
	case err := <-adminErrCh:
		shutdownWait.Stop()
		if err != nil {
			log.Printf("admin server shutdown error: %v", err)
		}
	case <-shutdownWait.C:
		log.Println("admin server shutdown timed out")
	}

	log.Println("backup pipeline stopped")
}

func buildStorageAdapter(ctx context.Context, cfg *appconfig.Config) (storagesink.Adapter, error) {
	switch cfg.StorageBackend {
	case appconfig.BackendS3:
		return s3backend.New(ctx, cfg.S3Bucket, cfg.S3Prefix)
	case appconfig.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return gcsbackend.New(client.Bucket(cfg.GCSBucket), cfg.GCSPrefix), nil
	default:
		log.Fatalf("unreachable: config validated StorageBackend as %q", cfg.StorageBackend)
		return nil, nil
	}
}

// buildLedger opens the optional Postgres run ledger. A nil *ledger.Ledger
// is valid and every call becomes a no-op, mirroring cmd/kernel/main.go's
// own db != nil branch around audit.NewPGStore.
func buildLedger(ctx context.Context, cfg *appconfig.Config, runID uuid.UUID) (*ledger.Ledger, *sql.DB) {
	if cfg.LedgerDatabaseURL == "" {
		log.Println("no LEDGER_DATABASE_URL configured; run ledger disabled")
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.LedgerDatabaseURL)
	if err != nil {
		log.Printf("failed to open ledger database: %v — continuing without a ledger", err)
		return nil, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Printf("failed to ping ledger database: %v — continuing without a ledger", err)
		db.Close()
		return nil, nil
	}

	lg := ledger.New(db, runID)
	if err := lg.EnsureSchema(ctx); err != nil {
		log.Printf("failed to ensure ledger schema: %v — continuing without a ledger", err)
		db.Close()
		return nil, nil
	}
	log.Println("connected to ledger database")
	return lg, db
}
