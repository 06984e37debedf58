package gcsbackend

import (
	"testing"

	"cloud.google.com/go/storage"

	"github.com/arborlabs/kbackup/internal/compression"
)

func TestMetaValueRoundTrip(t *testing.T) {
	if metaValue(compression.Gzip) != "gzip" {
		t.Fatalf("expected gzip")
	}
	if metaValue(compression.None) != "none" {
		t.Fatalf("expected none")
	}

	gz := metadataFromAttrs(&storage.ObjectAttrs{Metadata: map[string]string{compressionMetaKey: "gzip"}})
	if gz.Compression != compression.Gzip {
		t.Fatalf("expected Gzip, got %v", gz.Compression)
	}
	none := metadataFromAttrs(&storage.ObjectAttrs{})
	if none.Compression != compression.None {
		t.Fatalf("expected None, got %v", none.Compression)
	}
}

func TestAdapterFullKeyAndMarkerName(t *testing.T) {
	a := &Adapter{prefix: "backups/"}
	full := a.fullKey("2026-01-01T00:00:00Z.json.gz")
	if full != "backups/2026-01-01T00:00:00Z.json.gz" {
		t.Fatalf("unexpected fullKey: %s", full)
	}
	if got := a.markerName(full); got != inProgressPrefix+full {
		t.Fatalf("unexpected markerName: %s", got)
	}
}
