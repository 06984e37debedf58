package s3backend

import (
	"testing"

	"github.com/arborlabs/kbackup/internal/compression"
)

func TestMetadataFromKey(t *testing.T) {
	cases := []struct {
		key  string
		want compression.Kind
	}{
		{"2026-01-01T00:00:00Z.json.gz", compression.Gzip},
		{"2026-01-01T00:00:00Z.json", compression.None},
	}
	for _, c := range cases {
		got := metadataFromKey(c.key)
		if got.Compression != c.want {
			t.Errorf("metadataFromKey(%q) = %v, want %v", c.key, got.Compression, c.want)
		}
	}
}

func TestAdapterFullKey(t *testing.T) {
	a := &Adapter{bucket: "b", prefix: "backups/"}
	if got := a.fullKey("2026-01-01T00:00:00Z.json"); got != "backups/2026-01-01T00:00:00Z.json" {
		t.Fatalf("unexpected fullKey: %s", got)
	}

	bare := &Adapter{bucket: "b"}
	if got := bare.fullKey("x.json"); got != "x.json" {
		t.Fatalf("unexpected fullKey with empty prefix: %s", got)
	}
}

func TestNewRejectsEmptyBucket(t *testing.T) {
	if _, err := New(nil, "", "prefix"); err == nil {
		t.Fatalf("expected an error for an empty bucket name")
	}
}
