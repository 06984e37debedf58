package framing

import (
	"encoding/base64"

	"github.com/arborlabs/kbackup/internal/canonical"
	"github.com/arborlabs/kbackup/internal/record"
)

// serializeRecord encodes a single record as a whitespace-free JSON object.
// Key/Value are base64-encoded the way a reduced consumer record with
// arbitrary binary payloads must be to round-trip through JSON.
//
// Reduced records are a total encoder: serialization never fails in
// practice (spec.md §7 notes SerializationError is "impossible for reduced
// records"). If canonical.Marshal ever does fail here, the caller
// translates it to ErrUnhandledStreamCase.
func serializeRecord(r record.Record) ([]byte, error) {
	obj := map[string]interface{}{
		"topic":     r.Topic,
		"partition": r.Partition,
		"offset":    r.Offset,
		"key":       base64.StdEncoding.EncodeToString(r.Key),
		"value":     base64.StdEncoding.EncodeToString(r.Value),
		"timestamp": r.Timestamp,
	}
	return canonical.Marshal(obj)
}
