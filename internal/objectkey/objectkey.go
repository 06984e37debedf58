// Package objectkey derives the object key for a bucket from its first
// record's timestamp, the time policy, and the configured compression
// (spec.md §3, §6). calculateKey is a pure function: identical inputs always
// yield an identical key (spec.md §8 property 7), which is what lets C5 and
// C7 compute the same key independently without coordination.
package objectkey

import (
	"time"

	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/timeslice"
)

// Calculate returns "{ISO_OFFSET_DATE_TIME(bucketAnchor)}.{json|json.gz}"
// for the bucket whose first record has firstTimestampMillis, under the
// given policy and the currently configured compression kind. For
// ChronoUnitSlice the timestamp is truncated to the unit first (this is
// exactly the anchor C1 computes, so the two always agree).
func Calculate(policy timeslice.Policy, firstTimestampMillis int64, kind compression.Kind) string {
	anchorMillis := timeslice.AnchorMillis(policy, firstTimestampMillis)
	ts := time.UnixMilli(anchorMillis).UTC()
	stamp := ts.Format(time.RFC3339)
	if kind == compression.Gzip {
		return stamp + ".json.gz"
	}
	return stamp + ".json"
}
