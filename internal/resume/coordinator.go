// Package resume implements C5, the Resume Coordinator: before the first
// chunk of each bucket is written it queries storage for any in-progress
// upload under the bucket's key and for the previous bucket's dangling
// upload, terminates a stale previous array if found, and configures the
// sink for the current bucket accordingly (spec.md §4.5).
package resume

import (
	"context"
	"fmt"

	"github.com/arborlabs/kbackup/internal/backuperr"
	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/storagesink"
)

// nullTail is the sentinel appended to terminate a dangling in-progress
// array: it turns "[r1,r2," into the valid "[r1,r2,null]".
var nullTail = []byte("null]")

// Plan is what C5 decided for the current bucket, consumed immediately by
// C6/C7.
type Plan struct {
	// Resuming is true when the current bucket's own upload is already in
	// progress (crash mid-bucket): the Start chunk's leading '[' must be
	// dropped because the array is already open in storage.
	Resuming bool

	// OpenState is the UploadState to resume, or nil to open a fresh
	// multipart upload.
	OpenState storagesink.UploadState

	// CompressRemainder is whether the chunks written for this bucket from
	// here on should be gzipped (spec.md §4.6).
	CompressRemainder bool

	// Terminated is non-nil when a previous run's dangling upload was found
	// and closed before this bucket's own upload was opened.
	Terminated *storagesink.BackupResult
}

// Prepare runs the C5 state machine for one bucket:
// Querying -> Terminating? -> Opening.
func Prepare(ctx context.Context, adapter storagesink.Adapter, key string, isChronoUnit bool, configured compression.Kind, level compression.Level) (Plan, error) {
	res, err := adapter.GetCurrentUploadState(ctx, key)
	if err != nil {
		return Plan{}, err
	}

	switch {
	case res.Current == nil && res.Previous == nil:
		return Plan{CompressRemainder: configured == compression.Gzip}, nil

	case res.Current == nil && res.Previous != nil:
		return terminateAndOpenFresh(ctx, adapter, res.Previous, configured)

	case res.Current != nil && res.Previous == nil:
		if !isChronoUnit {
			return Plan{}, fmt.Errorf(
				"%w: resumable current-upload state for key %q found under a non-chrono time policy; "+
					"PeriodFromFirst anchors derive from this run's first record and cannot legitimately collide with a prior run's key",
				backuperr.ErrUnhandledStreamCase, key)
		}
		c := res.Current
		action := compression.ResolveResume(configured, c.Metadata.Compression, true)
		return Plan{
			Resuming:          true,
			OpenState:         c.State,
			CompressRemainder: action.CompressRemainder,
		}, nil

	default:
		return Plan{}, fmt.Errorf("%w: storage reported both a current and a previous in-progress upload", backuperr.ErrUnhandledStreamCase)
	}
}

// terminateAndOpenFresh closes a previous run's dangling upload (crash
// between buckets) with the sentinel "null]" written in whatever
// compression that upload was started with, then reports a fresh plan for
// the current bucket under the run's configured compression.
func terminateAndOpenFresh(ctx context.Context, adapter storagesink.Adapter, prev *storagesink.PreviousUpload, configured compression.Kind) (Plan, error) {
	payload, err := compression.EncodeSegment(nullTail, prev.Metadata.Compression, compression.DefaultLevel)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: encoding termination payload: %v", backuperr.ErrUnhandledStreamCase, err)
	}

	result, err := adapter.TerminateUpload(ctx, prev.PreviousKey, prev.State, payload)
	if err != nil {
		return Plan{}, err
	}

	return Plan{
		CompressRemainder: configured == compression.Gzip,
		Terminated:        &result,
	}, nil
}
