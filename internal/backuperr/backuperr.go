// Package backuperr defines the fatal error kinds named in spec.md §7.
// Transient storage failures are retried internally by the storage adapter
// and never surface as one of these sentinels; everything else propagates
// to the orchestrator, which cancels the pipeline.
package backuperr

import "errors"

// ErrExpectedStartOfSource is returned by the time-period assigner when the
// upstream ends before yielding a single record.
var ErrExpectedStartOfSource = errors.New("backup: expected at least one record from upstream, got none")

// ErrUnhandledStreamCase signals an internal invariant violation: a
// non-monotone bucket index, an impossible UploadStateResult shape, or a
// malformed substream prefix. It is always fatal and always surfaced with a
// diagnostic message describing what was observed.
var ErrUnhandledStreamCase = errors.New("backup: unhandled stream case")

// ErrStoragePermanent wraps a permanent storage refusal (auth, quota). The
// in-progress multipart upload, if any, is deliberately left in place for
// later inspection — the core never aborts it.
var ErrStoragePermanent = errors.New("backup: permanent storage error")
