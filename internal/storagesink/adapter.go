// Package storagesink implements C7, the Storage Sink, plus the shared
// storage-adapter contract (spec.md §6) that both C5 (Resume Coordinator)
// and the two concrete backends (s3backend, gcsbackend) depend on.
package storagesink

import (
	"context"

	"github.com/arborlabs/kbackup/internal/compression"
)

// UploadState is a storage-specific opaque value identifying an in-progress
// multipart upload (e.g. an S3 upload ID plus its object key, or the GCS
// backend's destination object key). The core carries it by value and never
// inspects or mutates it.
type UploadState any

// ObjectMetadata is BackupObjectMetadata from spec.md §3: what compression
// was in effect when a given in-progress upload began.
type ObjectMetadata struct {
	Compression compression.Kind
}

// CurrentUpload is the "current" half of UploadStateResult: this bucket's
// own key already has an in-progress upload.
type CurrentUpload struct {
	State    UploadState
	Metadata ObjectMetadata
}

// PreviousUpload is the "previous" half of UploadStateResult: a prior run
// crashed between buckets, leaving the previous bucket's upload dangling.
type PreviousUpload struct {
	State       UploadState
	Metadata    ObjectMetadata
	PreviousKey string
}

// UploadStateResult is the three-shape result from spec.md §4.5: at most one
// of Current/Previous is populated.
type UploadStateResult struct {
	Current  *CurrentUpload
	Previous *PreviousUpload
}

// BackupResult is opaque to the core beyond being observable in tests: it
// records what got written once a bucket's upload completes.
type BackupResult struct {
	Key        string
	PartCount  int
	TotalBytes int64
}

// Upload is a single bucket's in-flight multipart upload.
type Upload interface {
	// WritePart uploads one sequential part. Parallelism is always 1: the
	// sink never calls WritePart again until the previous call returns.
	WritePart(ctx context.Context, p []byte) error

	// Complete finalizes the multipart upload and returns the BackupResult.
	Complete(ctx context.Context) (BackupResult, error)
}

// Adapter is the storage-adapter contract from spec.md §6.
type Adapter interface {
	// GetCurrentUploadState queries storage for any in-progress upload under
	// key and for the previous bucket's upload, per spec.md §4.5.
	GetCurrentUploadState(ctx context.Context, key string) (UploadStateResult, error)

	// OpenUpload opens a fresh multipart upload under key when current is
	// nil, or resumes the named one otherwise.
	OpenUpload(ctx context.Context, key string, current UploadState) (Upload, error)

	// TerminateUpload writes payload (always "null]", optionally gzipped) as
	// a final part of the named in-progress upload and completes it.
	TerminateUpload(ctx context.Context, previousKey string, state UploadState, payload []byte) (BackupResult, error)
}
