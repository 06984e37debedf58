// Package gcsbackend implements storagesink.Adapter against Google Cloud
// Storage using cloud.google.com/go/storage, the second concrete backend
// behind the spec's "S3 or GCS" storage contract. GCS has no true multipart
// upload primitive, so parts are written to short-lived temporary objects
// and appended onto the destination object via ComposerFrom(dst, part) — the
// documented GCS idiom for incremental append, chosen over buffering whole
// objects in memory. Object/reader usage is grounded on the pack's
// gcp_streamer.go (bucket.Object(name).NewReader); the writer/compose side
// has no teacher analogue and is an out-of-pack dependency per the
// domain-stack notes.
package gcsbackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/storagesink"
)

// compressionMetaKey is the custom object metadata key recording what
// compression was configured when an upload began, read back by
// GetCurrentUploadState to reconstruct BackupObjectMetadata (spec.md §3).
const compressionMetaKey = "x-backup-compression"

const inProgressPrefix = ".inprogress/"

// Adapter implements storagesink.Adapter against one GCS bucket/prefix.
type Adapter struct {
	bucket *storage.BucketHandle
	prefix string
}

// New wraps an existing bucket handle. Callers construct the
// *storage.Client (and its Bucket) once at startup the usual way
// (storage.NewClient(ctx) then client.Bucket(name)).
func New(bucket *storage.BucketHandle, prefix string) *Adapter {
	return &Adapter{bucket: bucket, prefix: prefix}
}

func (a *Adapter) fullKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return strings.TrimSuffix(a.prefix, "/") + "/" + key
}

func (a *Adapter) markerName(fullKey string) string {
	return inProgressPrefix + fullKey
}

// GetCurrentUploadState lists the in-progress markers this adapter writes
// at open time: one matching the requested key is Current, any other is
// Previous (spec.md §4.5 three-shape query). By construction there is at
// most one marker other than the current key's, since buckets are written
// strictly sequentially.
func (a *Adapter) GetCurrentUploadState(ctx context.Context, key string) (storagesink.UploadStateResult, error) {
	full := a.fullKey(key)
	it := a.bucket.Objects(ctx, &storage.Query{Prefix: a.markerName(a.fullKey(""))})

	var result storagesink.UploadStateResult
	var oldestOther *storage.ObjectAttrs

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return storagesink.UploadStateResult{}, fmt.Errorf("gcsbackend: list markers: %w", err)
		}
		markedKey := strings.TrimPrefix(attrs.Name, inProgressPrefix)
		if markedKey == full {
			result.Current = &storagesink.CurrentUpload{
				State:    uploadState{key: full},
				Metadata: metadataFromAttrs(attrs),
			}
			continue
		}
		if oldestOther == nil || attrs.Updated.Before(oldestOther.Updated) {
			oldestOther = attrs
		}
	}

	if oldestOther != nil {
		prevKey := strings.TrimPrefix(oldestOther.Name, inProgressPrefix)
		result.Previous = &storagesink.PreviousUpload{
			State:       uploadState{key: prevKey},
			Metadata:    metadataFromAttrs(oldestOther),
			PreviousKey: prevKey,
		}
	}
	return result, nil
}

func metadataFromAttrs(attrs *storage.ObjectAttrs) storagesink.ObjectMetadata {
	if attrs.Metadata[compressionMetaKey] == "gzip" {
		return storagesink.ObjectMetadata{Compression: compression.Gzip}
	}
	return storagesink.ObjectMetadata{Compression: compression.None}
}

// uploadState is the storagesink.UploadState this adapter hands back.
type uploadState struct {
	key string
}

// OpenUpload opens a fresh destination object when current is nil (writing
// the in-progress marker with its compression metadata), or continues
// appending to the existing one otherwise.
func (a *Adapter) OpenUpload(ctx context.Context, key string, current storagesink.UploadState) (storagesink.Upload, error) {
	full := a.fullKey(key)

	if current == nil {
		kind := compression.None
		if strings.HasSuffix(full, ".gz") {
			kind = compression.Gzip
		}
		if err := a.writeMarker(ctx, full, kind); err != nil {
			return nil, err
		}
		return &upload{adapter: a, key: full}, nil
	}

	st, ok := current.(uploadState)
	if !ok {
		return nil, fmt.Errorf("gcsbackend: unrecognized UploadState value %#v", current)
	}
	return &upload{adapter: a, key: st.key}, nil
}

func (a *Adapter) writeMarker(ctx context.Context, fullKey string, kind compression.Kind) error {
	obj := a.bucket.Object(a.markerName(fullKey))
	w := obj.NewWriter(ctx)
	w.Metadata = map[string]string{compressionMetaKey: metaValue(kind)}
	if _, err := w.Write([]byte{0}); err != nil {
		w.Close()
		return fmt.Errorf("gcsbackend: write marker: %w", err)
	}
	return w.Close()
}

func metaValue(kind compression.Kind) string {
	if kind == compression.Gzip {
		return "gzip"
	}
	return "none"
}

// TerminateUpload appends payload to the dangling object named by
// previousKey and removes its marker.
func (a *Adapter) TerminateUpload(ctx context.Context, previousKey string, state storagesink.UploadState, payload []byte) (storagesink.BackupResult, error) {
	st, ok := state.(uploadState)
	if !ok {
		return storagesink.BackupResult{}, fmt.Errorf("gcsbackend: unrecognized UploadState value %#v", state)
	}
	u := &upload{adapter: a, key: st.key}
	if err := u.WritePart(ctx, payload); err != nil {
		return storagesink.BackupResult{}, err
	}
	return u.Complete(ctx)
}

// upload implements storagesink.Upload by appending each part to the
// destination object via ComposerFrom(dst, part), the recipe GCS documents
// for incremental append since objects can't be opened for write twice.
type upload struct {
	adapter  *Adapter
	key      string
	partSeq  int
	total    int64
	nonEmpty bool
}

func (u *upload) WritePart(ctx context.Context, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	u.partSeq++
	partName := fmt.Sprintf("%s.part.%d", u.adapter.markerName(u.key), u.partSeq)
	partObj := u.adapter.bucket.Object(partName)

	w := partObj.NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(p)); err != nil {
		w.Close()
		return fmt.Errorf("gcsbackend: write part %d: %w", u.partSeq, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcsbackend: close part %d: %w", u.partSeq, err)
	}
	defer partObj.Delete(ctx)

	dst := u.adapter.bucket.Object(u.key)
	if !u.nonEmpty {
		// A resumed or terminated upload continues an object that earlier
		// parts already wrote: append to it rather than replace it.
		if _, err := dst.Attrs(ctx); err == nil {
			u.nonEmpty = true
		} else if !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gcsbackend: stat %s: %w", u.key, err)
		}
	}
	var sources []*storage.ObjectHandle
	if u.nonEmpty {
		sources = append(sources, dst)
	}
	sources = append(sources, partObj)

	if _, err := dst.ComposerFrom(sources...).Run(ctx); err != nil {
		return fmt.Errorf("gcsbackend: compose part %d onto %s: %w", u.partSeq, u.key, err)
	}
	u.nonEmpty = true
	u.total += int64(len(p))
	return nil
}

// Complete removes the in-progress marker; the destination object itself
// is already complete as of the last WritePart's compose.
func (u *upload) Complete(ctx context.Context) (storagesink.BackupResult, error) {
	if err := u.adapter.bucket.Object(u.adapter.markerName(u.key)).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return storagesink.BackupResult{}, fmt.Errorf("gcsbackend: delete marker: %w", err)
	}
	return storagesink.BackupResult{Key: u.key, PartCount: u.partSeq, TotalBytes: u.total}, nil
}
