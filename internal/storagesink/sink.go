package storagesink

import (
	"context"
	"fmt"

	"github.com/arborlabs/kbackup/internal/backuperr"
	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/framing"
	"github.com/arborlabs/kbackup/internal/record"
)

// DefaultPartSize is the buffering threshold below which a Chunk's bytes are
// held rather than flushed as a part. S3 requires every part but the last to
// be at least 5 MiB; GCS resumable sessions are happiest in multiples of
// 256 KiB. 8 MiB clears both comfortably without holding an unreasonable
// amount of unacknowledged data in memory.
const DefaultPartSize = 8 << 20

// CommitFunc advances the upstream cursor for one record's context. The sink
// calls it in order, once per chunk, only after the part carrying that
// chunk's bytes has been acknowledged by storage.
type CommitFunc func(ctx context.Context, cursor record.CursorContext) error

// WriteBucket consumes one bucket's framed chunk stream and drives it
// through a single in-progress multipart upload to completion (C7,
// spec.md §4.7).
//
// resuming is true when the Start chunk's key is already open in storage
// (plan.Resuming from C5): in that case the array is already open and the
// leading '[' of the Start chunk's payload must be dropped before writing.
// compress and level are C6's resume-aware decision for this bucket
// (resume.Plan.CompressRemainder): each flushed part is gzip-encoded as its
// own independent member (internal/compression's EncodeSegment), not the
// individual chunks, so a part holds one gzip member regardless of how many
// records it spans. partSize is the flush threshold; callers pass
// DefaultPartSize in production and a small value in tests to exercise
// multi-part flushing without buffering megabytes.
func WriteBucket(ctx context.Context, adapter Adapter, chunks <-chan framing.Chunk, openState UploadState, resuming bool, compress bool, level compression.Level, commit CommitFunc, partSize int) (BackupResult, error) {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	kind := compression.None
	if compress {
		kind = compression.Gzip
	}

	first, ok := recvChunk(ctx, chunks)
	if !ok {
		return BackupResult{}, fmt.Errorf("%w: bucket chunk stream closed before a Start chunk was seen", backuperr.ErrExpectedStartOfSource)
	}
	if !first.IsStart {
		return BackupResult{}, fmt.Errorf("%w: first chunk of a bucket was not tagged Start", backuperr.ErrUnhandledStreamCase)
	}

	upload, err := adapter.OpenUpload(ctx, first.Key, openState)
	if err != nil {
		return BackupResult{}, err
	}

	payload := first.Bytes
	if resuming {
		payload = stripLeadingBracket(payload)
	}

	buf := make([]byte, 0, partSize)
	var pending []pendingCursor

	buf = append(buf, payload...)
	pending = append(pending, pendingCursor{ctx: first.Ctx, size: len(payload)})

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		encoded, err := compression.EncodeSegment(buf, kind, level)
		if err != nil {
			return fmt.Errorf("%w: compressing part: %v", backuperr.ErrUnhandledStreamCase, err)
		}
		if err := upload.WritePart(ctx, encoded); err != nil {
			return err
		}
		for _, pc := range pending {
			if err := commit(ctx, pc.ctx); err != nil {
				return err
			}
		}
		buf = buf[:0]
		pending = pending[:0]
		return nil
	}

	for {
		c, ok := recvChunk(ctx, chunks)
		if !ok {
			break
		}
		if c.IsStart {
			return BackupResult{}, fmt.Errorf("%w: a second Start chunk arrived within one bucket", backuperr.ErrUnhandledStreamCase)
		}
		if len(buf)+len(c.Bytes) > partSize && len(buf) > 0 {
			if err := flush(); err != nil {
				return BackupResult{}, err
			}
		}
		buf = append(buf, c.Bytes...)
		pending = append(pending, pendingCursor{ctx: c.Ctx, size: len(c.Bytes)})
	}

	if err := flush(); err != nil {
		return BackupResult{}, err
	}

	return upload.Complete(ctx)
}

type pendingCursor struct {
	ctx  record.CursorContext
	size int
}

func stripLeadingBracket(b []byte) []byte {
	if len(b) > 0 && b[0] == '[' {
		return b[1:]
	}
	return b
}

func recvChunk(ctx context.Context, chunks <-chan framing.Chunk) (framing.Chunk, bool) {
	select {
	case c, ok := <-chunks:
		return c, ok
	case <-ctx.Done():
		return framing.Chunk{}, false
	}
}
