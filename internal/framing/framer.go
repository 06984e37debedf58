// Package framing implements C3, the JSON Framer: it turns a bucket's
// Element substream into a byte-chunk stream forming exactly one
// well-formed JSON array, tagging the first chunk Start(key, ctx) and every
// later chunk Tail(ctx) (spec.md §4.4).
//
// The single-element-bucket rule is load-bearing for resume (spec.md §9):
// "[r]" is only ever emitted when an End is already known to follow;
// otherwise the framer emits "[r," and relies on the terminate path (C5) to
// close the array later.
package framing

import (
	"context"
	"fmt"

	"github.com/arborlabs/kbackup/internal/backuperr"
	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/objectkey"
	"github.com/arborlabs/kbackup/internal/record"
	"github.com/arborlabs/kbackup/internal/timeslice"
)

// Chunk is the ByteStringContext sum type from spec.md §3: exactly one
// Start chunk opens every bucket substream, carrying the object key; every
// later chunk is a Tail.
type Chunk struct {
	Bytes   []byte
	IsStart bool
	Key     string // only meaningful when IsStart
	Ctx     record.CursorContext
}

// Frame reads a bucket's Element substream (as produced by splitting.Splitter,
// which has already stripped any trailing End) and writes the framed byte
// chunks to out. hadBoundary must report, once sub is fully drained, whether
// the substream was closed by an explicit End (splitting.Splitter.HadBoundary
// does exactly this).
func Frame(ctx context.Context, policy timeslice.Policy, kind compression.Kind, sub <-chan record.Element, hadBoundary func() bool, out chan<- Chunk) error {
	defer close(out)

	first, ok := recv(ctx, sub)
	if !ok {
		return nil
	}
	if first.IsEnd() {
		return fmt.Errorf("%w: substream began with End", backuperr.ErrUnhandledStreamCase)
	}

	key := objectkey.Calculate(policy, first.Tag.Record.Timestamp, kind)

	second, hasSecond := recv(ctx, sub)
	if !hasSecond {
		return emitSingle(ctx, out, first, key, hadBoundary())
	}

	b1, err := serializeRecord(first.Tag.Record)
	if err != nil {
		return serializationFailure(err)
	}
	payload := append([]byte{'['}, b1...)
	payload = append(payload, ',')
	if err := send(ctx, out, Chunk{Bytes: payload, IsStart: true, Key: key, Ctx: first.Tag.Ctx}); err != nil {
		return err
	}

	prev := second
	for {
		next, ok := recv(ctx, sub)
		if !ok {
			return emitLast(ctx, out, prev, hadBoundary())
		}
		bp, err := serializeRecord(prev.Tag.Record)
		if err != nil {
			return serializationFailure(err)
		}
		tail := append(bp, ',')
		if err := send(ctx, out, Chunk{Bytes: tail, Ctx: prev.Tag.Ctx}); err != nil {
			return err
		}
		prev = next
	}
}

// emitSingle handles a substream of exactly one Element (spec.md §4.4 rules
// 1 and 2).
func emitSingle(ctx context.Context, out chan<- Chunk, el record.Element, key string, boundary bool) error {
	b, err := serializeRecord(el.Tag.Record)
	if err != nil {
		return serializationFailure(err)
	}
	payload := append([]byte{'['}, b...)
	if boundary {
		payload = append(payload, ']')
	} else {
		payload = append(payload, ',')
	}
	return send(ctx, out, Chunk{Bytes: payload, IsStart: true, Key: key, Ctx: el.Tag.Ctx})
}

// emitLast handles the final element of a longer substream (spec.md §4.4
// rule 3, the eₙ case).
func emitLast(ctx context.Context, out chan<- Chunk, el record.Element, boundary bool) error {
	b, err := serializeRecord(el.Tag.Record)
	if err != nil {
		return serializationFailure(err)
	}
	var payload []byte
	if boundary {
		payload = append(b, ']')
	} else {
		payload = append(b, ',')
	}
	return send(ctx, out, Chunk{Bytes: payload, Ctx: el.Tag.Ctx})
}

func serializationFailure(err error) error {
	return fmt.Errorf("%w: record serialization failed unexpectedly: %v", backuperr.ErrUnhandledStreamCase, err)
}

func recv(ctx context.Context, sub <-chan record.Element) (record.Element, bool) {
	select {
	case el, ok := <-sub:
		return el, ok
	case <-ctx.Done():
		return record.Element{}, false
	}
}

func send(ctx context.Context, out chan<- Chunk, c Chunk) error {
	select {
	case out <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
