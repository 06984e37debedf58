package timeslice

import (
	"context"
	"fmt"

	"github.com/arborlabs/kbackup/internal/backuperr"
	"github.com/arborlabs/kbackup/internal/record"
)

// Assign consumes the upstream (record, ctx) stream and emits the same
// records tagged with their bucket index (spec.md §4.1). It reads exactly
// one record to establish the anchor, then emits a Tagged value for every
// record including the first.
//
// Assign fails with backuperr.ErrExpectedStartOfSource if upstream closes
// before yielding a single record. It is a pure function of
// (firstTimestamp, policy, record.timestamp) beyond that one piece of
// state.
func Assign(ctx context.Context, policy Policy, in <-chan record.WithContext, out chan<- record.Tagged) error {
	defer close(out)

	first, ok := <-in
	if !ok {
		return backuperr.ErrExpectedStartOfSource
	}

	anchor := policy.anchorMillis(first.Record.Timestamp)

	emit := func(wc record.WithContext) error {
		idx := policy.indexFor(anchor, wc.Record.Timestamp)
		select {
		case out <- record.Tagged{Record: wc.Record, BucketIndex: idx, Ctx: wc.Ctx}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := emit(first); err != nil {
		return err
	}

	for {
		select {
		case wc, ok := <-in:
			if !ok {
				return nil
			}
			if err := emit(wc); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AnchorMillis exposes the anchor computation for callers (object key
// derivation) that need the same anchor C1 used for a given first
// timestamp, without re-running the stream.
func AnchorMillis(policy Policy, firstTimestampMillis int64) int64 {
	return policy.anchorMillis(firstTimestampMillis)
}

// ValidateMonotone is used by C2 to confirm the non-decreasing-index
// invariant; a decrease is always a bug (spec.md §4.2).
func ValidateMonotone(prev, next int64) error {
	if next < prev {
		return fmt.Errorf("%w: bucket index decreased from %d to %d", backuperr.ErrUnhandledStreamCase, prev, next)
	}
	return nil
}
