// Package boundary implements C2, the Boundary Detector: from the
// bucket-tagged stream it emits a flat sequence of Element(record, ctx) and
// End markers, inserting End precisely where the bucket index increases
// (spec.md §4.2).
package boundary

import (
	"context"

	"github.com/arborlabs/kbackup/internal/record"
	"github.com/arborlabs/kbackup/internal/timeslice"
)

// Detect consumes the tagged stream and emits record.Element values: the
// first record unconditionally as an Element, then for each subsequent pair
// (a, b) an End followed by Element(b) if indexOf(b) > indexOf(a), otherwise
// just Element(b). A stream of length 1 emits a single Element and no End.
func Detect(ctx context.Context, in <-chan record.Tagged, out chan<- record.Element) error {
	defer close(out)

	prev, ok := <-in
	if !ok {
		return nil
	}
	if err := send(ctx, out, record.NewElement(prev)); err != nil {
		return err
	}

	for {
		select {
		case cur, ok := <-in:
			if !ok {
				return nil
			}
			if err := timeslice.ValidateMonotone(prev.BucketIndex, cur.BucketIndex); err != nil {
				return err
			}
			if cur.BucketIndex > prev.BucketIndex {
				if err := send(ctx, out, record.EndMarker); err != nil {
					return err
				}
			}
			if err := send(ctx, out, record.NewElement(cur)); err != nil {
				return err
			}
			prev = cur
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func send(ctx context.Context, out chan<- record.Element, el record.Element) error {
	select {
	case out <- el:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
