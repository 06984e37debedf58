// Package splitting implements C4, the Bucket Splitter: it turns the flat
// Element stream from C2 into a sequence of per-bucket substreams, using End
// as the split marker (consumed, not forwarded). Each substream is
// guaranteed to contain at least one Element and at most one trailing End,
// which the splitter already strips (spec.md §4.3).
//
// Buckets are processed strictly sequentially (substream parallelism = 1,
// spec.md §4.8/§5): a caller must fully drain one substream channel before
// calling Next again. Cancellation of a substream propagates through the
// shared context rather than being swallowed — the splitter never skips a
// bucket silently.
package splitting

import (
	"context"
	"fmt"

	"github.com/arborlabs/kbackup/internal/backuperr"
	"github.com/arborlabs/kbackup/internal/record"
)

// Splitter turns a flat Element stream into ordered per-bucket substreams.
type Splitter struct {
	in          <-chan record.Element
	done        bool
	err         error
	hadBoundary bool
}

// New constructs a Splitter reading from in.
func New(in <-chan record.Element) *Splitter {
	return &Splitter{in: in}
}

// Next returns the channel for the next bucket's substream, or ok=false once
// the upstream is exhausted. The returned channel must be drained to
// completion (read until closed) before the next call to Next. After
// draining, call Err to check whether the substream ended because of a
// cancellation or protocol violation rather than a clean End/EOF.
func (s *Splitter) Next(ctx context.Context) (sub <-chan record.Element, ok bool, err error) {
	if s.done || s.err != nil {
		return nil, false, s.err
	}

	first, ok, err := s.recv(ctx)
	if err != nil {
		s.err = err
		return nil, false, err
	}
	if !ok {
		s.done = true
		return nil, false, nil
	}
	if first.IsEnd() {
		err := fmt.Errorf("%w: End marker with no preceding Element in substream", backuperr.ErrUnhandledStreamCase)
		s.err = err
		return nil, false, err
	}

	s.hadBoundary = false
	out := make(chan record.Element, 1)
	go func() {
		defer close(out)
		if !s.forward(ctx, out, first) {
			return
		}
		for {
			el, ok, err := s.recv(ctx)
			if err != nil {
				s.err = err
				return
			}
			if !ok {
				s.done = true
				return
			}
			if el.IsEnd() {
				s.hadBoundary = true
				return
			}
			if !s.forward(ctx, out, el) {
				return
			}
		}
	}()
	return out, true, nil
}

// HadBoundary reports whether the most recently drained substream was
// terminated by an explicit End marker (a later bucket followed) as opposed
// to running out because the upstream itself ended mid-bucket. Call only
// after fully draining the channel returned by the matching Next.
func (s *Splitter) HadBoundary() bool {
	return s.hadBoundary
}

// Err returns the first error observed while splitting, if any. Callers
// should check it after draining a substream channel to completion.
func (s *Splitter) Err() error {
	return s.err
}

func (s *Splitter) recv(ctx context.Context) (record.Element, bool, error) {
	select {
	case el, ok := <-s.in:
		return el, ok, nil
	case <-ctx.Done():
		return record.Element{}, false, ctx.Err()
	}
}

func (s *Splitter) forward(ctx context.Context, out chan<- record.Element, el record.Element) bool {
	select {
	case out <- el:
		return true
	case <-ctx.Done():
		s.err = ctx.Err()
		return false
	}
}
