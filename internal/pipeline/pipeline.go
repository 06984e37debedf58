// Package pipeline implements C8, the Orchestrator: it wires C1 (timeslice)
// through C7 (storagesink) into one runnable backup pipeline and exposes a
// combined cancel+error handle, the way the teacher's main.go wires
// audit.Streamer.Run behind a context.CancelFunc and waits on it during
// shutdown (kernel/cmd/kernel/main.go).
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/arborlabs/kbackup/internal/boundary"
	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/framing"
	"github.com/arborlabs/kbackup/internal/record"
	"github.com/arborlabs/kbackup/internal/resume"
	"github.com/arborlabs/kbackup/internal/splitting"
	"github.com/arborlabs/kbackup/internal/storagesink"
	"github.com/arborlabs/kbackup/internal/timeslice"
)

// Source is the upstream record feed, implemented by internal/kafkasource.
type Source interface {
	Run(ctx context.Context, out chan<- record.WithContext) error
	CommitCursor(ctx context.Context, cursor record.CursorContext) error
}

// Config configures one pipeline run.
type Config struct {
	Policy      timeslice.Policy
	Compression compression.Kind
	Level       compression.Level
	PartSize    int // 0 uses storagesink.DefaultPartSize
}

// Status is a point-in-time snapshot of the orchestrator's progress,
// surfaced by internal/adminserver's /status endpoint.
type Status struct {
	BucketIndex int
	Key         string
	LastCursor  record.CursorContext
}

// Control is the combined cancel+materialized-value handle C8 exposes:
// downstream shutdown cancels the upstream source; upstream failure
// surfaces as the error from Wait.
type Control struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	mu     sync.Mutex
	status Status

	resumeRequests chan struct{}
}

// Cancel requests the pipeline stop. It is safe to call multiple times.
func (c *Control) Cancel() {
	c.cancel()
}

// Wait blocks until the pipeline stops, returning the first error observed.
// After Cancel (or cancellation of the parent context) the error is
// context.Canceled or wraps it; it is nil only when the source ended and
// every bucket was written.
func (c *Control) Wait() error {
	<-c.done
	return c.err
}

// Status reports the bucket index, key and cursor of the most recent cursor
// commit; it is updated on every commit, including within a bucket that is
// still being written.
func (c *Control) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Control) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// RequestResume records an operator request that the orchestrator drains
// and logs at its next bucket start. Every bucket already re-queries
// getCurrentUploadState at open time, so the request triggers no extra
// query; it is an operator-visible acknowledgment hook rather than a
// behavior change, and it never blocks if nobody is listening.
func (c *Control) RequestResume() {
	select {
	case c.resumeRequests <- struct{}{}:
	default:
	}
}

// Run starts the full C1→C2→C4→(C3→C5→C6→C7) pipeline against src and
// adapter and returns a Control handle immediately; the pipeline itself
// runs in a background goroutine, mirroring how cmd/kernel/main.go starts
// audit.Streamer.Run in a goroutine and retains only its cancel func.
func Run(parent context.Context, src Source, adapter storagesink.Adapter, cfg Config) *Control {
	ctx, cancel := context.WithCancel(parent)
	ctrl := &Control{cancel: cancel, done: make(chan struct{}), resumeRequests: make(chan struct{}, 1)}

	go func() {
		defer close(ctrl.done)
		ctrl.err = runPipeline(ctx, src, adapter, cfg, ctrl)
		if ctrl.err != nil && ctrl.err != context.Canceled {
			log.Printf("[pipeline] stopped with error: %v", ctrl.err)
		} else {
			log.Printf("[pipeline] stopped")
		}
	}()

	return ctrl
}

func runPipeline(ctx context.Context, src Source, adapter storagesink.Adapter, cfg Config, ctrl *Control) error {
	records := make(chan record.WithContext)
	tagged := make(chan record.Tagged)
	elements := make(chan record.Element)

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.Run(ctx, records); err != nil && err != context.Canceled {
			errs <- fmt.Errorf("source: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := timeslice.Assign(ctx, cfg.Policy, records, tagged); err != nil && err != context.Canceled {
			errs <- fmt.Errorf("time-period assigner: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := boundary.Detect(ctx, tagged, elements); err != nil && err != context.Canceled {
			errs <- fmt.Errorf("boundary detector: %w", err)
		}
	}()

	splitErr := make(chan error, 1)
	go func() {
		splitErr <- processBuckets(ctx, src, adapter, cfg, elements, ctrl)
	}()

	wg.Wait()
	close(errs)

	bucketErr := <-splitErr

	for e := range errs {
		if e != nil {
			return e
		}
	}
	if bucketErr != nil && bucketErr != context.Canceled {
		return bucketErr
	}
	return ctx.Err()
}

// processBuckets drives the splitter sequentially: one substream is fully
// framed, resumed/compressed, and written to completion before the next
// bucket's Next() is called (spec.md §4.8/§5 substream parallelism = 1).
func processBuckets(ctx context.Context, src Source, adapter storagesink.Adapter, cfg Config, elements <-chan record.Element, ctrl *Control) error {
	splitter := splitting.New(elements)

	bucketIndex := 0
	for {
		sub, ok, err := splitter.Next(ctx)
		if err != nil {
			return fmt.Errorf("bucket splitter: %w", err)
		}
		if !ok {
			return splitter.Err()
		}

		// Drain any pending resume nudge so it is visible in the log even
		// though every bucket already re-queries resume state unconditionally.
		select {
		case <-ctrl.resumeRequests:
			log.Printf("[pipeline] resume re-query requested by operator")
		default:
		}

		if err := processOneBucket(ctx, src, adapter, cfg, splitter, sub, bucketIndex, ctrl); err != nil {
			return err
		}
		bucketIndex++
	}
}

func processOneBucket(parentCtx context.Context, src Source, adapter storagesink.Adapter, cfg Config, splitter *splitting.Splitter, sub <-chan record.Element, bucketIndex int, ctrl *Control) error {
	// A bucket-scoped cancel ensures that if the sink or resume coordinator
	// fails partway through, the still-running framing.Frame goroutine (which
	// may be blocked sending a chunk nobody reads anymore) is released rather
	// than leaked.
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	// Peek the substream's first record to know the bucket's key before
	// resume can be prepared: framing.Frame derives the key itself from the
	// first record, so the coordinator and framer must agree on the same
	// first-timestamp-derived key without either one consuming the other's
	// input twice. We let the framer compute the key and run resume lookup
	// concurrently with framing by buffering the chunk stream; framing.Frame
	// already serializes incrementally so this adds no extra buffering
	// beyond one bucket's chunks.
	chunks := make(chan framing.Chunk, 4)
	frameErrCh := make(chan error, 1)
	go func() {
		frameErrCh <- framing.Frame(ctx, cfg.Policy, cfg.Compression, sub, splitter.HadBoundary, chunks)
	}()

	first, ok := <-chunks
	if !ok {
		err := <-frameErrCh
		return err
	}

	plan, err := resume.Prepare(ctx, adapter, first.Key, cfg.Policy.IsChronoUnit(), cfg.Compression, cfg.Level)
	if err != nil {
		return fmt.Errorf("resume coordinator: %w", err)
	}
	if plan.Terminated != nil {
		log.Printf("[pipeline] terminated dangling previous upload: %+v", *plan.Terminated)
	}

	rechunked := make(chan framing.Chunk, 4)
	go func() {
		defer close(rechunked)
		rechunked <- first
		for c := range chunks {
			rechunked <- c
		}
	}()

	commit := func(ctx context.Context, cursor record.CursorContext) error {
		if err := src.CommitCursor(ctx, cursor); err != nil {
			return err
		}
		ctrl.setStatus(Status{BucketIndex: bucketIndex, Key: first.Key, LastCursor: cursor})
		return nil
	}

	result, err := storagesink.WriteBucket(ctx, adapter, rechunked, plan.OpenState, plan.Resuming, plan.CompressRemainder, cfg.Level, commit, cfg.PartSize)
	if err != nil {
		return fmt.Errorf("storage sink: %w", err)
	}
	log.Printf("[pipeline] bucket completed: %+v", result)

	return <-frameErrCh
}
