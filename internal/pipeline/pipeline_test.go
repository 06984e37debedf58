package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arborlabs/kbackup/internal/compression"
	"github.com/arborlabs/kbackup/internal/pipeline"
	"github.com/arborlabs/kbackup/internal/record"
	"github.com/arborlabs/kbackup/internal/storagesink"
	"github.com/arborlabs/kbackup/internal/timeslice"
)

// fakeSource feeds a fixed slice of records and records committed cursors.
type fakeSource struct {
	records []record.WithContext

	mu        sync.Mutex
	committed []record.CursorContext
}

func (f *fakeSource) Run(ctx context.Context, out chan<- record.WithContext) error {
	defer close(out)
	for _, r := range f.records {
		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeSource) CommitCursor(ctx context.Context, cursor record.CursorContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, cursor)
	return nil
}

func (f *fakeSource) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

// fakeAdapter gives the pipeline a complete in-memory storage backend:
// every opened key accumulates its parts in order.
type fakeAdapter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{objects: make(map[string][]byte)}
}

func (a *fakeAdapter) GetCurrentUploadState(ctx context.Context, key string) (storagesink.UploadStateResult, error) {
	return storagesink.UploadStateResult{}, nil
}

func (a *fakeAdapter) OpenUpload(ctx context.Context, key string, current storagesink.UploadState) (storagesink.Upload, error) {
	return &upload{adapter: a, key: key}, nil
}

func (a *fakeAdapter) TerminateUpload(ctx context.Context, previousKey string, state storagesink.UploadState, payload []byte) (storagesink.BackupResult, error) {
	return storagesink.BackupResult{}, nil
}

type upload struct {
	adapter *fakeAdapter
	key     string
	n       int
}

func (u *upload) WritePart(ctx context.Context, p []byte) error {
	u.adapter.mu.Lock()
	defer u.adapter.mu.Unlock()
	u.adapter.objects[u.key] = append(u.adapter.objects[u.key], p...)
	u.n++
	return nil
}

func (u *upload) Complete(ctx context.Context) (storagesink.BackupResult, error) {
	return storagesink.BackupResult{Key: u.key, PartCount: u.n}, nil
}

func TestRunEndToEndWritesOneBucketPerSecond(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	records := []record.WithContext{
		{Record: record.Record{Topic: "t", Partition: 0, Offset: 0, Value: []byte("a"), Timestamp: base}, Ctx: "c0"},
		{Record: record.Record{Topic: "t", Partition: 0, Offset: 1, Value: []byte("b"), Timestamp: base + 500}, Ctx: "c1"},
		{Record: record.Record{Topic: "t", Partition: 0, Offset: 2, Value: []byte("c"), Timestamp: base + 1500}, Ctx: "c2"},
	}
	src := &fakeSource{records: records}
	adapter := newFakeAdapter()

	cfg := pipeline.Config{
		Policy:      timeslice.ChronoUnitSlice{Unit: timeslice.UnitSecond},
		Compression: compression.None,
		Level:       compression.DefaultLevel,
	}

	ctrl := pipeline.Run(context.Background(), src, adapter, cfg)

	done := make(chan error, 1)
	go func() { done <- ctrl.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pipeline returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not finish in time")
	}

	if len(adapter.objects) != 2 {
		t.Fatalf("expected 2 bucket objects (one per second boundary), got %d: %v", len(adapter.objects), keys(adapter.objects))
	}
	if src.committedCount() != 3 {
		t.Fatalf("expected all 3 cursors committed, got %d", src.committedCount())
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
