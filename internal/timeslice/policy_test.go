package timeslice_test

import (
	"context"
	"testing"
	"time"

	"github.com/arborlabs/kbackup/internal/record"
	"github.com/arborlabs/kbackup/internal/timeslice"
)

func run(t *testing.T, policy timeslice.Policy, timestamps []int64) []record.Tagged {
	t.Helper()
	in := make(chan record.WithContext, len(timestamps))
	for _, ts := range timestamps {
		in <- record.WithContext{Record: record.Record{Timestamp: ts}}
	}
	close(in)

	out := make(chan record.Tagged, len(timestamps))
	if err := timeslice.Assign(context.Background(), policy, in, out); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	var tagged []record.Tagged
	for tg := range out {
		tagged = append(tagged, tg)
	}
	return tagged
}

func TestPeriodFromFirstIndexForFloorsExactDivision(t *testing.T) {
	policy := timeslice.PeriodFromFirst{Period: 10 * time.Second}
	tagged := run(t, policy, []int64{1000, 11000, 21000})
	want := []int64{0, 1, 2}
	for i, tg := range tagged {
		if tg.BucketIndex != want[i] {
			t.Fatalf("record %d: got bucket %d, want %d", i, tg.BucketIndex, want[i])
		}
	}
}

func TestPeriodFromFirstIndexForRoundsDownOnRemainder(t *testing.T) {
	policy := timeslice.PeriodFromFirst{Period: 10 * time.Second}
	tagged := run(t, policy, []int64{1000, 1000 + 9999, 1000 + 10001})
	want := []int64{0, 0, 1}
	for i, tg := range tagged {
		if tg.BucketIndex != want[i] {
			t.Fatalf("record %d: got bucket %d, want %d", i, tg.BucketIndex, want[i])
		}
	}
}

func TestPeriodFromFirstSaturatesForTimestampBeforeAnchor(t *testing.T) {
	policy := timeslice.PeriodFromFirst{Period: 10 * time.Second}
	tagged := run(t, policy, []int64{10000, 1000})
	if tagged[0].BucketIndex != 0 {
		t.Fatalf("expected the anchoring record to land in bucket 0, got %d", tagged[0].BucketIndex)
	}
	if tagged[1].BucketIndex != 0 {
		t.Fatalf("expected a timestamp before the anchor to saturate to bucket 0, got %d", tagged[1].BucketIndex)
	}
}

func TestChronoUnitSliceAnchorTruncatesToMinuteBoundary(t *testing.T) {
	first := time.Date(2026, 3, 4, 12, 30, 45, 0, time.UTC).UnixMilli()
	got := timeslice.AnchorMillis(timeslice.ChronoUnitSlice{Unit: timeslice.UnitMinute}, first)
	want := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC).UnixMilli()
	if got != want {
		t.Fatalf("got anchor %d, want %d", got, want)
	}
}

func TestChronoUnitSliceAnchorTruncatesToHourBoundary(t *testing.T) {
	first := time.Date(2026, 3, 4, 12, 30, 45, 0, time.UTC).UnixMilli()
	got := timeslice.AnchorMillis(timeslice.ChronoUnitSlice{Unit: timeslice.UnitHour}, first)
	want := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC).UnixMilli()
	if got != want {
		t.Fatalf("got anchor %d, want %d", got, want)
	}
}

func TestChronoUnitSliceBucketsAdvanceAcrossUnitBoundaries(t *testing.T) {
	policy := timeslice.ChronoUnitSlice{Unit: timeslice.UnitMinute}
	base := time.Date(2026, 3, 4, 12, 30, 45, 0, time.UTC)
	tagged := run(t, policy, []int64{
		base.UnixMilli(),
		base.Add(10 * time.Second).UnixMilli(),
		base.Add(90 * time.Second).UnixMilli(),
	})
	want := []int64{0, 0, 2}
	for i, tg := range tagged {
		if tg.BucketIndex != want[i] {
			t.Fatalf("record %d: got bucket %d, want %d", i, tg.BucketIndex, want[i])
		}
	}
}

func TestChronoUnitSliceIsChronoUnitTrueAndPeriodFromFirstFalse(t *testing.T) {
	if !(timeslice.ChronoUnitSlice{Unit: timeslice.UnitSecond}).IsChronoUnit() {
		t.Fatalf("expected ChronoUnitSlice.IsChronoUnit() to report true")
	}
	if (timeslice.PeriodFromFirst{Period: time.Second}).IsChronoUnit() {
		t.Fatalf("expected PeriodFromFirst.IsChronoUnit() to report false")
	}
}
