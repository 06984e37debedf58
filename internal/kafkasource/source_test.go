package kafkasource

import (
	"context"
	"testing"
)

func TestNewValidatesConfig(t *testing.T) {
	cases := []Config{
		{Topic: "t", GroupID: "g"},
		{Brokers: []string{"localhost:9092"}, GroupID: "g"},
		{Brokers: []string{"localhost:9092"}, Topic: "t"},
	}
	for _, c := range cases {
		if _, err := New(c); err == nil {
			t.Errorf("expected New(%+v) to fail validation", c)
		}
	}
}

func TestNewDefaultsAttemptsAndTimeout(t *testing.T) {
	s, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "t", GroupID: "g"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()
	if s.maxAttempts != 3 {
		t.Fatalf("expected default maxAttempts=3, got %d", s.maxAttempts)
	}
	if s.readTimeout.Seconds() != 10 {
		t.Fatalf("expected default readTimeout=10s, got %s", s.readTimeout)
	}
}

func TestCommitCursorRejectsWrongType(t *testing.T) {
	s, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "t", GroupID: "g"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()
	if err := s.CommitCursor(context.Background(), "not-a-kafka-message"); err == nil {
		t.Fatalf("expected CommitCursor to reject a non-kafka.Message cursor")
	}
}
