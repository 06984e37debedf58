// Package kafkasource adapts github.com/segmentio/kafka-go's consumer Reader
// to the core pipeline's upstream record.WithContext stream. It is the
// read-side mirror of the teacher's KafkaProducer
// (kernel/internal/audit/kafka_producer.go): same library, same retry/backoff
// shape for transient errors, but consuming instead of producing and
// committing offsets instead of returning them.
package kafkasource

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/arborlabs/kbackup/internal/record"
)

// Config configures the Kafka consumer source.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	// MaxAttempts bounds the consecutive failed FetchMessage attempts before
	// Run gives up. Defaults to 3 if <= 0, matching KafkaProducerConfig.
	MaxAttempts int

	// ReadTimeout is the per-attempt timeout. Defaults to 10s if zero.
	ReadTimeout time.Duration
}

// Source wraps a kafka.Reader as the pipeline's upstream record source. Its
// CursorContext values are kafka.Message, so CommitCursor can hand them
// straight back to reader.CommitMessages.
type Source struct {
	reader      *kafka.Reader
	topic       string
	maxAttempts int
	readTimeout time.Duration
}

// New constructs a Source. GroupID must be set: the sink relies on
// consumer-group offset commits, not a stateless partition reader.
func New(cfg Config) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkasource: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafkasource: topic required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafkasource: consumer group id required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
		// CommitInterval=0 makes CommitMessages synchronous, which is what
		// lets the sink only advance a cursor once its bytes are durably
		// acknowledged by storage (spec.md §4.7).
		CommitInterval: 0,
	})

	return &Source{
		reader:      reader,
		topic:       cfg.Topic,
		maxAttempts: cfg.MaxAttempts,
		readTimeout: cfg.ReadTimeout,
	}, nil
}

// Run reads messages until ctx is cancelled or FetchMessage fails
// MaxAttempts times in a row (a ReadTimeout expiry with no message is not a
// failed attempt), emitting record.WithContext values (CursorContext = kafka.Message) to out.
// It closes out before returning, mirroring timeslice.Assign's ownership of
// its output channel.
func (s *Source) Run(ctx context.Context, out chan<- record.WithContext) error {
	defer close(out)

	backoff := 100 * time.Millisecond
	attempt := 0
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
		msg, err := s.reader.FetchMessage(attemptCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == context.DeadlineExceeded {
				// No message arrived within ReadTimeout: the topic is idle.
				continue
			}
			attempt++
			if attempt >= s.maxAttempts {
				return fmt.Errorf("kafkasource: fetch message failed after %d attempts: %w", attempt, err)
			}
			time.Sleep(backoff)
			if backoff < 2*time.Second {
				backoff *= 2
			}
			continue
		}
		attempt = 0
		backoff = 100 * time.Millisecond

		wc := record.WithContext{
			Record: record.Record{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Timestamp: msg.Time.UnixMilli(),
			},
			Ctx: msg,
		}

		select {
		case out <- wc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CommitCursor commits one record's offset back to the consumer group,
// advancing the consumed frontier (spec.md §4.7, §5 ordering guarantees).
func (s *Source) CommitCursor(ctx context.Context, cursor record.CursorContext) error {
	msg, ok := cursor.(kafka.Message)
	if !ok {
		return fmt.Errorf("kafkasource: unrecognized cursor context %#v", cursor)
	}
	return s.reader.CommitMessages(ctx, msg)
}

// Close releases the underlying reader's connections.
func (s *Source) Close() error {
	return s.reader.Close()
}
