package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// defaultSubjectPrefix is where the execution engine publishes run events:
	// one subject per run, runs.<runID>.events.
	defaultSubjectPrefix = "runs"

	fetchBatchSize = 256
	fetchWait      = 2 * time.Second
)

// NATSLog reads run event streams from NATS JetStream.
//
// Each run's events are published to runs.<runID>.events and retained by the
// stream; GetRunEvents replays the subject from the beginning, preserving
// publication order.
type NATSLog struct {
	js            nats.JetStreamContext
	subjectPrefix string
	logger        *zap.Logger
}

// NATSLogOption configures a NATSLog.
type NATSLogOption func(*NATSLog)

// WithSubjectPrefix overrides the default "runs" subject prefix.
func WithSubjectPrefix(prefix string) NATSLogOption {
	return func(l *NATSLog) {
		l.subjectPrefix = prefix
	}
}

// NewNATSLog creates a JetStream-backed event log reader.
func NewNATSLog(nc *nats.Conn, logger *zap.Logger, opts ...NATSLogOption) (*NATSLog, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	l := &NATSLog{
		js:            js,
		subjectPrefix: defaultSubjectPrefix,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// GetRunEvents replays the full event stream for runID. A run with no
// published events yields an empty slice.
func (l *NATSLog) GetRunEvents(ctx context.Context, runID string) ([]Event, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	subject := fmt.Sprintf("%s.%s.events", l.subjectPrefix, runID)

	sub, err := l.js.PullSubscribe(subject, "",
		nats.DeliverAll(),
		nats.AckNone(),
		nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrNoMatchingStream) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("subscribing to run events: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			l.logger.Debug("unsubscribe failed", zap.Error(err))
		}
	}()

	var events []Event
	for {
		msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("fetching run events: %w", err)
		}

		for _, msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				l.logger.Warn("skipping malformed run event",
					zap.String("run_id", runID),
					zap.Error(err))
				continue
			}
			events = append(events, ev)
		}

		if len(msgs) < fetchBatchSize {
			break
		}
	}

	l.logger.Debug("fetched run events",
		zap.String("run_id", runID),
		zap.Int("count", len(events)))

	if events == nil {
		events = []Event{}
	}
	return events, nil
}

var _ Log = (*NATSLog)(nil)
