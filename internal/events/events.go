// Package events carries domain notifications (receipt decided, reward
// issued, reward transitioned) to whoever cares. Delivery is best effort and
// never blocks or fails the operation that produced the event.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	ReceiptDecided     Kind = "receipt.decided"
	ReceiptResolved    Kind = "receipt.resolved"
	RewardIssued       Kind = "reward.issued"
	RewardTransitioned Kind = "reward.transitioned"
)

// Event is a single notification.
type Event struct {
	Kind       Kind
	At         time.Time
	CustomerID uuid.UUID
	ReceiptID  *uuid.UUID
	RewardID   *uuid.UUID
	Status     string
	Detail     string
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that writes events to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, e Event) {
	attrs := []any{"kind", e.Kind, "customer_id", e.CustomerID, "status", e.Status}
	if e.ReceiptID != nil {
		attrs = append(attrs, "receipt_id", *e.ReceiptID)
	}
	if e.RewardID != nil {
		attrs = append(attrs, "reward_id", *e.RewardID)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	s.logger.InfoContext(ctx, "domain event", attrs...)
}

// Recorder keeps events in memory; used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
