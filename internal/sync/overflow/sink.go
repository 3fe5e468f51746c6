// Package overflow receives queued actions the queue had to evict, so a
// capacity or age eviction is never a silent loss.
package overflow

import (
	"context"

	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
)

// Reason says why actions were evicted.
type Reason string

const (
	ReasonExpired  Reason = "expired"
	ReasonCapacity Reason = "capacity"
)

// Sink receives evicted actions. A failing Sink never blocks eviction.
type Sink interface {
	Spill(ctx context.Context, actions []models.QueuedAction, reason Reason) error
}

// LogSink writes one WARN entry per evicted action.
type LogSink struct{}

// Spill implements Sink.
func (LogSink) Spill(_ context.Context, actions []models.QueuedAction, reason Reason) error {
	for _, a := range actions {
		logging.Warn("Queued action evicted",
			map[string]interface{}{
				"action_id":   a.ID,
				"type":        a.Type,
				"collection":  a.Collection,
				"doc_id":      a.DocID,
				"priority":    a.Priority,
				"retry_count": a.RetryCount,
				"timestamp":   a.Timestamp,
				"reason":      reason,
			})
	}
	return nil
}

// Multi fans evicted actions out to several sinks. Every sink is called;
// the first error is returned.
type Multi []Sink

// Spill implements Sink.
func (m Multi) Spill(ctx context.Context, actions []models.QueuedAction, reason Reason) error {
	var first error
	for _, s := range m {
		if err := s.Spill(ctx, actions, reason); err != nil && first == nil {
			first = err
		}
	}
	return first
}
