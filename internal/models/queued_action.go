// Package models provides data model definitions for the coachsync core.
package models

import "time"

// ActionType is the kind of mutation a queued action replays.
type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionUpdate ActionType = "UPDATE"
	ActionDelete ActionType = "DELETE"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// RequiresDocID reports whether the action cannot be replayed without a target document.
func (t ActionType) RequiresDocID() bool {
	return t == ActionUpdate || t == ActionDelete
}

// Priority orders queued actions during a drain.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the ordering weight of p. Higher ranks replay first.
// Unknown priorities rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// FailureKind records why an action left the automatic retry queue.
type FailureKind string

const (
	// FailureNone marks an action still eligible for automatic replay.
	FailureNone FailureKind = ""
	// FailureExhausted marks an action that failed MaxRetries transient replays.
	FailureExhausted FailureKind = "exhausted"
	// FailureValidation marks an action that can never replay (e.g. missing docId).
	FailureValidation FailureKind = "validation"
	// FailureRejected marks an action the remote store refused permanently.
	FailureRejected FailureKind = "rejected"
)

// QueuedAction is a mutation recorded while the remote store was unreachable.
type QueuedAction struct {
	ID          string                 `json:"id"`
	Type        ActionType             `json:"type"`
	Collection  string                 `json:"collection"`
	DocID       string                 `json:"docId,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   int64                  `json:"timestamp"`
	RetryCount  int                    `json:"retryCount"`
	LastAttempt *int64                 `json:"lastAttempt,omitempty"`
	Priority    Priority               `json:"priority"`
	LastError   string                 `json:"lastError,omitempty"`
	Failure     FailureKind            `json:"failure,omitempty"`
}

// NewAction is the caller-supplied part of a QueuedAction.
type NewAction struct {
	Type       ActionType
	Collection string
	DocID      string
	Data       map[string]interface{}
	Priority   Priority
}

// Parked reports whether the action has left the automatic retry queue.
func (a *QueuedAction) Parked() bool {
	return a.Failure != FailureNone
}

// CreatedAt returns Timestamp as time.Time.
func (a *QueuedAction) CreatedAt() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// LastAttemptTime returns LastAttempt as time.Time, or the zero time if the
// action was never replayed.
func (a *QueuedAction) LastAttemptTime() time.Time {
	if a.LastAttempt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*a.LastAttempt)
}

// Clone returns a copy of the action whose Data map can be modified
// without affecting the original.
func (a QueuedAction) Clone() QueuedAction {
	if a.Data != nil {
		data := make(map[string]interface{}, len(a.Data))
		for k, v := range a.Data {
			data[k] = v
		}
		a.Data = data
	}
	if a.LastAttempt != nil {
		at := *a.LastAttempt
		a.LastAttempt = &at
	}
	return a
}
