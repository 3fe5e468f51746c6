// Package models provides data model definitions for the coachsync core.
package models

import "time"

// SyncStatus is the snapshot published to status subscribers.
// It is derived on demand and never persisted.
type SyncStatus struct {
	IsOnline       bool       `json:"isOnline"`
	IsSyncing      bool       `json:"isSyncing"`
	LastSync       *time.Time `json:"lastSync,omitempty"`
	PendingChanges int        `json:"pendingChanges"`
	FailedChanges  int        `json:"failedChanges"`
	Conflicts      int        `json:"conflicts"`
}
