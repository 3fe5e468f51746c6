// Package models provides data model definitions for the coachsync core.
package models

// ResolutionKind says which side a conflict resolution picked.
type ResolutionKind string

const (
	ResolutionLocal  ResolutionKind = "local"
	ResolutionRemote ResolutionKind = "remote"
	ResolutionMerge  ResolutionKind = "merge"
	ResolutionManual ResolutionKind = "manual"
)

// ConflictData is a single field on which a local and a remote snapshot disagree.
type ConflictData struct {
	ID          string      `json:"id"`
	Field       string      `json:"field"`
	LocalValue  interface{} `json:"localValue"`
	RemoteValue interface{} `json:"remoteValue"`
	Timestamp   int64       `json:"timestamp"`
	UserID      string      `json:"userId"`
}

// ConflictResolution is the outcome chosen for one ConflictData.
// ResolvedValue is nil when Resolution is manual.
type ConflictResolution struct {
	ID            string         `json:"id"`
	Field         string         `json:"field"`
	ResolvedValue interface{}    `json:"resolvedValue"`
	Resolution    ResolutionKind `json:"resolution"`
	Timestamp     int64          `json:"timestamp"`
	UserID        string         `json:"userId"`
}

// IsManual reports whether the resolution is waiting for a human decision.
func (r *ConflictResolution) IsManual() bool {
	return r.Resolution == ResolutionManual
}

// PendingConflict is a manual resolution waiting for user input, together
// with the record it belongs to.
type PendingConflict struct {
	ConflictResolution
	Collection  string      `json:"collection"`
	DocID       string      `json:"docId"`
	LocalValue  interface{} `json:"localValue"`
	RemoteValue interface{} `json:"remoteValue"`
}
