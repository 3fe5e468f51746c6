// Package uuid provides identifier generation and validation for queued
// actions and documents.
package uuid

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Canonical 8-4-4-4-12 layout with an RFC 4122 variant nibble.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[47][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a random UUID v4, used for document ids.
func New() string {
	return uuid.New().String()
}

// NewTimeOrdered generates a UUID v7: a millisecond timestamp followed by
// random bits, so ids sort roughly by creation time.
func NewTimeOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		// The random source failed; fall back to v4 so enqueue still succeeds.
		return uuid.New().String()
	}
	return id.String()
}

// Timestamp extracts the creation time of a v7 id.
func Timestamp(s string) (time.Time, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 7 {
		return time.Time{}, fmt.Errorf("expected UUID v7, got v%d", id.Version())
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec), nil
}

// IsValid checks if a string is a canonical v4 or v7 UUID.
func IsValid(s string) bool {
	return uuidRegex.MatchString(s)
}

// Validate returns an error if the string is not a canonical v4 or v7 UUID.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID format: %q", s)
	}
	return nil
}
