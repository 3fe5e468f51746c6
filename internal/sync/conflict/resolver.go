// Package conflict detects field-level disagreements between a local and a
// remote snapshot of the same record and resolves them with per-field
// strategies.
package conflict

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
)

// UnknownUser attributes conflicts whose local snapshot has no userId.
const UnknownUser = "unknown"

// Resolver holds the strategy table. It is safe for concurrent use.
type Resolver struct {
	mu         sync.RWMutex
	strategies map[string]FieldStrategy

	presence bool
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPresenceConflicts makes a field present on only one side count as a
// conflict. By default such fields are skipped.
func WithPresenceConflicts(enabled bool) Option {
	return func(r *Resolver) {
		r.presence = enabled
	}
}

// WithClock overrides the clock used for conflict timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a Resolver preloaded with DefaultStrategies.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		strategies: make(map[string]FieldStrategy),
		now:        time.Now,
	}
	for _, fs := range DefaultStrategies() {
		r.strategies[fs.Field] = fs
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterStrategy adds or replaces the strategy for fs.Field. A Merge
// strategy without a function picks up the built-in one for that field,
// if any.
func (r *Resolver) RegisterStrategy(fs FieldStrategy) error {
	if fs.Field == "" {
		return apperrors.New(apperrors.ErrInvalid, "strategy field is required")
	}
	if _, err := ParseStrategy(string(fs.Strategy)); err != nil {
		return err
	}
	if fs.Strategy == Merge && fs.Merge == nil {
		fs.Merge = builtinMerges[fs.Field]
	}

	r.mu.Lock()
	r.strategies[fs.Field] = fs
	r.mu.Unlock()
	return nil
}

// Configure registers strategies by name, as read from configuration.
func (r *Resolver) Configure(strategies map[string]string) error {
	for field, name := range strategies {
		st, err := ParseStrategy(name)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, fmt.Sprintf("conflict strategy for %q", field), err)
		}
		if err := r.RegisterStrategy(FieldStrategy{Field: field, Strategy: st}); err != nil {
			return err
		}
	}
	return nil
}

// Strategy returns the strategy registered for field, if any.
func (r *Resolver) Strategy(field string) (FieldStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fs, ok := r.strategies[field]
	return fs, ok
}

// Strategies returns the registered strategies sorted by field.
func (r *Resolver) Strategies() []FieldStrategy {
	r.mu.RLock()
	out := make([]FieldStrategy, 0, len(r.strategies))
	for _, fs := range r.strategies {
		out = append(out, fs)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// DetectConflicts compares local and remote field by field and returns one
// ConflictData per field whose values differ, sorted by field name.
func (r *Resolver) DetectConflicts(local, remote map[string]interface{}) []models.ConflictData {
	fields := make(map[string]struct{}, len(local)+len(remote))
	for k := range local {
		fields[k] = struct{}{}
	}
	for k := range remote {
		fields[k] = struct{}{}
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	ts := r.now().UnixMilli()
	user := attribution(local)

	var conflicts []models.ConflictData
	for _, field := range names {
		lv, rv := local[field], remote[field]
		if DeepEqual(lv, rv) {
			continue
		}
		if (lv == nil) != (rv == nil) && !r.presence {
			continue
		}
		conflicts = append(conflicts, models.ConflictData{
			ID:          fmt.Sprintf("%s_%d", field, ts),
			Field:       field,
			LocalValue:  lv,
			RemoteValue: rv,
			Timestamp:   ts,
			UserID:      user,
		})
	}

	if len(conflicts) > 0 {
		logging.Debug("Field conflicts detected",
			map[string]interface{}{"count": len(conflicts), "user_id": user})
	}
	return conflicts
}

func attribution(local map[string]interface{}) string {
	switch v := local["userId"].(type) {
	case nil:
		return UnknownUser
	case string:
		if v == "" {
			return UnknownUser
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

// ResolveConflicts maps every conflict to exactly one resolution. Fields
// without a registered strategy resolve last-write-wins (remote).
func (r *Resolver) ResolveConflicts(conflicts []models.ConflictData) []models.ConflictResolution {
	out := make([]models.ConflictResolution, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, r.resolve(c))
	}
	return out
}

func (r *Resolver) resolve(c models.ConflictData) models.ConflictResolution {
	res := models.ConflictResolution{
		ID:        c.ID,
		Field:     c.Field,
		Timestamp: c.Timestamp,
		UserID:    c.UserID,
	}

	fs, ok := r.Strategy(c.Field)
	if !ok {
		fs.Strategy = LastWriteWins
	}

	switch fs.Strategy {
	case FirstWriteWins:
		res.ResolvedValue = c.LocalValue
		res.Resolution = models.ResolutionLocal
	case Merge:
		if fs.Merge == nil {
			res.ResolvedValue = c.RemoteValue
			res.Resolution = models.ResolutionRemote
			break
		}
		res.ResolvedValue = fs.Merge(c.LocalValue, c.RemoteValue)
		res.Resolution = models.ResolutionMerge
	case Manual:
		res.ResolvedValue = nil
		res.Resolution = models.ResolutionManual
		logging.Warn("Conflict requires manual resolution",
			map[string]interface{}{"conflict_id": c.ID, "field": c.Field, "user_id": c.UserID})
	default:
		res.ResolvedValue = c.RemoteValue
		res.Resolution = models.ResolutionRemote
	}
	return res
}

// ApplyResolutions returns a shallow copy of base with every automatic
// resolution applied. Manual resolutions and nil values leave the base
// value untouched. base is never modified.
func ApplyResolutions(base map[string]interface{}, resolutions []models.ConflictResolution) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, res := range resolutions {
		if res.IsManual() || res.ResolvedValue == nil {
			continue
		}
		out[res.Field] = res.ResolvedValue
	}
	return out
}

// ManualResolutionRequired returns the resolutions waiting for a human.
func ManualResolutionRequired(resolutions []models.ConflictResolution) []models.ConflictResolution {
	var out []models.ConflictResolution
	for _, res := range resolutions {
		if res.IsManual() {
			out = append(out, res)
		}
	}
	return out
}
