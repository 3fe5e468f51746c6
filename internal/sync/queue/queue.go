// Package queue provides the durable offline operation queue: mutations
// recorded while the remote store is unreachable, replayed in priority
// order once it is back.
package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
	"github.com/kimhsiao/coachsync/internal/sync/overflow"
	"github.com/kimhsiao/coachsync/internal/uuid"
)

const (
	DefaultMaxSize    = 100
	DefaultMaxAge     = 7 * 24 * time.Hour
	DefaultMaxRetries = 3

	maxBackoff = time.Hour
)

// Config tunes a Queue. Zero values take the defaults.
type Config struct {
	MaxSize    int
	MaxAge     time.Duration
	MaxRetries int

	// RetryBackoff is the wait after the first failed replay; it doubles
	// per retry up to one hour. Zero disables backoff.
	RetryBackoff time.Duration

	// Parked persists actions that left automatic replay. Defaults to
	// an in-memory store.
	Parked QueueStore

	// Overflow receives evicted actions. Defaults to overflow.LogSink.
	Overflow overflow.Sink

	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Parked == nil {
		c.Parked = NewKVStore(NewMemoryKV(), ParkedStorageKey)
	}
	if c.Overflow == nil {
		c.Overflow = overflow.LogSink{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Stats is a read-only snapshot of the queue.
type Stats struct {
	Total    int        `json:"total"`
	Pending  int        `json:"pending"`
	Failed   int        `json:"failed"`
	Syncing  bool       `json:"syncing"`
	LastSync *time.Time `json:"lastSync,omitempty"`
	Evicted  int64      `json:"evicted"`
}

// Queue is the durable operation queue.
type Queue struct {
	store QueueStore
	cfg   Config

	// mu serializes every read-modify-write of the persisted lists.
	mu sync.Mutex

	hookMu   sync.RWMutex
	replayer Replayer
	onChange func()
	trigger  func()

	online   atomic.Bool
	draining atomic.Bool
	closed   atomic.Bool
	lastSync atomic.Int64
	evicted  atomic.Int64

	wg sync.WaitGroup
}

// New creates a Queue persisting to store and replaying through replayer.
// The queue starts offline.
func New(store QueueStore, replayer Replayer, cfg Config) *Queue {
	cfg.applyDefaults()
	return &Queue{
		store:    store,
		cfg:      cfg,
		replayer: replayer,
	}
}

// SetReplayer replaces the replayer used by later drains.
func (q *Queue) SetReplayer(r Replayer) {
	q.hookMu.Lock()
	q.replayer = r
	q.hookMu.Unlock()
}

// OnChange registers fn to run after every change to the queue contents
// or drain state. fn must not block.
func (q *Queue) OnChange(fn func()) {
	q.hookMu.Lock()
	q.onChange = fn
	q.hookMu.Unlock()
}

// SetTrigger replaces the drain fired by Enqueue while online. fn runs on
// its own goroutine. A nil fn restores the default, q.Drain.
func (q *Queue) SetTrigger(fn func()) {
	q.hookMu.Lock()
	q.trigger = fn
	q.hookMu.Unlock()
}

// SetOnline records connectivity. Drains are no-ops while offline.
func (q *Queue) SetOnline(online bool) {
	if q.online.Swap(online) != online {
		q.changed()
	}
}

// IsOnline reports the last connectivity signal.
func (q *Queue) IsOnline() bool { return q.online.Load() }

// IsDraining reports whether a drain is in progress.
func (q *Queue) IsDraining() bool { return q.draining.Load() }

// Evicted returns how many actions cleanup has evicted since start.
func (q *Queue) Evicted() int64 { return q.evicted.Load() }

// Close waits for background drains fired by Enqueue. Later enqueues no
// longer fire drains.
func (q *Queue) Close() {
	q.closed.Store(true)
	q.wg.Wait()
}

func (q *Queue) changed() {
	q.hookMu.RLock()
	fn := q.onChange
	q.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (q *Queue) now() time.Time { return q.cfg.Now() }

// Enqueue validates a, assigns its id and timestamp, makes room for it and
// persists it before returning. While online a drain is fired in the
// background.
func (q *Queue) Enqueue(ctx context.Context, a models.NewAction) (string, error) {
	if a.Priority == "" {
		a.Priority = models.PriorityMedium
	}
	if !a.Priority.Valid() {
		return "", apperrors.Newf(apperrors.ErrValidation, "unknown priority %q", a.Priority)
	}

	action := models.QueuedAction{
		ID:         uuid.NewTimeOrdered(),
		Type:       a.Type,
		Collection: a.Collection,
		DocID:      a.DocID,
		Data:       a.Data,
		Timestamp:  q.now().UnixMilli(),
		Priority:   a.Priority,
	}
	action = action.Clone()
	if err := validateAction(action); err != nil {
		return "", err
	}

	q.mu.Lock()
	actions, err := q.store.Load(ctx)
	if err != nil {
		q.mu.Unlock()
		return "", err
	}
	kept, expired, overflowed := q.cleanup(actions)
	kept = append(kept, action)
	if err := q.store.Save(ctx, kept); err != nil {
		q.mu.Unlock()
		return "", err
	}
	q.mu.Unlock()

	q.spill(ctx, expired, overflow.ReasonExpired)
	q.spill(ctx, overflowed, overflow.ReasonCapacity)

	logging.Debug("Action queued",
		map[string]interface{}{
			"action_id":  action.ID,
			"type":       action.Type,
			"collection": action.Collection,
			"priority":   action.Priority,
			"queue_size": len(kept),
		})

	q.changed()
	if q.online.Load() && !q.closed.Load() {
		q.fire()
	}
	return action.ID, nil
}

func (q *Queue) fire() {
	q.hookMu.RLock()
	fn := q.trigger
	q.hookMu.RUnlock()
	if fn == nil {
		fn = func() { q.Drain(context.Background()) }
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		fn()
	}()
}

// cleanup drops expired actions, then evicts lowest priority, oldest
// first, until one slot is free.
func (q *Queue) cleanup(actions []models.QueuedAction) (kept, expired, overflowed []models.QueuedAction) {
	cutoff := q.now().Add(-q.cfg.MaxAge).UnixMilli()
	kept = make([]models.QueuedAction, 0, len(actions)+1)
	for _, a := range actions {
		if a.Timestamp < cutoff {
			expired = append(expired, a)
			continue
		}
		kept = append(kept, a)
	}

	for len(kept) >= q.cfg.MaxSize {
		victim := 0
		for i := 1; i < len(kept); i++ {
			if evictBefore(kept[i], kept[victim]) {
				victim = i
			}
		}
		overflowed = append(overflowed, kept[victim])
		kept = append(kept[:victim], kept[victim+1:]...)
	}
	return kept, expired, overflowed
}

func evictBefore(a, b models.QueuedAction) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	return a.Timestamp < b.Timestamp
}

func (q *Queue) spill(ctx context.Context, actions []models.QueuedAction, reason overflow.Reason) {
	if len(actions) == 0 {
		return
	}
	q.evicted.Add(int64(len(actions)))
	logging.Warn("Evicting queued actions",
		map[string]interface{}{"count": len(actions), "reason": reason})
	if err := q.cfg.Overflow.Spill(ctx, actions, reason); err != nil {
		logging.ErrorWithCode("Overflow sink failed", string(apperrors.ErrOverflowFailure), err,
			map[string]interface{}{"count": len(actions), "reason": reason})
	}
}

// replayOrder sorts by priority rank descending, then timestamp
// ascending. Equal keys keep their stored order.
func replayOrder(actions []models.QueuedAction) []models.QueuedAction {
	out := append([]models.QueuedAction(nil), actions...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// backoff returns the wait after retry number n (n >= 1).
func (q *Queue) backoff(n int) time.Duration {
	if q.cfg.RetryBackoff <= 0 || n <= 0 {
		return 0
	}
	d := q.cfg.RetryBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (q *Queue) due(a models.QueuedAction, now time.Time) bool {
	if a.LastAttempt == nil {
		return true
	}
	return !now.Before(a.LastAttemptTime().Add(q.backoff(a.RetryCount)))
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomePark
)

// Drain replays queued actions sequentially in priority order. It returns
// zeros without doing anything while offline or while another drain runs.
func (q *Queue) Drain(ctx context.Context) DrainResult {
	var result DrainResult
	if !q.online.Load() {
		return result
	}
	if !q.draining.CompareAndSwap(false, true) {
		return result
	}
	defer func() {
		q.draining.Store(false)
		q.changed()
	}()

	q.hookMu.RLock()
	replayer := q.replayer
	q.hookMu.RUnlock()
	if replayer == nil {
		logging.Warn("Drain skipped: no replayer configured")
		return result
	}
	q.changed()

	q.mu.Lock()
	snapshot, err := q.store.Load(ctx)
	q.mu.Unlock()
	if err != nil {
		logging.ErrorWithCode("Failed to load queue for drain", string(apperrors.CodeOf(err)), err)
		return result
	}

	outcomes := make(map[string]outcome)
	updated := make(map[string]models.QueuedAction)

	for _, a := range replayOrder(snapshot) {
		if ctx.Err() != nil || !q.online.Load() {
			break
		}
		now := q.now()
		if !q.due(a, now) {
			continue
		}

		if err := validateAction(a); err != nil {
			q.park(&a, models.FailureValidation, err, false, now)
			outcomes[a.ID], updated[a.ID] = outcomePark, a
			result.Failed++
			continue
		}

		report, err := replayer.Replay(ctx, a)
		if err == nil {
			outcomes[a.ID] = outcomeDone
			result.Success++
			result.Conflicts += report.Conflicts
			continue
		}
		if ctx.Err() != nil {
			break
		}

		switch {
		case apperrors.Is(err, apperrors.ErrValidation):
			q.park(&a, models.FailureValidation, err, false, now)
			outcomes[a.ID] = outcomePark
			result.Failed++
		case !apperrors.Retryable(err):
			q.park(&a, models.FailureRejected, err, true, now)
			outcomes[a.ID] = outcomePark
			result.Failed++
		default:
			attempt := now.UnixMilli()
			a.RetryCount++
			a.LastAttempt = &attempt
			a.LastError = err.Error()
			if a.RetryCount >= q.cfg.MaxRetries {
				q.park(&a, models.FailureExhausted, err, false, now)
				outcomes[a.ID] = outcomePark
				result.Failed++
			} else {
				outcomes[a.ID] = outcomeRetry
				logging.Warn("Replay failed, will retry",
					map[string]interface{}{
						"action_id":   a.ID,
						"retry_count": a.RetryCount,
						"max_retries": q.cfg.MaxRetries,
						"error":       err.Error(),
					})
			}
		}
		updated[a.ID] = a
	}

	if err := q.commit(ctx, outcomes, updated); err != nil {
		logging.ErrorWithCode("Failed to persist drain outcome", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"success": result.Success, "failed": result.Failed})
	}

	q.lastSync.Store(q.now().UnixMilli())
	logging.Info("Queue drained",
		map[string]interface{}{"success": result.Success, "failed": result.Failed, "conflicts": result.Conflicts})
	return result
}

// park marks a as failed terminally. bump also consumes a retry.
func (q *Queue) park(a *models.QueuedAction, kind models.FailureKind, cause error, bump bool, now time.Time) {
	if bump {
		a.RetryCount++
	}
	if kind != models.FailureValidation || bump {
		attempt := now.UnixMilli()
		a.LastAttempt = &attempt
	}
	a.Failure = kind
	a.LastError = cause.Error()

	code := apperrors.ErrRetryExhausted
	switch kind {
	case models.FailureValidation:
		code = apperrors.ErrValidation
	case models.FailureRejected:
		code = apperrors.ErrRemoteRejected
	}
	logging.ErrorWithCode("Queued action parked", string(code), cause,
		map[string]interface{}{
			"action_id":   a.ID,
			"type":        a.Type,
			"collection":  a.Collection,
			"doc_id":      a.DocID,
			"retry_count": a.RetryCount,
			"failure":     kind,
		})
}

// commit merges drain outcomes into the current persisted list. Actions
// enqueued while the drain ran are kept as they are.
func (q *Queue) commit(ctx context.Context, outcomes map[string]outcome, updated map[string]models.QueuedAction) error {
	if len(outcomes) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.store.Load(ctx)
	if err != nil {
		return err
	}

	var active, parked []models.QueuedAction
	for _, a := range current {
		switch o, seen := outcomes[a.ID]; {
		case !seen:
			active = append(active, a)
		case o == outcomeRetry:
			active = append(active, updated[a.ID])
		case o == outcomePark:
			parked = append(parked, updated[a.ID])
		}
	}

	if len(parked) > 0 {
		if err := q.appendParked(ctx, parked); err != nil {
			return err
		}
	}
	return q.store.Save(ctx, active)
}

// appendParked adds actions to the parked list, evicting the oldest parked
// entries beyond MaxSize. Callers must hold q.mu.
func (q *Queue) appendParked(ctx context.Context, actions []models.QueuedAction) error {
	existing, err := q.cfg.Parked.Load(ctx)
	if err != nil {
		return err
	}
	all := append(existing, actions...)

	var dropped []models.QueuedAction
	if over := len(all) - q.cfg.MaxSize; over > 0 {
		dropped = append(dropped, all[:over]...)
		all = all[over:]
	}
	if err := q.cfg.Parked.Save(ctx, all); err != nil {
		return err
	}
	q.spill(ctx, dropped, overflow.ReasonCapacity)
	return nil
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	active, err := q.store.Load(ctx)
	if err != nil {
		return Stats{}, err
	}
	parked, err := q.cfg.Parked.Load(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := Stats{
		Total:   len(active) + len(parked),
		Pending: len(active),
		Failed:  len(parked),
		Syncing: q.draining.Load(),
		Evicted: q.evicted.Load(),
	}
	if ms := q.lastSync.Load(); ms > 0 {
		t := time.UnixMilli(ms)
		s.LastSync = &t
	}
	return s, nil
}

// List returns the active actions in stored order.
func (q *Queue) List(ctx context.Context) ([]models.QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Load(ctx)
}

// Parked returns the actions that left automatic replay.
func (q *Queue) Parked(ctx context.Context) ([]models.QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg.Parked.Load(ctx)
}

// Remove deletes an action from the active or the parked list.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	removed, err := q.removeLocked(ctx, id)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	logging.Info("Queued action removed",
		map[string]interface{}{"action_id": id, "parked": removed.Parked()})
	q.changed()
	return nil
}

func (q *Queue) removeLocked(ctx context.Context, id string) (models.QueuedAction, error) {
	for _, store := range []QueueStore{q.store, q.cfg.Parked} {
		actions, err := store.Load(ctx)
		if err != nil {
			return models.QueuedAction{}, err
		}
		for i, a := range actions {
			if a.ID != id {
				continue
			}
			rest := append(actions[:i:i], actions[i+1:]...)
			if err := store.Save(ctx, rest); err != nil {
				return models.QueuedAction{}, err
			}
			return a, nil
		}
	}
	return models.QueuedAction{}, apperrors.Newf(apperrors.ErrNotFound, "queued action %s not found", id)
}

// Retry moves a parked action back into the active queue with its retry
// budget reset. The action is restamped as queued now: its age bound
// restarts, it replays after older actions of the same priority, and
// replay treats remote changes made before the retry as older.
func (q *Queue) Retry(ctx context.Context, id string) error {
	q.mu.Lock()
	parked, err := q.cfg.Parked.Load(ctx)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	idx := -1
	for i, a := range parked {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return apperrors.Newf(apperrors.ErrNotFound, "parked action %s not found", id)
	}

	action := parked[idx]
	action.RetryCount = 0
	action.LastAttempt = nil
	action.LastError = ""
	action.Failure = models.FailureNone
	action.Timestamp = q.now().UnixMilli()

	active, err := q.store.Load(ctx)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	kept, expired, overflowed := q.cleanup(active)
	kept = append(kept, action)

	// Write the active list first: a crash in between duplicates the
	// action in both lists instead of losing it.
	if err := q.store.Save(ctx, kept); err != nil {
		q.mu.Unlock()
		return err
	}
	rest := append(parked[:idx:idx], parked[idx+1:]...)
	if err := q.cfg.Parked.Save(ctx, rest); err != nil {
		q.mu.Unlock()
		return err
	}
	q.mu.Unlock()

	q.spill(ctx, expired, overflow.ReasonExpired)
	q.spill(ctx, overflowed, overflow.ReasonCapacity)

	logging.Info("Parked action requeued", map[string]interface{}{"action_id": id})
	q.changed()
	if q.online.Load() && !q.closed.Load() {
		q.fire()
	}
	return nil
}
