// Package sync coordinates offline-first synchronization. The Coordinator
// owns connectivity state, routes writes to the remote store or the
// durable queue, drains the queue when connectivity allows and publishes
// a single status snapshot to observers.
package sync

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/coachsync/internal/docstore"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
	"github.com/kimhsiao/coachsync/internal/sync/conflict"
	"github.com/kimhsiao/coachsync/internal/sync/queue"
	"github.com/kimhsiao/coachsync/internal/sync/scheduler"
)

// State is the coordinator's connectivity state.
type State string

const (
	StateOffline State = "offline"
	StateIdle    State = "online-idle"
	StateSyncing State = "online-syncing"
)

// Config holds coordinator configuration.
type Config struct {
	SyncInterval  time.Duration // default 30s
	ProbeInterval time.Duration // 0 disables probing
	SyncTimeout   time.Duration
	Cron          string

	// UserID is stamped on written documents that carry no userId.
	UserID string

	NotifyBuffer int
	Now          func() time.Time
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Coordinator drives synchronization between the local queue and the
// remote store. Construct it with NewCoordinator.
type Coordinator struct {
	store    docstore.Store
	queue    *queue.Queue
	resolver *conflict.Resolver
	cfg      Config
	sched    *scheduler.Scheduler

	stateMu  stdsync.Mutex
	online   atomic.Bool
	syncing  atomic.Bool
	lastSync atomic.Int64
	stopped  atomic.Bool

	pendingMu stdsync.RWMutex
	pending   map[string]models.PendingConflict

	statusMu   stdsync.Mutex
	lastStatus *models.SyncStatus
	status     *broadcaster[models.SyncStatus]
	conflicts  *broadcaster[[]models.ConflictData]

	wg stdsync.WaitGroup
}

// NewCoordinator wires store, q and resolver together. The coordinator
// takes over q's replayer, drain trigger and change hook. It starts
// offline; call SetOnline or Start (which probes the store when it
// implements docstore.Pinger).
func NewCoordinator(store docstore.Store, q *queue.Queue, resolver *conflict.Resolver, cfg Config) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if resolver == nil {
		resolver = conflict.NewResolver()
	}

	c := &Coordinator{
		store:     store,
		queue:     q,
		resolver:  resolver,
		cfg:       cfg,
		pending:   make(map[string]models.PendingConflict),
		status:    newBroadcaster[models.SyncStatus]("sync.status", cfg.NotifyBuffer),
		conflicts: newBroadcaster[[]models.ConflictData]("sync.conflicts", cfg.NotifyBuffer),
	}

	q.SetReplayer(queue.ReplayFunc(c.replay))
	q.SetTrigger(func() { c.Sync(context.Background()) })
	q.OnChange(c.publishStatus)

	var prober docstore.Pinger
	if p, ok := store.(docstore.Pinger); ok {
		prober = p
	}
	c.sched = scheduler.NewScheduler(c, prober, &scheduler.Config{
		SyncInterval:  cfg.SyncInterval,
		ProbeInterval: cfg.ProbeInterval,
		SyncTimeout:   cfg.SyncTimeout,
		Cron:          cfg.Cron,
	})
	return c
}

func (c *Coordinator) now() time.Time { return c.cfg.Now() }

// Start starts background scheduling: periodic sync, connectivity probing
// and the optional cron schedule.
func (c *Coordinator) Start(ctx context.Context) error {
	c.stopped.Store(false)
	return c.sched.Start(ctx)
}

// Stop stops background scheduling and waits for syncs it started.
// It is safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopped.Store(true)
	c.sched.Stop()
	c.wg.Wait()
}

// SchedulerStatus reports background scheduling: whether it runs, the
// last scheduled sync and the last connectivity probe.
func (c *Coordinator) SchedulerStatus() scheduler.Status {
	return c.sched.GetStatus()
}

// Close stops the coordinator and ends every subscription.
func (c *Coordinator) Close() {
	c.Stop()
	c.status.close()
	c.conflicts.close()
}

// State returns the current state.
func (c *Coordinator) State() State {
	switch {
	case !c.online.Load():
		return StateOffline
	case c.IsSyncing():
		return StateSyncing
	default:
		return StateIdle
	}
}

// IsOnline reports the last connectivity signal.
func (c *Coordinator) IsOnline() bool { return c.online.Load() }

// IsSyncing reports whether a drain is running.
func (c *Coordinator) IsSyncing() bool {
	return c.syncing.Load() || c.queue.IsDraining()
}

// SetOnline records a connectivity signal. Going online starts a sync in
// the background.
func (c *Coordinator) SetOnline(online bool) {
	c.stateMu.Lock()
	if c.online.Load() == online {
		c.stateMu.Unlock()
		return
	}
	c.online.Store(online)
	c.queue.SetOnline(online)
	c.stateMu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	c.publishStatus()

	if online && !c.stopped.Load() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Sync(context.Background())
		}()
	}
}

// Sync drains the queue once. It returns zeros while offline or when a
// sync is already running.
func (c *Coordinator) Sync(ctx context.Context) SyncResult {
	if !c.online.Load() {
		return SyncResult{}
	}
	if !c.syncing.CompareAndSwap(false, true) {
		logging.Debug("Sync already in progress, skipping", nil)
		return SyncResult{}
	}
	c.publishStatus()

	start := c.now()
	drained := c.queue.Drain(ctx)
	c.lastSync.Store(c.now().UnixMilli())
	c.syncing.Store(false)
	c.publishStatus()

	result := SyncResult{
		Success:   drained.Success,
		Failed:    drained.Failed,
		Conflicts: drained.Conflicts,
	}
	if result != (SyncResult{}) {
		logging.Info("Sync completed",
			map[string]interface{}{
				"success":     result.Success,
				"failed":      result.Failed,
				"conflicts":   result.Conflicts,
				"duration_ms": c.now().Sub(start).Milliseconds(),
			})
	}
	return result
}

// ForceSync is Sync requested explicitly by the user. It does not bypass
// the single-flight guard.
func (c *Coordinator) ForceSync(ctx context.Context) SyncResult {
	logging.Info("Manual sync requested", map[string]interface{}{"state": string(c.State())})
	return c.Sync(ctx)
}

// ScheduledSync implements scheduler.Syncer.
func (c *Coordinator) ScheduledSync(ctx context.Context, trigger scheduler.Trigger) int {
	res := c.Sync(ctx)
	return res.Success + res.Failed
}

// Status computes the current status snapshot.
func (c *Coordinator) Status(ctx context.Context) models.SyncStatus {
	st := models.SyncStatus{
		IsOnline:  c.online.Load(),
		IsSyncing: c.IsSyncing(),
		Conflicts: c.pendingCount(),
	}
	if ms := c.lastSync.Load(); ms > 0 {
		t := time.UnixMilli(ms)
		st.LastSync = &t
	}

	stats, err := c.queue.Stats(ctx)
	if err != nil {
		logging.Error("Failed to read queue stats", err)
		return st
	}
	st.PendingChanges = stats.Pending
	st.FailedChanges = stats.Failed
	return st
}

// OnStatusChange registers fn for every status transition and returns its
// unsubscribe function. Callbacks run on a dedicated goroutine per
// subscriber, in order; a subscriber that falls behind misses updates.
func (c *Coordinator) OnStatusChange(fn func(models.SyncStatus)) func() {
	return c.status.subscribe(fn)
}

// OnConflicts registers fn for every non-empty set of detected conflicts.
func (c *Coordinator) OnConflicts(fn func([]models.ConflictData)) func() {
	return c.conflicts.subscribe(fn)
}

// publishStatus broadcasts the current status if it differs from the last
// one published.
func (c *Coordinator) publishStatus() {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	st := c.Status(context.Background())
	if c.lastStatus != nil && sameStatus(*c.lastStatus, st) {
		return
	}
	c.lastStatus = &st
	c.status.publish(st)
}

func sameStatus(a, b models.SyncStatus) bool {
	if (a.LastSync == nil) != (b.LastSync == nil) {
		return false
	}
	if a.LastSync != nil && !a.LastSync.Equal(*b.LastSync) {
		return false
	}
	a.LastSync, b.LastSync = nil, nil
	return a == b
}
