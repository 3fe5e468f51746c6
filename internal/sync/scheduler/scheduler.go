// Package scheduler drives background synchronization: a periodic sync
// while online, a connectivity probe and an optional cron schedule.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kimhsiao/coachsync/internal/docstore"
	"github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
)

// Trigger names what started a scheduled sync.
type Trigger string

const (
	TriggerInterval Trigger = "interval"
	TriggerCron     Trigger = "cron"
)

// Syncer is the component the scheduler drives.
type Syncer interface {
	IsOnline() bool
	IsSyncing() bool
	SetOnline(online bool)

	// ScheduledSync runs one sync pass and returns how many queued
	// actions it settled.
	ScheduledSync(ctx context.Context, trigger Trigger) int
}

// Scheduler manages background sync operations.
type Scheduler struct {
	syncer Syncer
	prober docstore.Pinger
	config Config

	cron   *cron.Cron
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	isRunning bool
	lastRun   time.Time
	runs      int64
	lastProbe time.Time
	probeErr  error
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval  time.Duration // periodic sync while online (default: 30 seconds)
	ProbeInterval time.Duration // connectivity probe; 0 disables
	ProbeTimeout  time.Duration
	SyncTimeout   time.Duration
	Cron          string // optional standard cron expression for an extra sync
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  30 * time.Second,
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		SyncTimeout:   5 * time.Minute,
	}
}

// NewScheduler creates a Scheduler. prober may be nil, in which case
// connectivity is left to whoever calls Syncer.SetOnline.
func NewScheduler(syncer Syncer, prober docstore.Pinger, config *Config) *Scheduler {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaults.SyncInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaults.SyncTimeout
	}

	return &Scheduler{
		syncer: syncer,
		prober: prober,
		config: cfg,
	}
}

// Start starts the background loops. It is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	s.stopCh = make(chan struct{})

	if s.config.Cron != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.config.Cron, func() { s.runSync(ctx, TriggerCron) }); err != nil {
			return errors.Wrap(errors.ErrConfig, "invalid sync cron expression", err)
		}
		c.Start()
		s.cron = c
	}

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx)

	if s.prober != nil && s.config.ProbeInterval > 0 {
		s.wg.Add(1)
		go s.probeLoop(ctx)
	}

	s.isRunning = true
	logging.Info("Background sync scheduler started",
		map[string]interface{}{
			"sync_interval":  s.config.SyncInterval.String(),
			"probe_interval": s.config.ProbeInterval.String(),
			"cron":           s.config.Cron,
		})
	return nil
}

// Stop stops the scheduler and waits for its goroutines. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// periodicSyncLoop runs a sync on every tick while online and idle.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runSync(ctx, TriggerInterval)
		}
	}
}

// probeLoop pings the remote store and feeds the result to the syncer.
func (s *Scheduler) probeLoop(ctx context.Context) {
	defer s.wg.Done()

	s.probe(ctx)

	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.probe(ctx)
		}
	}
}

func (s *Scheduler) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()

	err := s.prober.Ping(probeCtx)
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	s.lastProbe = time.Now()
	s.probeErr = err
	s.mu.Unlock()

	if err != nil {
		logging.Debug("Connectivity probe failed",
			map[string]interface{}{"error": err.Error()})
	}
	s.syncer.SetOnline(err == nil)
}

// runSync runs one sync pass unless offline or a sync is already running.
func (s *Scheduler) runSync(ctx context.Context, trigger Trigger) bool {
	if !s.syncer.IsOnline() {
		logging.Debug("Skipping sync - offline", map[string]interface{}{"trigger": string(trigger)})
		return false
	}
	if s.syncer.IsSyncing() {
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": string(trigger)})
		return false
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
	defer cancel()

	settled := s.syncer.ScheduledSync(syncCtx, trigger)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.runs++
	s.mu.Unlock()

	if settled > 0 {
		logging.Info("Scheduled sync completed",
			map[string]interface{}{"trigger": string(trigger), "settled": settled})
	}
	return true
}

// Status is a snapshot of the scheduler.
type Status struct {
	IsRunning bool       `json:"isRunning"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	Runs      int64      `json:"runs"`
	LastProbe *time.Time `json:"lastProbe,omitempty"`
	ProbeErr  string     `json:"probeError,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning: s.isRunning,
		Runs:      s.runs,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		status.LastRun = &t
	}
	if !s.lastProbe.IsZero() {
		t := s.lastProbe
		status.LastProbe = &t
	}
	if s.probeErr != nil {
		status.ProbeErr = s.probeErr.Error()
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
