// Package app is the composition root: it builds the stores, queue,
// resolver and coordinator described by a config.Config and owns their
// lifetimes.
package app

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/kimhsiao/coachsync/internal/config"
	"github.com/kimhsiao/coachsync/internal/db"
	"github.com/kimhsiao/coachsync/internal/docstore"
	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
	syncpkg "github.com/kimhsiao/coachsync/internal/sync"
	"github.com/kimhsiao/coachsync/internal/sync/conflict"
	"github.com/kimhsiao/coachsync/internal/sync/overflow"
	"github.com/kimhsiao/coachsync/internal/sync/queue"
)

// App holds the wired core.
type App struct {
	Config      config.Config
	Store       docstore.Store
	Queue       *queue.Queue
	Resolver    *conflict.Resolver
	Coordinator *syncpkg.Coordinator

	closers []func() error
}

// ConfigureLogging installs the global logger described by cfg.
func ConfigureLogging(cfg config.LoggingConfig) {
	logging.Configure(os.Stderr, logging.ParseLevel(cfg.Level), logging.Format(strings.ToLower(cfg.Format)))
}

// New builds every component. On error, whatever was already opened is
// closed again.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, closeStore, err := NewStore(ctx, cfg.Remote)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	active, parked, closeKV, err := OpenQueueStores(cfg.Queue.Storage)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeKV)

	sink, err := NewOverflowSink(ctx, cfg.Overflow)
	if err != nil {
		return nil, err
	}

	a.Queue = queue.New(active, nil, queue.Config{
		MaxSize:      cfg.Queue.MaxSize,
		MaxAge:       cfg.Queue.MaxAge,
		MaxRetries:   cfg.Queue.MaxRetries,
		RetryBackoff: cfg.Queue.RetryBackoff,
		Parked:       parked,
		Overflow:     sink,
	})

	a.Resolver = conflict.NewResolver(conflict.WithPresenceConflicts(cfg.Conflict.PresenceConflicts))
	if err := a.Resolver.Configure(cfg.Conflict.Strategies); err != nil {
		return nil, err
	}

	a.Coordinator = syncpkg.NewCoordinator(a.Store, a.Queue, a.Resolver, syncpkg.Config{
		SyncInterval:  cfg.Sync.Interval,
		ProbeInterval: cfg.Sync.ProbeInterval,
		SyncTimeout:   cfg.Sync.Timeout,
		Cron:          cfg.Sync.Cron,
		UserID:        cfg.Sync.UserID,
		NotifyBuffer:  cfg.Sync.NotifyBuffer,
	})

	logging.Info("Sync core initialized",
		map[string]interface{}{
			"queue_storage": cfg.Queue.Storage.Type,
			"remote":        cfg.Remote.Type,
			"overflow":      cfg.Overflow.Type,
		})
	ok = true
	return a, nil
}

// Start starts background scheduling.
func (a *App) Start(ctx context.Context) error {
	return a.Coordinator.Start(ctx)
}

// Close stops the coordinator, waits for background drains and closes
// the stores.
func (a *App) Close() error {
	if a.Coordinator != nil {
		a.Coordinator.Close()
	}
	if a.Queue != nil {
		a.Queue.Close()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewStore opens the remote document store.
func NewStore(ctx context.Context, cfg config.RemoteConfig) (docstore.Store, func() error, error) {
	switch cfg.Type {
	case config.RemoteMemory:
		return docstore.NewMemoryStore(), func() error { return nil }, nil
	case config.RemotePostgres:
		pg, err := docstore.NewPostgresStore(ctx, docstore.PostgresConfig{
			DSN:           cfg.DSN,
			MaxConns:      cfg.MaxConns,
			Table:         cfg.Table,
			NotifyChannel: cfg.NotifyChannel,
		})
		if err != nil {
			return nil, nil, err
		}
		return pg, func() error { pg.Close(); return nil }, nil
	}
	return nil, nil, apperrors.Newf(apperrors.ErrConfig, "unknown remote type %q", cfg.Type)
}

// OpenQueueStores opens the active and parked queue lists on the
// configured storage.
func OpenQueueStores(cfg config.StorageConfig) (active, parked queue.QueueStore, closer func() error, err error) {
	key := cfg.Key
	if key == "" {
		key = queue.DefaultStorageKey
	}
	parkedKey := key + "_parked"

	var kv queue.KV
	closer = func() error { return nil }

	switch cfg.Type {
	case config.StorageMemory:
		kv = queue.NewMemoryKV()
	case config.StorageFile:
		fkv, ferr := queue.NewFileKV(cfg.Path)
		if ferr != nil {
			return nil, nil, nil, ferr
		}
		kv = fkv
	case config.StorageSQLite:
		d, derr := db.Open(cfg.Path)
		if derr != nil {
			return nil, nil, nil, apperrors.Wrap(apperrors.ErrDatabase, "open queue database", derr)
		}
		kv = db.NewKV(d)
		closer = d.Close
	default:
		return nil, nil, nil, apperrors.Newf(apperrors.ErrConfig, "unknown queue storage %q", cfg.Type)
	}

	return queue.NewKVStore(kv, key), queue.NewKVStore(kv, parkedKey), closer, nil
}

// NewOverflowSink builds the sink for evicted actions. S3 archives are
// written in addition to the log entry.
func NewOverflowSink(ctx context.Context, cfg config.OverflowConfig) (overflow.Sink, error) {
	switch cfg.Type {
	case "", config.OverflowLog:
		return overflow.LogSink{}, nil
	case config.OverflowS3:
		s3, err := overflow.NewS3Sink(ctx, overflow.S3Config{
			Provider:      overflow.Provider(cfg.Provider),
			Bucket:        cfg.Bucket,
			Region:        cfg.Region,
			Endpoint:      cfg.Endpoint,
			AccountID:     cfg.AccountID,
			Prefix:        cfg.Prefix,
			UseSSL:        cfg.UseSSL,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			UsePathStyle:  cfg.UsePathStyle,
			EncryptionKey: cfg.EncryptionKey,
		})
		if err != nil {
			return nil, err
		}
		return overflow.Multi{overflow.LogSink{}, s3}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrConfig, "unknown overflow type %q", cfg.Type)
}
