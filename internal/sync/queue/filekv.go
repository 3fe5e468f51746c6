package queue

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/gofrs/flock"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
)

const lockRetryDelay = 10 * time.Millisecond

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileKV stores each key in its own file under a directory. Writes are
// atomic (temp file, fsync, rename) and serialized across processes with
// an advisory lock on "<dir>/.lock".
type FileKV struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileKV creates dir if needed and returns a FileKV rooted there.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueuePersist, "create queue directory", err)
	}
	return &FileKV{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

func (f *FileKV) path(key string) (string, error) {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return "", apperrors.Newf(apperrors.ErrInvalid, "invalid storage key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}

// Get implements KV.
func (f *FileKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ok, err := f.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		return nil, false, apperrors.Wrap(apperrors.ErrQueuePersist, "acquire queue read lock", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrQueuePersist, "read queue file", err)
	}
	return data, true, nil
}

// Put implements KV.
func (f *FileKV) Put(ctx context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ok, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "acquire queue write lock", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	return writeFileAtomic(p, value)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.ErrQueuePersist, "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.ErrQueuePersist, "sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return apperrors.Wrap(apperrors.ErrQueuePersist, "replace queue file", err)
	}
	committed = true

	// Persist the rename itself; not every platform supports syncing a directory.
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		_ = dir.Sync()
		dir.Close()
	}
	return nil
}
