package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File is a guard backed by lock files in a shared directory. It suits
// several processes on one host.
type File struct {
	dir  string
	opts Options
}

type lockFile struct {
	Token      string    `json:"token"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func (l lockFile) same(other lockFile) bool {
	return l.Token == other.Token && l.PID == other.PID && l.AcquiredAt.Equal(other.AcquiredAt)
}

// NewFile creates a File guard rooted at dir.
func NewFile(dir string, opts Options) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("lock directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &File{dir: dir, opts: opts.withDefaults()}, nil
}

// Path returns the lock file used for key.
func (f *File) Path(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(f.dir, name+".lock")
}

// mutexStale bounds how long a crashed process can block lock removal.
const mutexStale = time.Minute

// Acquire creates the lock file exclusively. A lock whose acquired_at is at
// least staleAfter old is removed and acquisition retried once. Removals run
// under a per-key mutex file and re-check the holder first, so a reclaimer
// never deletes a lock created after it looked.
func (f *File) Acquire(ctx context.Context, key string, staleAfter time.Duration) (Lease, error) {
	token, err := f.opts.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	path := f.Path(key)
	for attempt := 0; attempt < 2; attempt++ {
		err = f.create(path, token)
		if err == nil {
			return &lease{
				key:     key,
				token:   token,
				release: func(ctx context.Context) error { return f.remove(ctx, path, token) },
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		held, err := f.read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if f.opts.Clock.Now().Sub(held.AcquiredAt) < staleAfter {
			return nil, ErrBusy
		}
		if err := f.removeIf(ctx, path, held.same); err != nil {
			return nil, fmt.Errorf("remove stale lock file: %w", err)
		}
	}
	return nil, ErrBusy
}

// read decodes the lock file at path. A file still being written has no
// body yet; its modification time stands in for acquired_at.
func (f *File) read(path string) (lockFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from the lock directory.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return lockFile{}, err
		}
		return lockFile{}, fmt.Errorf("read lock file: %w", err)
	}
	var held lockFile
	if json.Unmarshal(data, &held) == nil && !held.AcquiredAt.IsZero() {
		return held, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return lockFile{}, err
		}
		return lockFile{}, fmt.Errorf("stat lock file: %w", err)
	}
	return lockFile{AcquiredAt: info.ModTime()}, nil
}

// removeIf deletes the lock file at path when match accepts its current
// content. A missing file is not an error.
func (f *File) removeIf(ctx context.Context, path string, match func(lockFile) bool) error {
	unlock, err := f.lockMutex(ctx, path+".mu")
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := f.read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !match(cur) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// lockMutex spins on an exclusive create of path until it wins or ctx ends.
// A mutex file older than mutexStale is left over from a crash and removed.
func (f *File) lockMutex(ctx context.Context, path string) (func(), error) {
	for {
		fh, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 -- path is built from the lock directory.
		if err == nil {
			_ = fh.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock mutex: %w", err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > mutexStale {
			_ = os.Remove(path)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for lock mutex: %w", ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *File) create(path, token string) error {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 -- path is built from the lock directory.
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return fmt.Errorf("create lock file: %w", err)
	}
	body, err := json.Marshal(lockFile{Token: token, PID: os.Getpid(), AcquiredAt: f.opts.Clock.Now()})
	if err == nil {
		_, err = fh.Write(body)
	}
	closeErr := fh.Close()
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write lock file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	return nil
}

// remove deletes the lock file only if it still carries token.
func (f *File) remove(ctx context.Context, path, token string) error {
	return f.removeIf(ctx, path, func(cur lockFile) bool { return cur.Token == token })
}
