package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("token-%d", g.n), nil
}

func TestMemoryGuardMutualExclusion(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)}
	g := NewMemory(Options{Clock: clock, IDs: &seqIDs{}})
	ctx := context.Background()
	key := LockKey("south")

	first, err := g.Acquire(ctx, key, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "drawwatch:lock:south", first.Key())

	_, err = g.Acquire(ctx, key, 30*time.Minute)
	require.ErrorIs(t, err, ErrBusy)

	other, err := g.Acquire(ctx, LockKey("north"), 30*time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))

	second, err := g.Acquire(ctx, key, 30*time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, first.Token(), second.Token())
}

func TestMemoryGuardReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)}
	g := NewMemory(Options{Clock: clock, IDs: &seqIDs{}})
	ctx := context.Background()

	stale, err := g.Acquire(ctx, "k", 30*time.Minute)
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	_, err = g.Acquire(ctx, "k", 30*time.Minute)
	require.ErrorIs(t, err, ErrBusy)

	clock.Advance(2 * time.Minute)
	fresh, err := g.Acquire(ctx, "k", 30*time.Minute)
	require.NoError(t, err)

	// The reclaimed holder's release must not free the new holder's lock.
	require.NoError(t, stale.Release(ctx))
	_, err = g.Acquire(ctx, "k", 30*time.Minute)
	require.ErrorIs(t, err, ErrBusy)
	require.NoError(t, fresh.Release(ctx))
}

func TestFileGuard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)}
	g, err := NewFile(dir, Options{Clock: clock, IDs: &seqIDs{}})
	require.NoError(t, err)
	ctx := context.Background()
	key := LockKey("central")

	held, err := g.Acquire(ctx, key, 30*time.Minute)
	require.NoError(t, err)
	_, err = os.Stat(g.Path(key))
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	_, err = g.Acquire(ctx, key, 30*time.Minute)
	require.ErrorIs(t, err, ErrBusy)

	clock.Advance(2 * time.Minute)
	reclaimed, err := g.Acquire(ctx, key, 30*time.Minute)
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	_, err = os.Stat(g.Path(key))
	require.NoError(t, err, "stale holder must not remove the new lock file")

	require.NoError(t, reclaimed.Release(ctx))
	require.NoError(t, reclaimed.Release(ctx))
	_, err = os.Stat(g.Path(key))
	require.True(t, errors.Is(err, os.ErrNotExist))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "no lock or mutex files left behind")

	_, err = NewFile("", Options{})
	require.Error(t, err)
}

func TestFileGuardStaleLockHasOneReclaimer(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)}
	ids := &seqIDs{}
	g, err := NewFile(t.TempDir(), Options{Clock: clock, IDs: ids})
	require.NoError(t, err)
	ctx := context.Background()
	key := LockKey("south")

	_, err = g.Acquire(ctx, key, 30*time.Minute)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	const contenders = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		won   []Lease
		errs  []error
		start = make(chan struct{})
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			l, err := g.Acquire(ctx, key, 30*time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			won = append(won, l)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, won, 1)
	require.Len(t, errs, contenders-1)
	for _, err := range errs {
		require.ErrorIs(t, err, ErrBusy)
	}
	data, err := os.ReadFile(g.Path(key))
	require.NoError(t, err)
	require.Contains(t, string(data), won[0].Token())
}

func TestFileGuardLeavesReplacedLockInPlace(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)}
	g, err := NewFile(t.TempDir(), Options{Clock: clock, IDs: &seqIDs{}})
	require.NoError(t, err)
	ctx := context.Background()
	key := LockKey("north")
	path := g.Path(key)

	fresh, err := g.Acquire(ctx, key, 30*time.Minute)
	require.NoError(t, err)

	// A reclaimer that read an older holder must not remove the fresh lock.
	old := lockFile{Token: "token-old", PID: os.Getpid(), AcquiredAt: clock.Now().Add(-time.Hour)}
	require.NoError(t, g.removeIf(ctx, path, old.same))

	held, err := g.read(path)
	require.NoError(t, err)
	require.Equal(t, fresh.Token(), held.Token)
	_, err = os.Stat(path + ".mu")
	require.True(t, errors.Is(err, os.ErrNotExist), "mutex released")
}

func TestFileGuardMutexTimesOut(t *testing.T) {
	t.Parallel()

	g, err := NewFile(t.TempDir(), Options{IDs: &seqIDs{}})
	require.NoError(t, err)
	key := LockKey("south")
	require.NoError(t, os.WriteFile(g.Path(key)+".mu", nil, 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = g.removeIf(ctx, g.Path(key), func(lockFile) bool { return true })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	old := time.Now().Add(-2 * mutexStale)
	require.NoError(t, os.Chtimes(g.Path(key)+".mu", old, old))
	require.NoError(t, g.removeIf(context.Background(), g.Path(key), func(lockFile) bool { return true }),
		"a mutex left by a crashed process is broken")
}

func TestFileGuardReadsUnwrittenLockByModTime(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	g, err := NewFile(t.TempDir(), Options{Clock: clock, IDs: &seqIDs{}})
	require.NoError(t, err)
	key := LockKey("central")
	require.NoError(t, os.WriteFile(g.Path(key), nil, 0o600))

	_, err = g.Acquire(context.Background(), key, 30*time.Minute)
	require.ErrorIs(t, err, ErrBusy, "an empty lock file is a holder still writing")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(g.Path(key), old, old))
	l, err := g.Acquire(context.Background(), key, 30*time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(context.Background()))
}

func TestRedisGuard(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	g := NewRedis(client, Options{IDs: &seqIDs{}})
	ctx := context.Background()
	key := LockKey("north")

	held, err := g.Acquire(ctx, key, 30*time.Minute)
	require.NoError(t, err)
	_, err = g.Acquire(ctx, key, 30*time.Minute)
	require.ErrorIs(t, err, ErrBusy)

	mr.FastForward(31 * time.Minute)
	reclaimed, err := g.Acquire(ctx, key, 30*time.Minute)
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	got, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, reclaimed.Token(), got)

	require.NoError(t, reclaimed.Release(ctx))
	require.False(t, mr.Exists(key))
}

func TestPostgresGuardAcquireAndRelease(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	g, err := NewPostgres(mock, "session_locks", Options{Clock: &fakeClock{now: now}, IDs: &seqIDs{}})
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO session_locks").
		WithArgs("drawwatch:lock:south", "token-1", now, now.Add(-30*time.Minute)).
		WillReturnRows(pgxmock.NewRows([]string{"token"}).AddRow("token-1"))
	mock.ExpectQuery("INSERT INTO session_locks").
		WithArgs("drawwatch:lock:south", "token-2", now, now.Add(-30*time.Minute)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("DELETE FROM session_locks").
		WithArgs("drawwatch:lock:south", "token-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ctx := context.Background()
	held, err := g.Acquire(ctx, LockKey("south"), 30*time.Minute)
	require.NoError(t, err)
	_, err = g.Acquire(ctx, LockKey("south"), 30*time.Minute)
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, held.Release(ctx))
	require.NoError(t, held.Release(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGuardEnsureSchemaAndValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgres(mock, "locks; DROP TABLE x", Options{})
	require.Error(t, err)
	_, err = NewPostgres(nil, "", Options{})
	require.Error(t, err)

	g, err := NewPostgres(mock, "", Options{})
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS session_locks").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, g.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
