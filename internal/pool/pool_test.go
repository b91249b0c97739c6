// Tests for connection scheduling: read-only bound and FIFO reuse,
// erroneous-handle reaping, dedicated writer handles, shutdown and driver error
// mapping.
package pool

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/ctrdb/internal/query"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

func newTestPool(t *testing.T, max int) *Pool {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "pool.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	rw, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	ro, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		rw.Close()
		ro.Close()
	})
	p := New(Options{Driver: types.DriverSQLite, ConnTimeout: time.Second, MaxReadConns: max}, rw, ro)
	t.Cleanup(func() { p.Close() })
	return p
}

var reader = types.Session{ID: 10}

func TestAcquireBlocksWhenSaturated(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 2)

	a, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	b, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, ReadOnly, a.Kind())

	got := make(chan *Conn)
	go func() {
		c, err := p.Acquire(ctx, reader)
		assert.NoError(t, err)
		got <- c
	}()

	select {
	case <-got:
		t.Fatal("third acquire returned while pool was saturated")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, 10*time.Millisecond)

	p.Release(a)
	select {
	case c := <-got:
		assert.Equal(t, a.ID(), c.ID())
		p.Release(c)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked acquire did not resume after release")
	}
	p.Release(b)

	s := p.Stats()
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 2, s.Free)
	assert.Equal(t, 0, s.Waiting)
}

func TestConcurrentReadersStayBounded(t *testing.T) {
	const max = 3
	p := newTestPool(t, max)

	var active, peak atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 12; i++ {
		i := i
		g.Go(func() error {
			c, err := p.Acquire(ctx, types.Session{ID: uint32(100 + i)})
			if err != nil {
				return err
			}
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			_, err = c.Query(ctx, query.Statement{SQL: "SELECT 1"})
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			p.Release(c)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(max))
	assert.LessOrEqual(t, p.Stats().Free, max)
}

func TestFreeListIsFIFO(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 3)

	a, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	b, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	p.Release(a)
	p.Release(b)

	first, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	second, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), first.ID())
	assert.Equal(t, b.ID(), second.ID())
}

func TestErroneousHandleIsReapedLater(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 2)

	a, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	a.markErroneous()
	p.Release(a)

	s := p.Stats()
	assert.Equal(t, 1, s.Erroneous)
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 0, s.Free)

	b, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 0, p.Stats().Erroneous)
	p.Release(b)
}

func TestAcquireHonoursContext(t *testing.T) {
	p := newTestPool(t, 1)
	a, err := p.Acquire(context.Background(), reader)
	require.NoError(t, err)
	defer p.Release(a)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, reader)
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestCloseWakesWaiters(t *testing.T) {
	p := newTestPool(t, 1)
	a, err := p.Acquire(context.Background(), reader)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), reader)
		errc <- err
	}()
	assert.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, types.ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by Close")
	}
	p.Release(a)

	_, err = p.AcquireWriter(context.Background())
	assert.ErrorIs(t, err, types.ErrPoolClosed)
}

func TestDedicatedHandles(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1)
	config := types.Session{ID: 20, ConfigID: 4}

	c, err := p.Acquire(ctx, config)
	require.NoError(t, err)
	assert.Equal(t, ReadWriteNonBlocking, c.Kind())

	// The writer lock is shared by both dedicated handles.
	wctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = p.AcquireWriter(wctx)
	cancel()
	assert.ErrorIs(t, err, types.ErrConnection)

	id := c.ID()
	p.Release(c)
	c, err = p.Acquire(ctx, config)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID(), "dedicated handle is reused, never pooled")

	c.markErroneous()
	p.Release(c)
	c, err = p.Acquire(ctx, config)
	require.NoError(t, err)
	assert.NotEqual(t, id, c.ID(), "erroneous dedicated handle is recreated")
	p.Release(c)

	w, err := p.AcquireWriter(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReadWriteBlocking, w.Kind())
	p.Release(w)

	// Internal sessions never get the config handle.
	r, err := p.Acquire(ctx, types.Session{ID: types.InternalSessionID, ConfigID: 4})
	require.NoError(t, err)
	assert.Equal(t, ReadOnly, r.Kind())
	p.Release(r)
}

func TestExecCommitRollback(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 2)

	w, err := p.AcquireWriter(ctx)
	require.NoError(t, err)
	_, err = w.Exec(ctx, query.Statement{SQL: "CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER)"})
	require.NoError(t, err)
	n, err := w.Exec(ctx, query.Statement{SQL: "INSERT INTO kv (k, v) VALUES (?, ?)", Args: []any{"a", int64(1)}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, w.Commit(ctx))

	_, err = w.Exec(ctx, query.Statement{SQL: "INSERT INTO kv (k, v) VALUES (?, ?)", Args: []any{"a", int64(2)}})
	assert.ErrorIs(t, err, types.ErrPrimaryKeyViolation)
	assert.False(t, w.Erroneous())

	_, err = w.Exec(ctx, query.Statement{SQL: "INSERT INTO kv (k, v) VALUES (?, ?)", Args: []any{"b", int64(2)}})
	require.NoError(t, err)
	require.NoError(t, w.Rollback(ctx))

	_, err = w.Exec(ctx, query.Statement{SQL: "INSERT INTO missing (k) VALUES ('x')"})
	assert.ErrorIs(t, err, types.ErrStatement)
	p.Release(w)

	r, err := p.Acquire(ctx, reader)
	require.NoError(t, err)
	rows, err := r.Query(ctx, query.Statement{SQL: "SELECT k, v FROM kv ORDER BY k"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0][0])
	assert.Equal(t, int64(1), rows[0][1])
	p.Release(r)
}

func TestCloseLeavesCheckedOutWriterAlone(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1)

	w, err := p.AcquireWriter(ctx)
	require.NoError(t, err)
	_, err = w.Exec(ctx, query.Statement{SQL: "CREATE TABLE kv (k INTEGER PRIMARY KEY)"})
	require.NoError(t, err)

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 50; i++ {
			if _, err := w.Exec(ctx, query.Statement{SQL: "INSERT INTO kv (k) VALUES (?)", Args: []any{int64(i)}}); err != nil {
				return err
			}
		}
		return w.Commit(ctx)
	})
	g.Go(p.Close)
	require.NoError(t, g.Wait(), "the holder's transaction survives Close")
	assert.False(t, w.Erroneous())

	p.Release(w)
	_, err = w.Exec(ctx, query.Statement{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, types.ErrConnection, "released handle is closed after shutdown")

	_, err = p.AcquireWriter(ctx)
	assert.ErrorIs(t, err, types.ErrPoolClosed)
	_, err = p.Acquire(ctx, types.Session{ID: 20, ConfigID: 4})
	assert.ErrorIs(t, err, types.ErrPoolClosed)
}

func TestConfigSessionWaitsForWriter(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 1)
	config := types.Session{ID: 20, ConfigID: 4}

	w, err := p.AcquireWriter(ctx)
	require.NoError(t, err)

	wctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = p.Acquire(wctx, config)
	cancel()
	assert.ErrorIs(t, err, types.ErrConnection)

	p.Release(w)
	c, err := p.Acquire(ctx, config)
	require.NoError(t, err)
	assert.Equal(t, ReadWriteNonBlocking, c.Kind())
	p.Release(c)
}

func TestUncontendedAcquireIsNotWaiting(t *testing.T) {
	const max = 4
	p := newTestPool(t, max)

	var peak atomic.Int32
	done := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-done:
				return
			default:
			}
			if n := int32(p.Stats().Waiting); n > peak.Load() {
				peak.Store(n)
			}
		}
	}()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < max; i++ {
		i := i
		g.Go(func() error {
			for j := 0; j < 200; j++ {
				c, err := p.Acquire(ctx, types.Session{ID: uint32(100 + i)})
				if err != nil {
					return err
				}
				p.Release(c)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(done)
	<-polled
	assert.Equal(t, int32(0), peak.Load())
}
