// Package pool schedules the engine's physical database connections.
//
// Two dedicated read-write handles serve writers: a non-blocking one for
// config-mode sessions and a blocking one for internal work and the commit
// coordinator. They share one writer lock, held from acquire to release, so
// no two writers interleave. Every other caller draws a read-only handle
// from a bounded pool; when the pool is saturated the caller blocks until a
// holder releases one.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/mesh-intelligence/ctrdb/internal/log"
	"github.com/mesh-intelligence/ctrdb/internal/metrics"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// Kind is the role of a connection handle.
type Kind int

// Handle kinds.
const (
	ReadWriteNonBlocking Kind = iota + 1
	ReadWriteBlocking
	ReadOnly
)

func (k Kind) String() string {
	switch k {
	case ReadWriteNonBlocking:
		return "rw_nonblocking"
	case ReadWriteBlocking:
		return "rw_blocking"
	case ReadOnly:
		return "read_only"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Options configures a Pool.
type Options struct {
	Driver       string
	ConnTimeout  time.Duration
	MaxReadConns int
}

// Stats is a snapshot of the read-only pool.
type Stats struct {
	Max       int
	InUse     int
	Free      int
	Erroneous int
	Waiting   int
}

type inUseKey struct {
	session uint32
	handle  string
}

// Pool owns every connection handle of an attached engine.
type Pool struct {
	opts Options
	rw   *sql.DB
	ro   *sql.DB

	// exec serialises every statement, commit and rollback in the process.
	exec *semaphore.Weighted
	// writer is held by whichever dedicated handle is checked out.
	writer *semaphore.Weighted
	// slots holds one unit per in-use read-only handle.
	slots *semaphore.Weighted

	// done is cancelled by Close to wake blocked callers.
	done   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	free      []*Conn
	inUse     map[inUseKey]*Conn
	erroneous []*Conn
	dedicated map[Kind]*Conn
	waiting   int
	closed    bool
	// held is the dedicated handle currently checked out, if any.
	held *Conn

	log zerolog.Logger
}

// New returns a pool drawing writers from rw and readers from ro. Handles
// are opened lazily.
func New(opts Options, rw, ro *sql.DB) *Pool {
	if opts.MaxReadConns <= 0 {
		opts.MaxReadConns = types.DefaultMaxReadConns
	}
	if opts.ConnTimeout <= 0 {
		opts.ConnTimeout = types.DefaultConnTimeout
	}
	done, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:      opts,
		rw:        rw,
		ro:        ro,
		exec:      semaphore.NewWeighted(1),
		writer:    semaphore.NewWeighted(1),
		slots:     semaphore.NewWeighted(int64(opts.MaxReadConns)),
		done:      done,
		cancel:    cancel,
		inUse:     make(map[inUseKey]*Conn),
		dedicated: make(map[Kind]*Conn),
		log:       log.WithComponent("pool"),
	}
	p.publish()
	return p
}

// Acquire returns the handle serving session s. Config-mode sessions get
// the dedicated non-blocking read-write handle; everyone else gets a
// read-only handle, blocking while the pool is saturated. Saturation alone
// never fails; only ctx or Close end the wait.
//
// The non-blocking handle never waits on the read-only pool, but it shares
// the writer lock with AcquireWriter: a config session waits while a commit
// or internal write holds the blocking handle.
func (p *Pool) Acquire(ctx context.Context, s types.Session) (*Conn, error) {
	if s.ConfigMode() {
		return p.acquireDedicated(ctx, ReadWriteNonBlocking, s.ID)
	}
	return p.acquireReadOnly(ctx, s.ID)
}

// AcquireWriter returns the dedicated blocking read-write handle used for
// internal writes and commit sequences.
func (p *Pool) AcquireWriter(ctx context.Context) (*Conn, error) {
	return p.acquireDedicated(ctx, ReadWriteBlocking, types.InternalSessionID)
}

// wait blocks on sem until ctx ends or the pool closes.
func (p *Pool) wait(ctx context.Context, sem *semaphore.Weighted) error {
	if sem.TryAcquire(1) {
		return nil
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.done, cancel)
	defer stop()

	err := sem.Acquire(wctx, 1)
	if err == nil {
		return nil
	}
	if p.done.Err() != nil {
		return types.ErrPoolClosed
	}
	return fmt.Errorf("%w: %v", types.ErrConnection, ctx.Err())
}

func (p *Pool) acquireDedicated(ctx context.Context, kind Kind, session uint32) (*Conn, error) {
	if p.isClosed() {
		return nil, types.ErrPoolClosed
	}
	if err := p.wait(ctx, p.writer); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.writer.Release(1)
		return nil, types.ErrPoolClosed
	}
	c := p.dedicated[kind]
	p.held = c
	p.mu.Unlock()

	if c == nil {
		var err error
		c, err = p.open(ctx, p.rw, kind)
		if err != nil {
			p.writer.Release(1)
			return nil, err
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = c.close()
			p.writer.Release(1)
			return nil, types.ErrPoolClosed
		}
		p.dedicated[kind] = c
		p.held = c
		p.mu.Unlock()
	}
	c.key = inUseKey{session: session, handle: c.ID()}
	p.log.Debug().Str("kind", kind.String()).Str("conn", c.ID()).Uint32("session_id", session).Msg("acquired")
	return c, nil
}

func (p *Pool) acquireReadOnly(ctx context.Context, session uint32) (*Conn, error) {
	if p.isClosed() {
		return nil, types.ErrPoolClosed
	}

	p.mu.Lock()
	p.reapLocked()
	p.mu.Unlock()

	if !p.slots.TryAcquire(1) {
		p.mu.Lock()
		p.waiting++
		p.publishLocked()
		p.mu.Unlock()

		err := p.wait(ctx, p.slots)

		p.mu.Lock()
		p.waiting--
		p.publishLocked()
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if p.closed {
		p.publishLocked()
		p.mu.Unlock()
		p.slots.Release(1)
		return nil, types.ErrPoolClosed
	}
	// Erroneous handles queued while we waited still count against the
	// physical bound until they are gone.
	p.reapLocked()
	var c *Conn
	if len(p.free) > 0 {
		c = p.free[0]
		p.free[0] = nil
		p.free = p.free[1:]
	}
	p.mu.Unlock()

	if c == nil {
		var err error
		c, err = p.open(ctx, p.ro, ReadOnly)
		if err != nil {
			p.slots.Release(1)
			p.mu.Lock()
			p.publishLocked()
			p.mu.Unlock()
			return nil, err
		}
	}

	p.mu.Lock()
	c.key = inUseKey{session: session, handle: c.ID()}
	p.inUse[c.key] = c
	p.publishLocked()
	p.mu.Unlock()
	p.log.Debug().Str("kind", ReadOnly.String()).Str("conn", c.ID()).Uint32("session_id", session).Msg("acquired")
	return c, nil
}

// Release returns c to the pool. Any open transaction is rolled back.
// Dedicated handles stay in place; an erroneous one is closed and reopened
// on next use. A read-only handle goes back to the free list, or, when
// erroneous, to a queue that the next Acquire or Release tears down.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	if c.kind != ReadOnly {
		p.releaseDedicated(c)
		return
	}

	if !c.Erroneous() {
		// A handle that cannot roll back is as good as broken.
		if err := c.Rollback(context.Background()); err != nil {
			c.markErroneous()
		}
	}

	p.mu.Lock()
	p.reapLocked()
	if p.closed {
		delete(p.inUse, c.key)
		p.mu.Unlock()
		_ = c.close()
		p.slots.Release(1)
		return
	}
	if c.Erroneous() {
		p.erroneous = append(p.erroneous, c)
		p.log.Warn().Str("conn", c.ID()).Uint32("session_id", c.key.session).Msg("erroneous connection queued")
	} else {
		delete(p.inUse, c.key)
		c.key = inUseKey{}
		p.free = append(p.free, c)
	}
	p.publishLocked()
	p.mu.Unlock()
	p.slots.Release(1)
}

func (p *Pool) releaseDedicated(c *Conn) {
	defer p.writer.Release(1)

	p.mu.Lock()
	p.held = nil
	closed := p.closed
	p.mu.Unlock()
	if closed {
		// Close skipped this handle while it was checked out.
		_ = c.close()
		return
	}

	if !c.Erroneous() {
		if err := c.Rollback(context.Background()); err == nil {
			c.key = inUseKey{}
			return
		}
	}
	p.log.Warn().Str("kind", c.kind.String()).Str("conn", c.ID()).Msg("closing erroneous dedicated connection")
	metrics.ConnectionsReaped.WithLabelValues(c.kind.String()).Inc()
	_ = c.close()
	p.mu.Lock()
	if p.dedicated[c.kind] == c {
		delete(p.dedicated, c.kind)
	}
	p.mu.Unlock()
}

// reapLocked tears down queued erroneous handles. p.mu must be held.
func (p *Pool) reapLocked() {
	for _, c := range p.erroneous {
		delete(p.inUse, c.key)
		_ = c.close()
		metrics.ConnectionsReaped.WithLabelValues(ReadOnly.String()).Inc()
		p.log.Debug().Str("conn", c.ID()).Msg("reaped erroneous connection")
	}
	clear(p.erroneous)
	p.erroneous = p.erroneous[:0]
}

func (p *Pool) open(ctx context.Context, db *sql.DB, kind Kind) (*Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.ConnTimeout)
	defer cancel()
	sc, err := db.Conn(cctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", types.ErrConnection, kind, err)
	}
	if err := sc.PingContext(cctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", types.ErrConnection, kind, err)
	}
	c := newConn(p, kind, sc)
	p.log.Debug().Str("kind", kind.String()).Str("conn", c.ID()).Msg("opened connection")
	return c, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns a snapshot of the read-only pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	return Stats{
		Max:       p.opts.MaxReadConns,
		InUse:     len(p.inUse) - len(p.erroneous),
		Free:      len(p.free),
		Erroneous: len(p.erroneous),
		Waiting:   p.waiting,
	}
}

func (p *Pool) publish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked()
}

func (p *Pool) publishLocked() {
	s := p.statsLocked()
	metrics.PoolConnections.WithLabelValues("in_use").Set(float64(s.InUse))
	metrics.PoolConnections.WithLabelValues("free").Set(float64(s.Free))
	metrics.PoolConnections.WithLabelValues("erroneous").Set(float64(s.Erroneous))
	metrics.PoolWaiters.Set(float64(s.Waiting))
}

// Close marks the pool shutting down, wakes every blocked caller with
// ErrPoolClosed and closes every idle handle. Handles still checked out
// are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cancel()
	handles := append([]*Conn(nil), p.free...)
	handles = append(handles, p.erroneous...)
	for _, c := range p.dedicated {
		if c != p.held {
			handles = append(handles, c)
		}
	}
	p.free = nil
	p.erroneous = nil
	p.dedicated = make(map[Kind]*Conn)
	p.publishLocked()
	p.mu.Unlock()

	var errs []error
	for _, c := range handles {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.log.Debug().Int("closed", len(handles)).Msg("pool closed")
	return errors.Join(errs...)
}
