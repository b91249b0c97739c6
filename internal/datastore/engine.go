// Package datastore implements the configuration datastore engine: the
// attach/detach lifecycle, the physical schema, the row operation
// orchestrator and the commit coordinator.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/ctrdb/internal/log"
	"github.com/mesh-intelligence/ctrdb/internal/metrics"
	"github.com/mesh-intelligence/ctrdb/internal/pool"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

var _ types.ConfigDB = (*Engine)(nil)

// Engine is one attached configuration datastore. Create it with NewEngine,
// Attach it once at startup and share it across goroutines.
type Engine struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	rw       *sql.DB
	ro       *sql.DB
	pool     *pool.Pool

	startupValid atomic.Bool
	log          zerolog.Logger
}

// NewEngine returns a detached engine. The Startup snapshot starts valid.
func NewEngine() *Engine {
	e := &Engine{log: log.WithComponent("datastore")}
	e.startupValid.Store(true)
	return e
}

// sqlitePragmas are appended to every sqlite data source: WAL lets the
// read-only pool read while a writer holds its transaction.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

func dataSource(driver, dsn string, writer bool) string {
	if driver != types.DriverSQLite {
		return dsn
	}
	params := sqlitePragmas
	if writer {
		params += "&_txlock=immediate"
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

func openDB(driver, dsn string, writer bool) (*sql.DB, error) {
	db, err := sql.Open(driver, dataSource(driver, dsn, writer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	// Handles own their connections; a closed handle must close its
	// physical connection too.
	db.SetMaxIdleConns(0)
	return db, nil
}

// Attach opens the configured data sources, creates any missing tables and
// starts the connection pool.
func (e *Engine) Attach(config types.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attached {
		return types.ErrAlreadyAttached
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	rw, err := openDB(config.Driver, config.DSN, true)
	if err != nil {
		return err
	}
	ro, err := openDB(config.Driver, config.ReadOnlyDSN, false)
	if err != nil {
		rw.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnTimeout)
	err = rw.PingContext(ctx)
	cancel()
	if err != nil {
		rw.Close()
		ro.Close()
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	if err := createSchema(rw, config.Driver); err != nil {
		rw.Close()
		ro.Close()
		return err
	}

	e.rw, e.ro = rw, ro
	e.config = config
	e.log = log.WithComponent("datastore")
	e.pool = pool.New(pool.Options{
		Driver:       config.Driver,
		ConnTimeout:  config.ConnTimeout,
		MaxReadConns: config.MaxReadConns,
	}, rw, ro)
	e.attached = true
	e.log.Info().Str("driver", config.Driver).Int("max_read_conns", config.MaxReadConns).Msg("attached")
	return nil
}

// Detach closes the pool and both data sources. Detach is idempotent.
func (e *Engine) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.attached {
		return nil
	}
	err := errors.Join(e.pool.Close(), e.ro.Close(), e.rw.Close())
	e.pool, e.rw, e.ro = nil, nil, nil
	e.attached = false
	e.log.Info().Msg("detached")
	return err
}

// SetStartupValid records whether the Startup snapshot may be read.
func (e *Engine) SetStartupValid(valid bool) {
	e.startupValid.Store(valid)
}

// Stats reports the read-only pool occupancy.
func (e *Engine) Stats() (pool.Stats, error) {
	p, err := e.connPool()
	if err != nil {
		return pool.Stats{}, err
	}
	return p.Stats(), nil
}

func (e *Engine) connPool() (*pool.Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.attached {
		return nil, types.ErrDetached
	}
	return e.pool, nil
}

// readDatastore applies the Startup fallback: while the snapshot is invalid,
// Startup reads are served from Running.
func (e *Engine) readDatastore(ds types.DatastoreID) types.DatastoreID {
	if ds == types.Startup && !e.startupValid.Load() {
		return types.Running
	}
	return ds
}

// acquireWrite returns the handle a write by s must use.
func (e *Engine) acquireWrite(ctx context.Context, p *pool.Pool, s types.Session) (*pool.Conn, error) {
	if s.ConfigMode() {
		return p.Acquire(ctx, s)
	}
	return p.AcquireWriter(ctx)
}

// finish commits c on success and rolls it back otherwise.
func (e *Engine) finish(ctx context.Context, c *pool.Conn, err error) error {
	if err == nil {
		if cerr := c.Commit(ctx); cerr != nil {
			_ = c.Rollback(context.Background())
			return cerr
		}
		return nil
	}
	if rerr := c.Rollback(context.Background()); rerr != nil {
		e.log.Warn().Err(rerr).Str("conn", c.ID()).Msg("rollback failed")
	}
	return err
}

// observe records the outcome of one engine operation.
func (e *Engine) observe(op string, s types.Session, ds types.DatastoreID, start time.Time, err error) {
	code := types.CodeOf(err)
	metrics.ObserveOperation(op, code.String(), start)
	l := log.WithSession(e.log, s.ID, s.ConfigID)
	ev := l.Debug()
	if code == types.GeneralError || code == types.ConnectionError || code == types.StatementError {
		ev = l.Warn()
	}
	ev.Str("op", op).
		Stringer("datastore", ds).
		Stringer("result", code).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("operation")
}
