package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/ctrdb/internal/metrics"
	"github.com/mesh-intelligence/ctrdb/internal/query"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// Conn is one connection handle. Statements run inside a transaction
// started on first use and ended by Commit or Rollback. A Conn is used by
// one caller at a time, between Acquire and Release.
type Conn struct {
	id   uuid.UUID
	kind Kind
	pool *Pool
	sc   *sql.Conn
	tx   *sql.Tx
	key  inUseKey

	erroneous atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConn(p *Pool, kind Kind, sc *sql.Conn) *Conn {
	return &Conn{id: uuid.New(), kind: kind, pool: p, sc: sc}
}

// ID returns the handle's identifier.
func (c *Conn) ID() string { return c.id.String() }

// Kind returns the handle's role.
func (c *Conn) Kind() Kind { return c.kind }

// Erroneous reports whether the handle hit a connection-level failure.
func (c *Conn) Erroneous() bool { return c.erroneous.Load() }

func (c *Conn) markErroneous() { c.erroneous.Store(true) }

// lock takes the process-wide execution lock.
func (c *Conn) lock(ctx context.Context) error {
	return c.pool.wait(ctx, c.pool.exec)
}

func (c *Conn) unlock() { c.pool.exec.Release(1) }

func (c *Conn) begin(ctx context.Context) error {
	if c.tx != nil {
		return nil
	}
	tx, err := c.sc.BeginTx(ctx, nil)
	if err != nil {
		return c.mapError(err)
	}
	c.tx = tx
	return nil
}

func (c *Conn) rebind(sql string) string {
	if c.pool.opts.Driver == types.DriverPostgres {
		return query.Rebind(sql)
	}
	return sql
}

// Exec runs a statement that returns no rows and reports the number of
// rows it affected.
func (c *Conn) Exec(ctx context.Context, st query.Statement) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()
	if err := c.begin(ctx); err != nil {
		return 0, err
	}
	metrics.StatementsTotal.Inc()
	res, err := c.tx.ExecContext(ctx, c.rebind(st.SQL), st.Args...)
	if err != nil {
		return 0, c.mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", types.ErrStatement, err)
	}
	return n, nil
}

// Query runs a row-returning statement and returns every row as raw driver
// values in column order.
func (c *Conn) Query(ctx context.Context, st query.Statement) ([][]any, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	metrics.StatementsTotal.Inc()
	rows, err := c.tx.QueryContext(ctx, c.rebind(st.SQL), st.Args...)
	if err != nil {
		return nil, c.mapError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrFetch, err)
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrFetch, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		if isConnError(err) {
			return nil, c.mapError(err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrFetch, err)
	}
	return out, nil
}

// Commit ends the current transaction. It is a no-op when none is open.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return c.mapError(err)
	}
	return nil
}

// Rollback discards the current transaction. It is a no-op when none is open.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	tx := c.tx
	c.tx = nil
	metrics.RollbacksTotal.Inc()
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return c.mapError(err)
	}
	return nil
}

// close rolls back and closes the physical connection. Safe to call more
// than once.
func (c *Conn) close() error {
	c.closeOnce.Do(func() {
		if c.tx != nil {
			_ = c.tx.Rollback()
			c.tx = nil
		}
		c.closeErr = c.sc.Close()
		if errors.Is(c.closeErr, sql.ErrConnDone) {
			c.closeErr = nil
		}
	})
	return c.closeErr
}

func isConnError(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// mapError translates a driver error into the result taxonomy. Connection
// failures mark the handle erroneous.
func (c *Conn) mapError(err error) error {
	if isConnError(err) {
		c.markErroneous()
		c.pool.log.Warn().Err(err).Str("kind", c.kind.String()).Str("conn", c.ID()).Msg("connection error")
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", types.ErrPrimaryKeyViolation, err)
	}
	return fmt.Errorf("%w: %v", types.ErrStatement, err)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			// Without extended result codes only the message tells.
			return strings.Contains(se.Error(), "UNIQUE constraint failed")
		}
		return false
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code.Name() == "unique_violation"
	}
	return false
}
