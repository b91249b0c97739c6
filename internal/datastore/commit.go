package datastore

import (
	"context"
	"time"

	"github.com/mesh-intelligence/ctrdb/internal/pool"
	"github.com/mesh-intelligence/ctrdb/internal/query"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// coordinate runs one database-level operation on the blocking writer
// handle inside a single transaction. Any failure rolls back every
// statement of the sequence.
func (e *Engine) coordinate(ctx context.Context, op string, ds types.DatastoreID,
	fn func(c *pool.Conn) error) (err error) {
	start := time.Now()
	defer func() { e.observe(op, types.InternalSession, ds, start, err) }()

	p, err := e.connPool()
	if err != nil {
		return err
	}
	c, err := p.AcquireWriter(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)
	return e.finish(ctx, c, fn(c))
}

func (e *Engine) run(ctx context.Context, req query.Request, ds types.DatastoreID) error {
	stmts, err := query.Build(req)
	if err != nil {
		// Synthesis errors are reported without touching a connection.
		e.observe(req.Op.String(), types.InternalSession, ds, time.Now(), err)
		return err
	}
	return e.coordinate(ctx, req.Op.String(), ds, func(c *pool.Conn) error {
		for _, st := range stmts {
			if _, err := c.Exec(ctx, st); err != nil {
				return err
			}
		}
		return nil
	})
}

// CommitAllConfiguration promotes the Candidate configuration to Running:
// pending rows become Applied, Deleted and RowInvalid rows are purged,
// state columns are refreshed from Running and Running is replaced by the
// result. The whole sequence is one transaction.
func (e *Engine) CommitAllConfiguration(ctx context.Context, src, dst types.DatastoreID) error {
	err := e.run(ctx, query.Request{Op: query.CommitAllConfig, Source: src, Dest: dst}, dst)
	if err != nil {
		e.log.Error().Err(err).Stringer("src", src).Stringer("dst", dst).Msg("commit failed")
		return err
	}
	e.log.Info().Stringer("src", src).Stringer("dst", dst).Msg("configuration committed")
	return nil
}

// CopyDatabase replaces the config tables of dst with those of src.
func (e *Engine) CopyDatabase(ctx context.Context, src, dst types.DatastoreID) error {
	return e.run(ctx, query.Request{Op: query.CopyDatabase, Source: src, Dest: dst}, dst)
}

// ClearDatabase deletes every row of every table owned by ds.
func (e *Engine) ClearDatabase(ctx context.Context, ds types.DatastoreID) error {
	return e.run(ctx, query.Request{Op: query.ClearDatabase, Datastore: ds}, ds)
}

// ClearOneInstance deletes every row belonging to one controller instance
// from the tables of ds that carry a controller_name column.
func (e *Engine) ClearOneInstance(ctx context.Context, ds types.DatastoreID, controller string) error {
	return e.run(ctx, query.Request{Op: query.ClearOneInstance, Datastore: ds, Controller: controller}, ds)
}

// IsCandidateDirty reports whether any Candidate config row differs from
// the last commit.
func (e *Engine) IsCandidateDirty(ctx context.Context) (bool, error) {
	stmts, err := query.Build(query.Request{Op: query.IsCandidateDirty})
	if err != nil {
		return false, err
	}
	var dirty bool
	err = e.read(ctx, query.IsCandidateDirty.String(), types.InternalSession, types.Candidate,
		func(c *pool.Conn, _ types.DatastoreID) error {
			for _, st := range stmts {
				rows, err := c.Query(ctx, st)
				if err != nil {
					return err
				}
				if len(rows) == 1 && len(rows[0]) == 1 {
					n, err := toCount(rows[0][0])
					if err != nil {
						return err
					}
					if n != 0 {
						dirty = true
						return nil
					}
				}
			}
			return nil
		})
	return dirty, err
}
