package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/ctrdb/internal/pool"
	"github.com/mesh-intelligence/ctrdb/internal/query"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// exec synthesises req and runs every resulting statement on c. It returns
// the rows affected by the last statement.
func exec(ctx context.Context, c *pool.Conn, req query.Request) (int64, error) {
	stmts, err := query.Build(req)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, st := range stmts {
		if n, err = c.Exec(ctx, st); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// existence runs the exists probe for the row in schema.
func existence(ctx context.Context, c *pool.Conn, ds types.DatastoreID, schema *types.TableSchema) (bool, types.RowStatus, error) {
	stmts, err := query.Build(query.Request{Op: query.IsRowExists, Datastore: ds, Schema: schema})
	if err != nil {
		return false, types.StatusNone, err
	}
	rows, err := c.Query(ctx, stmts[0])
	if err != nil {
		return false, types.StatusNone, err
	}
	if len(rows) != 1 || len(rows[0]) == 0 {
		return false, types.StatusNone, fmt.Errorf("%w: exists probe returned %d rows", types.ErrFetch, len(rows))
	}
	n, err := toCount(rows[0][0])
	if err != nil {
		return false, types.StatusNone, err
	}
	status := types.StatusNone
	if stmts[0].Status && len(rows[0]) > 1 && rows[0][1] != nil {
		s, err := toCount(rows[0][1])
		if err != nil {
			return false, types.StatusNone, err
		}
		status = types.RowStatus(s)
	}
	return n != 0, status, nil
}

// write runs fn on the handle a write by s must use and commits or rolls
// back according to its result.
func (e *Engine) write(ctx context.Context, op string, s types.Session, ds types.DatastoreID,
	fn func(c *pool.Conn) error) (err error) {
	start := time.Now()
	defer func() { e.observe(op, s, ds, start, err) }()

	if ds == types.Startup {
		return fmt.Errorf("%w: %s on %v", types.ErrInvalidOperation, op, ds)
	}
	p, err := e.connPool()
	if err != nil {
		return err
	}
	c, err := e.acquireWrite(ctx, p, s)
	if err != nil {
		return err
	}
	defer p.Release(c)

	ferr := fn(c)
	var ce committed
	if errors.As(ferr, &ce) {
		if err := e.finish(ctx, c, nil); err != nil {
			return err
		}
		return ce.err
	}
	return e.finish(ctx, c, ferr)
}

// committed carries an error reported to the caller after the work done so
// far has been committed.
type committed struct{ err error }

func (c committed) Error() string { return c.err.Error() }
func (c committed) Unwrap() error { return c.err }

// CreateOneRow inserts the row in schema. A Candidate row left Deleted or
// RowInvalid is purged first; any other existing row is a primary key
// violation.
func (e *Engine) CreateOneRow(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema) error {
	return e.write(ctx, query.CreateOne.String(), s, ds, func(c *pool.Conn) error {
		exists, status, err := existence(ctx, c, ds, schema)
		if err != nil {
			return err
		}
		if exists {
			if !ds.HasRowStatus() || !status.Purgeable() {
				return fmt.Errorf("%w: %s", types.ErrPrimaryKeyViolation, schema.Table)
			}
			if _, err := exec(ctx, c, query.Request{Op: query.ClearOne, Datastore: ds, Schema: schema}); err != nil {
				return err
			}
		}
		_, err = exec(ctx, c, query.Request{Op: query.CreateOne, Datastore: ds, Schema: schema})
		return err
	})
}

// UpdateOneRow rewrites the non-key columns of an existing row. A Candidate
// row left RowInvalid, or Deleted when the update is not internal, is
// purged and recreated from the supplied columns.
func (e *Engine) UpdateOneRow(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema, internal bool) error {
	return e.write(ctx, query.UpdateOne.String(), s, ds, func(c *pool.Conn) error {
		exists, status, err := existence(ctx, c, ds, schema)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", types.ErrRowNotExists, schema.Table)
		}
		if ds.HasRowStatus() && (status == types.StatusRowInvalid || (status == types.StatusDeleted && !internal)) {
			if _, err := exec(ctx, c, query.Request{Op: query.ClearOne, Datastore: ds, Schema: schema}); err != nil {
				return err
			}
			_, err = exec(ctx, c, query.Request{Op: query.CreateOne, Datastore: ds, Schema: schema})
			return err
		}
		n, err := exec(ctx, c, query.Request{Op: query.UpdateOne, Datastore: ds, Schema: schema, Internal: internal})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", types.ErrRowNotExists, schema.Table)
		}
		return nil
	})
}

// DeleteOneRow soft-deletes a Candidate row and physically deletes a row in
// any other datastore. Deleting a row that is already Deleted purges it and
// reports ErrRowNotExists.
func (e *Engine) DeleteOneRow(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema) error {
	return e.write(ctx, query.DeleteOne.String(), s, ds, func(c *pool.Conn) error {
		exists, status, err := existence(ctx, c, ds, schema)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", types.ErrRowNotExists, schema.Table)
		}
		if ds.HasRowStatus() && status == types.StatusDeleted {
			if _, err := exec(ctx, c, query.Request{Op: query.ClearOne, Datastore: ds, Schema: schema}); err != nil {
				return err
			}
			return committed{fmt.Errorf("%w: %s already deleted", types.ErrRowNotExists, schema.Table)}
		}
		_, err = exec(ctx, c, query.Request{Op: query.DeleteOne, Datastore: ds, Schema: schema})
		return err
	})
}

// ClearOneRow physically removes one row from any writable datastore.
func (e *Engine) ClearOneRow(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema) error {
	return e.write(ctx, query.ClearOne.String(), s, ds, func(c *pool.Conn) error {
		n, err := exec(ctx, c, query.Request{Op: query.ClearOne, Datastore: ds, Schema: schema})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", types.ErrRowNotExists, schema.Table)
		}
		return nil
	})
}

// read acquires the read handle for s, runs fn and ends the read
// transaction.
func (e *Engine) read(ctx context.Context, op string, s types.Session, ds types.DatastoreID,
	fn func(c *pool.Conn, ds types.DatastoreID) error) (err error) {
	start := time.Now()
	ds = e.readDatastore(ds)
	defer func() { e.observe(op, s, ds, start, err) }()

	p, err := e.connPool()
	if err != nil {
		return err
	}
	c, err := p.Acquire(ctx, s)
	if err != nil {
		return err
	}
	defer p.Release(c)
	return e.finish(ctx, c, fn(c, ds))
}

// IsRowExists reports whether the row exists and, for Candidate, its status.
// Soft-deleted rows exist until commit purges them.
func (e *Engine) IsRowExists(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema) (bool, types.RowStatus, error) {
	var exists bool
	var status types.RowStatus
	err := e.read(ctx, query.IsRowExists.String(), s, ds, func(c *pool.Conn, ds types.DatastoreID) error {
		var err error
		exists, status, err = existence(ctx, c, ds, schema)
		return err
	})
	if err != nil {
		return false, types.StatusNone, err
	}
	return exists, status, nil
}

// fetch runs every statement of req in order and decodes up to limit rows;
// limit <= 0 means no limit.
func fetch(ctx context.Context, c *pool.Conn, req query.Request, limit int) (types.RowSet, error) {
	stmts, err := query.Build(req)
	if err != nil {
		return nil, err
	}
	out := types.RowSet{}
	for _, st := range stmts {
		raw, err := c.Query(ctx, st)
		if err != nil {
			return nil, err
		}
		for _, vals := range raw {
			row, err := decodeRow(st, vals)
			if err != nil {
				return nil, err
			}
			out = append(out, row)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// GetOneRow returns the row with the supplied primary key.
func (e *Engine) GetOneRow(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema) (types.RowSchema, error) {
	var rows types.RowSet
	err := e.read(ctx, query.GetOne.String(), s, ds, func(c *pool.Conn, ds types.DatastoreID) error {
		var err error
		rows, err = fetch(ctx, c, query.Request{Op: query.GetOne, Datastore: ds, Schema: schema}, 1)
		return err
	})
	if err != nil {
		return types.RowSchema{}, err
	}
	if len(rows) == 0 {
		return types.RowSchema{}, fmt.Errorf("%w: %s", types.ErrRecordNotFound, schema.Table)
	}
	return rows[0], nil
}

// GetBulkRows returns up to maxRows rows following the supplied key in sort
// order, or from the start when no key is supplied.
func (e *Engine) GetBulkRows(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema, maxRows int) (types.RowSet, error) {
	var rows types.RowSet
	err := e.read(ctx, query.GetBulk.String(), s, ds, func(c *pool.Conn, ds types.DatastoreID) error {
		var err error
		rows, err = fetch(ctx, c, query.Request{Op: query.GetBulk, Datastore: ds, Schema: schema, MaxRows: maxRows}, maxRows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if hasStartKey(schema) {
			return nil, fmt.Errorf("%w: %s", types.ErrNoMoreRecords, schema.Table)
		}
		return nil, fmt.Errorf("%w: %s", types.ErrRecordNotFound, schema.Table)
	}
	return rows, nil
}

func hasStartKey(schema *types.TableSchema) bool {
	def := schema.Table.Def()
	if def == nil || len(def.PrimaryKey) == 0 {
		return false
	}
	v := schema.Row().Value(def.PrimaryKey[0])
	if str, ok := v.(string); ok {
		return str != ""
	}
	return v != nil
}

func (e *Engine) readRows(ctx context.Context, s types.Session, ds types.DatastoreID, req query.Request, limit int) (types.RowSet, error) {
	var rows types.RowSet
	err := e.read(ctx, req.Op.String(), s, ds, func(c *pool.Conn, ds types.DatastoreID) error {
		req.Datastore = ds
		var err error
		rows, err = fetch(ctx, c, req, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrRecordNotFound, req.Schema.Table)
	}
	return rows, nil
}

// GetSiblingBegin returns the first rows sharing the supplied parent keys.
func (e *Engine) GetSiblingBegin(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema, maxRows int) (types.RowSet, error) {
	return e.readRows(ctx, s, ds, query.Request{Op: query.GetSiblingBegin, Schema: schema, MaxRows: maxRows}, maxRows)
}

// GetSiblingRows returns rows matching one comparison per primary-key
// column.
func (e *Engine) GetSiblingRows(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema, maxRows int, ops []types.Operator) (types.RowSet, error) {
	return e.readRows(ctx, s, ds, query.Request{Op: query.GetSiblingRows, Schema: schema, MaxRows: maxRows, Operators: ops}, maxRows)
}

// GetModifiedRows returns the Candidate rows currently in status.
func (e *Engine) GetModifiedRows(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema, status types.RowStatus) (types.RowSet, error) {
	return e.readRows(ctx, s, ds, query.Request{Op: query.GetModifiedRows, Schema: schema, Status: status}, 0)
}

func (e *Engine) count(ctx context.Context, s types.Session, ds types.DatastoreID, req query.Request) (int, error) {
	var n int64
	err := e.read(ctx, req.Op.String(), s, ds, func(c *pool.Conn, ds types.DatastoreID) error {
		req.Datastore = ds
		stmts, err := query.Build(req)
		if err != nil {
			return err
		}
		rows, err := c.Query(ctx, stmts[0])
		if err != nil {
			return err
		}
		if len(rows) != 1 || len(rows[0]) != 1 {
			return fmt.Errorf("%w: count returned %d rows", types.ErrFetch, len(rows))
		}
		n, err = toCount(rows[0][0])
		return err
	})
	return int(n), err
}

// GetSiblingCount counts the rows GetSiblingRows would match without a limit.
func (e *Engine) GetSiblingCount(ctx context.Context, s types.Session, ds types.DatastoreID, schema *types.TableSchema, ops []types.Operator) (int, error) {
	return e.count(ctx, s, ds, query.Request{Op: query.GetSiblingCount, Schema: schema, Operators: ops})
}

// GetRowCount counts the visible rows of table.
func (e *Engine) GetRowCount(ctx context.Context, s types.Session, ds types.DatastoreID, table types.TableID) (int, error) {
	return e.count(ctx, s, ds, query.Request{Op: query.GetRowCount, Schema: types.NewTableSchema(table)})
}
