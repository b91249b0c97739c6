package datastore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mesh-intelligence/ctrdb/internal/pool"
	"github.com/mesh-intelligence/ctrdb/internal/query"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// exportPageSize is the number of rows read per bulk page during export.
const exportPageSize = 1000

func jsonlPath(dir string, t types.TableID) string {
	return filepath.Join(dir, t.String()+".jsonl")
}

// ImportJSONL replaces the Import datastore with the rows found in
// <table>.jsonl files under dir. Missing files leave their table empty.
// Malformed lines are skipped; a line whose values do not bind fails the
// whole import.
func (e *Engine) ImportJSONL(ctx context.Context, dir string) error {
	wipe, err := query.Build(query.Request{Op: query.ClearDatabase, Datastore: types.Import})
	if err != nil {
		return err
	}
	loaded := 0
	err = e.coordinate(ctx, "import", types.Import, func(c *pool.Conn) error {
		for _, st := range wipe {
			if _, err := c.Exec(ctx, st); err != nil {
				return err
			}
		}
		for _, t := range types.TablesIn(types.Import) {
			records, err := readJSONL(jsonlPath(dir, t))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrFetch, err)
			}
			for i, rec := range records {
				row, err := decodeRecord(t, rec)
				if err != nil {
					return fmt.Errorf("%s line %d: %w", t, i+1, err)
				}
				req := query.Request{Op: query.CreateOne, Datastore: types.Import, Schema: types.NewTableSchema(t, row)}
				if _, err := exec(ctx, c, req); err != nil {
					return fmt.Errorf("%s line %d: %w", t, i+1, err)
				}
				loaded++
			}
		}
		return nil
	})
	if err == nil {
		e.log.Info().Str("dir", dir).Int("rows", loaded).Msg("import loaded")
	}
	return err
}

// decodeRecord converts one JSON object into a row of t. Keys that are not
// columns of t are dropped.
func decodeRecord(t types.TableID, rec json.RawMessage) (types.RowSchema, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(rec))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return types.RowSchema{}, fmt.Errorf("%w: %v", types.ErrParameterBind, err)
	}
	def := t.Def()
	for k := range m {
		if _, ok := def.Column(types.Column(k)); !ok {
			delete(m, k)
		}
	}
	return types.RowFromMap(t, m)
}

// ExportJSONL writes every table of ds to <table>.jsonl under dir, one JSON
// object per row in sort order.
func (e *Engine) ExportJSONL(ctx context.Context, ds types.DatastoreID, dir string) (err error) {
	start := time.Now()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	written := 0
	err = e.read(ctx, "export", types.InternalSession, ds, func(c *pool.Conn, ds types.DatastoreID) error {
		for _, t := range types.TablesIn(ds) {
			records, err := exportTable(ctx, c, ds, t)
			if err != nil {
				return err
			}
			if err := writeJSONL(jsonlPath(dir, t), records); err != nil {
				return err
			}
			written += len(records)
		}
		return nil
	})
	if err == nil {
		e.log.Info().Stringer("datastore", ds).Str("dir", dir).Int("rows", written).
			Dur("elapsed", time.Since(start)).Msg("export written")
	}
	return err
}

// exportTable pages through t in sort order, continuing each page after the
// primary key of the last row read.
func exportTable(ctx context.Context, c *pool.Conn, ds types.DatastoreID, t types.TableID) ([]json.RawMessage, error) {
	def := t.Def()
	var records []json.RawMessage
	schema := types.NewTableSchema(t)
	for {
		rows, err := fetch(ctx, c, query.Request{Op: query.GetBulk, Datastore: ds, Schema: schema, MaxRows: exportPageSize}, exportPageSize)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			b, err := json.Marshal(row.Map())
			if err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrFetch, err)
			}
			records = append(records, b)
		}
		if len(rows) < exportPageSize {
			return records, nil
		}
		last := rows[len(rows)-1]
		var key types.RowSchema
		for _, k := range def.PrimaryKey {
			if a, ok := last.Get(k); ok {
				key.Attributes = append(key.Attributes, a)
			}
		}
		schema = types.NewTableSchema(t, key)
	}
}

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		records = append(records, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to path using the temp-file, fsync,
// rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
