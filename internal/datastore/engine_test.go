// Tests for the engine lifecycle, handle routing and the Startup fallback.
package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

func testConfig(t *testing.T) types.Config {
	t.Helper()
	return types.Config{
		Driver:       types.DriverSQLite,
		DSN:          "file:" + filepath.Join(t.TempDir(), "ctrdb.db"),
		ConnTimeout:  2 * time.Second,
		MaxReadConns: 2,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	require.NoError(t, e.Attach(testConfig(t)))
	t.Cleanup(func() { e.Detach() })
	return e
}

func row(t *testing.T, table types.TableID, m map[string]any) *types.TableSchema {
	t.Helper()
	r, err := types.RowFromMap(table, m)
	require.NoError(t, err)
	return types.NewTableSchema(table, r)
}

func controller(t *testing.T, name string) *types.TableSchema {
	return row(t, types.Controller, map[string]any{
		"controller_name": name,
		"type":            0,
		"version":         "5.0",
		"ip_address":      []byte{10, 0, 0, 1},
	})
}

var (
	client  = types.Session{ID: 100}
	cfgSess = types.Session{ID: 200, ConfigID: 7}
)

func TestAttachDetach(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()

	_, err := e.GetRowCount(ctx, client, types.Running, types.Controller)
	assert.ErrorIs(t, err, types.ErrDetached)

	assert.ErrorIs(t, e.Attach(types.Config{}), types.ErrDriverEmpty)

	cfg := testConfig(t)
	require.NoError(t, e.Attach(cfg))
	assert.ErrorIs(t, e.Attach(cfg), types.ErrAlreadyAttached)

	n, err := e.GetRowCount(ctx, client, types.Running, types.Controller)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, e.Detach())
	require.NoError(t, e.Detach(), "detach is idempotent")
	_, err = e.Stats()
	assert.ErrorIs(t, err, types.ErrDetached)
	assert.ErrorIs(t, e.CreateOneRow(ctx, client, types.Running, controller(t, "ctrl-1")), types.ErrDetached)

	// The schema survives a re-attach to the same file.
	require.NoError(t, e.Attach(cfg))
	require.NoError(t, e.CreateOneRow(ctx, client, types.Running, controller(t, "ctrl-1")))
	require.NoError(t, e.Detach())
	require.NoError(t, e.Attach(cfg))
	defer e.Detach()
	n, err = e.GetRowCount(ctx, client, types.Running, types.Controller)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConfigSessionsUseTheWriteHandle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateOneRow(ctx, cfgSess, types.Candidate, controller(t, "ctrl-1")))
	_, err := e.GetOneRow(ctx, cfgSess, types.Candidate, controller(t, "ctrl-1"))
	require.NoError(t, err)

	s, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Free, "config session reads never touch the read-only pool")

	_, err = e.GetOneRow(ctx, client, types.Candidate, controller(t, "ctrl-1"))
	require.NoError(t, err)
	s, err = e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Free)
	assert.Equal(t, 0, s.InUse)
}

func TestStartupIsReadOnly(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	err := e.CreateOneRow(ctx, client, types.Startup, controller(t, "ctrl-1"))
	assert.ErrorIs(t, err, types.ErrInvalidOperation)
	assert.Equal(t, types.InvalidOperationForDatastore, types.CodeOf(err))
	assert.ErrorIs(t, e.DeleteOneRow(ctx, client, types.Startup, controller(t, "ctrl-1")), types.ErrInvalidOperation)
}

func TestStartupFallsBackToRunning(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.CreateOneRow(ctx, types.InternalSession, types.Running, controller(t, "ctrl-1")))

	_, err := e.GetOneRow(ctx, client, types.Startup, controller(t, "ctrl-1"))
	assert.ErrorIs(t, err, types.ErrRecordNotFound)

	e.SetStartupValid(false)
	got, err := e.GetOneRow(ctx, client, types.Startup, controller(t, "ctrl-1"))
	require.NoError(t, err)
	assert.Equal(t, "ctrl-1", got.String(types.ColControllerName))

	e.SetStartupValid(true)
	require.NoError(t, e.CopyDatabase(ctx, types.Running, types.Startup))
	got, err = e.GetOneRow(ctx, client, types.Startup, controller(t, "ctrl-1"))
	require.NoError(t, err)
	assert.Equal(t, "5.0", got.String(types.ColVersion))
}
