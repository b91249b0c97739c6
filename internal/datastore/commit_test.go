// Tests for the commit coordinator: commit promotion and purge, state
// refresh, atomic rollback, copies, clears and the dirty check.
package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

func TestCommitPromotesAndPurges(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	keep, drop := controller(t, "ctrl-1"), controller(t, "ctrl-2")
	require.NoError(t, e.CreateOneRow(ctx, client, types.Candidate, keep))
	require.NoError(t, e.CreateOneRow(ctx, client, types.Candidate, drop))
	require.NoError(t, e.CreateOneRow(ctx, client, types.Candidate, domain(t, "ctrl-1", "dom-1")))
	require.NoError(t, e.CommitAllConfiguration(ctx, types.Candidate, types.Running))

	require.NoError(t, e.DeleteOneRow(ctx, client, types.Candidate, drop))
	require.NoError(t, e.CommitAllConfiguration(ctx, types.Candidate, types.Running))

	for _, ds := range []types.DatastoreID{types.Candidate, types.Running} {
		n, err := e.GetRowCount(ctx, client, ds, types.Controller)
		require.NoError(t, err)
		assert.Equal(t, 1, n, ds.String())
	}
	exists, _, err := e.IsRowExists(ctx, client, types.Candidate, drop)
	require.NoError(t, err)
	assert.False(t, exists, "deleted rows are purged on commit")

	rows, err := e.GetModifiedRows(ctx, client, types.Candidate, types.NewTableSchema(types.ControllerDomain), types.StatusApplied)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	_, err = e.GetOneRow(ctx, client, types.Running, domain(t, "ctrl-1", "dom-1"))
	require.NoError(t, err, "domains of unknown-type controllers are committed")
}

func TestCommitRefreshesStateColumns(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	ctrl := controller(t, "ctrl-1")
	require.NoError(t, e.CreateOneRow(ctx, client, types.Candidate, ctrl))
	require.NoError(t, e.CommitAllConfiguration(ctx, types.Candidate, types.Running))

	// Discovery reports the controller's live state into Running.
	state := row(t, types.Controller, map[string]any{
		"controller_name": "ctrl-1",
		"actual_version":  "5.0.2",
		"oper_status":     1,
	})
	require.NoError(t, e.UpdateOneRow(ctx, types.InternalSession, types.Running, state, true))

	edit := row(t, types.Controller, map[string]any{"controller_name": "ctrl-1", "description": "moved"})
	require.NoError(t, e.UpdateOneRow(ctx, client, types.Candidate, edit, false))
	require.NoError(t, e.CommitAllConfiguration(ctx, types.Candidate, types.Running))

	got, err := e.GetOneRow(ctx, client, types.Running, ctrl)
	require.NoError(t, err)
	assert.Equal(t, "moved", got.String(types.ColDescription))
	assert.Equal(t, "5.0.2", got.String(types.ColActualVersion))
	assert.Equal(t, uint8(1), got.Value(types.ColOperStatus))
}

func TestCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	ctrl := controller(t, "ctrl-1")
	require.NoError(t, e.CreateOneRow(ctx, client, types.Candidate, ctrl))

	// Break the sequence after the Candidate tables have been rewritten.
	_, err := e.rw.ExecContext(ctx, "DROP TABLE r_boundary_table")
	require.NoError(t, err)

	err = e.CommitAllConfiguration(ctx, types.Candidate, types.Running)
	require.Error(t, err)
	assert.Equal(t, types.StatementError, types.CodeOf(err))

	assert.Equal(t, types.StatusCreated, status(t, e, ctrl), "promotion rolled back")
	_, err = e.GetOneRow(ctx, client, types.Running, ctrl)
	assert.ErrorIs(t, err, types.ErrRecordNotFound)

	dirty, err := e.IsCandidateDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestCommitRejectsOtherPairs(t *testing.T) {
	e := newTestEngine(t)
	err := e.CommitAllConfiguration(context.Background(), types.Running, types.Startup)
	assert.ErrorIs(t, err, types.ErrInvalidOperation)
	assert.ErrorIs(t, e.CopyDatabase(context.Background(), types.Candidate, types.Startup), types.ErrInvalidOperation)
}

func TestCopyDatabase(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	require.NoError(t, e.CreateOneRow(ctx, client, types.Running, controller(t, "ctrl-1")))
	require.NoError(t, e.CreateOneRow(ctx, client, types.Running, domain(t, "ctrl-1", "dom-1")))
	require.NoError(t, e.CreateOneRow(ctx, client, types.Candidate, controller(t, "stale")))

	require.NoError(t, e.CopyDatabase(ctx, types.Running, types.Candidate))

	_, err := e.GetOneRow(ctx, client, types.Candidate, controller(t, "stale"))
	assert.ErrorIs(t, err, types.ErrRecordNotFound)
	assert.Equal(t, types.StatusApplied, status(t, e, controller(t, "ctrl-1")))
	assert.Equal(t, types.StatusApplied, status(t, e, domain(t, "ctrl-1", "dom-1")))

	dirty, err := e.IsCandidateDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, e.CopyDatabase(ctx, types.Running, types.Startup))
	n, err := e.GetRowCount(ctx, client, types.Startup, types.ControllerDomain)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCopySkipsLearnedDomains(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	pfc := row(t, types.Controller, map[string]any{"controller_name": "pfc-1", "type": int(types.ControllerPFC)})
	require.NoError(t, e.CreateOneRow(ctx, client, types.Running, pfc))
	require.NoError(t, e.CreateOneRow(ctx, client, types.Running, domain(t, "pfc-1", "learned")))

	require.NoError(t, e.CopyDatabase(ctx, types.Running, types.Candidate))
	_, err := e.GetOneRow(ctx, client, types.Candidate, pfc)
	require.NoError(t, err)
	n, err := e.GetRowCount(ctx, client, types.Candidate, types.ControllerDomain)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearDatabase(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	sw := row(t, types.Switch, map[string]any{"controller_name": "ctrl-1", "switch_id": "sw-1"})
	require.NoError(t, e.CreateOneRow(ctx, client, types.State, sw))
	require.NoError(t, e.CreateOneRow(ctx, client, types.Running, controller(t, "ctrl-1")))

	require.NoError(t, e.ClearDatabase(ctx, types.Running))
	n, err := e.GetRowCount(ctx, client, types.Running, types.Controller)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = e.GetRowCount(ctx, client, types.State, types.Switch)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "running and state share a prefix but not tables")
}

func TestClearOneInstance(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	for _, c := range []string{"ctrl-1", "ctrl-2"} {
		require.NoError(t, e.CreateOneRow(ctx, client, types.State, row(t, types.Switch, map[string]any{
			"controller_name": c, "switch_id": "sw-1",
		})))
		require.NoError(t, e.CreateOneRow(ctx, client, types.State, row(t, types.Port, map[string]any{
			"controller_name": c, "switch_id": "sw-1", "port_id": "p1",
		})))
	}

	require.NoError(t, e.ClearOneInstance(ctx, types.State, "ctrl-1"))
	rows, err := e.GetBulkRows(ctx, client, types.State, types.NewTableSchema(types.Port), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ctrl-2", rows[0].String(types.ColControllerName))

	assert.ErrorIs(t, e.ClearOneInstance(ctx, types.State, ""), types.ErrQuerySynthesis)
}

func TestIsCandidateDirty(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	dirty, err := e.IsCandidateDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, e.CreateOneRow(ctx, client, types.Candidate, row(t, types.Boundary, map[string]any{
		"boundary_id": "b-1", "controller_name1": "ctrl-1", "controller_name2": "ctrl-2",
	})))
	dirty, err = e.IsCandidateDirty(ctx)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, e.CommitAllConfiguration(ctx, types.Candidate, types.Running))
	dirty, err = e.IsCandidateDirty(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
}
