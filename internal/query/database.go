package query

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// clearOrder lists tables children first so that no row outlives the row it
// refers to while a clear sequence runs.
var clearOrder = []types.TableID{
	types.LogicalMemberPort,
	types.LogicalPort,
	types.Link,
	types.Port,
	types.Switch,
	types.Boundary,
	types.ControllerDomain,
	types.Controller,
}

// Copy orders. Domain rows go before their controllers on delete and after
// them on insert.
var (
	copyClearOrder  = []types.TableID{types.ControllerDomain, types.Controller, types.Boundary}
	copyInsertOrder = []types.TableID{types.Controller, types.ControllerDomain, types.Boundary}
)

// unknownControllers restricts a domain statement to the rows owned by
// controllers of unknown type in datastore ds. Domains of other controller
// types are learned, not configured, and are never copied.
func unknownControllers(ds types.DatastoreID) string {
	return fmt.Sprintf("%[1]s IN (SELECT %[1]s FROM %[2]s WHERE %[3]s = %[4]d)",
		types.ColControllerName, types.Controller.PhysicalName(ds), types.ColType, types.ControllerUnknown)
}

func copyClear(dst types.DatastoreID) []Statement {
	stmts := make([]Statement, 0, len(copyClearOrder))
	for _, t := range copyClearOrder {
		sql := "DELETE FROM " + t.PhysicalName(dst)
		if t == types.ControllerDomain {
			sql += " WHERE " + unknownControllers(dst)
		}
		stmts = append(stmts, Statement{SQL: sql})
	}
	return stmts
}

func copyInsert(src, dst types.DatastoreID) []Statement {
	stmts := make([]Statement, 0, len(copyInsertOrder))
	for _, t := range copyInsertOrder {
		cols := joinColumns(t.Def().ColumnNames())
		into, sel := cols, cols
		if dst.HasRowStatus() {
			into += ", " + string(types.ColRowStatus)
			sel += ", " + statusLiteral(types.StatusApplied)
		}
		var preds []string
		if src.HasRowStatus() {
			preds = append(preds, string(types.ColRowStatus)+" NOT IN "+statusList(types.Purged))
		}
		if t == types.ControllerDomain {
			preds = append(preds, unknownControllers(src))
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s%s",
			t.PhysicalName(dst), into, sel, t.PhysicalName(src), where(preds))
		stmts = append(stmts, Statement{SQL: sql})
	}
	return stmts
}

// copyDatabase replaces the config tables of dst with those of src.
func copyDatabase(src, dst types.DatastoreID) ([]Statement, error) {
	if !types.CanCopy(src, dst) {
		return nil, fmt.Errorf("%w: copy %v to %v", types.ErrInvalidOperation, src, dst)
	}
	return append(copyClear(dst), copyInsert(src, dst)...), nil
}

// clearDatabase deletes every row of every table owned by ds.
func clearDatabase(ds types.DatastoreID) ([]Statement, error) {
	if !ds.Valid() {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidOperation, ds)
	}
	owned := ownedSet(ds)
	var stmts []Statement
	for _, t := range clearOrder {
		if owned[t] {
			stmts = append(stmts, Statement{SQL: "DELETE FROM " + t.PhysicalName(ds)})
		}
	}
	return stmts, nil
}

// clearOneInstance deletes the rows one controller owns in ds. The
// controller row itself and boundaries are left in place.
func clearOneInstance(ds types.DatastoreID, controller string) ([]Statement, error) {
	if !ds.Valid() {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidOperation, ds)
	}
	if controller == "" {
		return nil, fmt.Errorf("%w: empty controller name", types.ErrQuerySynthesis)
	}
	lit := "'" + strings.ReplaceAll(controller, "'", "''") + "'"
	owned := ownedSet(ds)
	var stmts []Statement
	for _, t := range clearOrder {
		if !owned[t] || t == types.Controller || t == types.Boundary {
			continue
		}
		if _, ok := t.Def().Column(types.ColControllerName); !ok {
			continue
		}
		stmts = append(stmts, Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			t.PhysicalName(ds), types.ColControllerName, lit)})
	}
	return stmts, nil
}

func ownedSet(ds types.DatastoreID) map[types.TableID]bool {
	owned := make(map[types.TableID]bool)
	for _, t := range types.TablesIn(ds) {
		owned[t] = true
	}
	return owned
}

// isCandidateDirty returns one existence probe per Candidate table. The
// candidate is dirty if any probe returns true.
func isCandidateDirty() []Statement {
	stmts := make([]Statement, 0, len(types.ConfigTables))
	for _, t := range types.ConfigTables {
		stmts = append(stmts, Statement{
			SQL: fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s <> %s)",
				t.PhysicalName(types.Candidate), types.ColRowStatus, statusLiteral(types.StatusApplied)),
			Columns: []types.ColumnDef{{Name: "exists", Type: types.TypeInt64}},
		})
	}
	return stmts
}

// stateColumns are the fields Candidate never stages; commit refreshes them
// from Running.
var stateColumns = map[types.TableID][]types.Column{
	types.Controller: {
		types.ColActualVersion,
		types.ColOperStatus,
		types.ColCommitNumber,
		types.ColCommitDate,
		types.ColCommitApplication,
	},
	types.ControllerDomain: {types.ColOperStatus},
	types.Boundary:         {types.ColOperStatus},
}

// refreshState copies the state columns of t from src into the matching
// rows of dst.
func refreshState(t types.TableID, src, dst types.DatastoreID) Statement {
	def := t.Def()
	target, from := t.PhysicalName(dst), t.PhysicalName(src)
	match := make([]string, len(def.PrimaryKey))
	for i, k := range def.PrimaryKey {
		match[i] = fmt.Sprintf("s.%[1]s = %[2]s.%[1]s", k, target)
	}
	on := strings.Join(match, " AND ")
	cols := stateColumns[t]
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%[1]s = (SELECT s.%[1]s FROM %[2]s s WHERE %[3]s)", c, from, on)
	}
	return Statement{SQL: fmt.Sprintf("UPDATE %s SET %s WHERE EXISTS (SELECT 1 FROM %s s WHERE %s)",
		target, strings.Join(sets, ", "), from, on)}
}

// commitAllConfig promotes src into dst. Only Candidate to Running is a
// commit; the sequence is:
//
//  1. promote pending rows to Applied
//  2. purge Deleted and RowInvalid rows
//  3. refresh state columns from Running
//  4. clear Running
//  5. copy Candidate into Running
func commitAllConfig(src, dst types.DatastoreID) ([]Statement, error) {
	if src != types.Candidate || dst != types.Running {
		return nil, fmt.Errorf("%w: commit %v to %v", types.ErrInvalidOperation, src, dst)
	}
	var stmts []Statement
	for _, t := range types.ConfigTables {
		stmts = append(stmts, Statement{SQL: fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IN %s",
			t.PhysicalName(src), types.ColRowStatus, statusLiteral(types.StatusApplied),
			types.ColRowStatus, statusList(types.Promotable))})
	}
	for _, t := range []types.TableID{types.Boundary, types.ControllerDomain, types.Controller} {
		stmts = append(stmts, Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE %s IN %s",
			t.PhysicalName(src), types.ColRowStatus, statusList(types.Purged))})
	}
	for _, t := range types.ConfigTables {
		stmts = append(stmts, refreshState(t, dst, src))
	}
	stmts = append(stmts, copyClear(dst)...)
	stmts = append(stmts, copyInsert(src, dst)...)
	return stmts, nil
}
