package query

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// selectPrefix returns "SELECT <all columns>[, cs_row_status] FROM <table>"
// and a Statement carrying the matching result layout.
func selectPrefix(ds types.DatastoreID, t types.TableID, def *types.TableDef) (string, Statement) {
	cols := def.ColumnNames()
	st := Statement{Columns: append([]types.ColumnDef(nil), def.Columns...)}
	list := joinColumns(cols)
	if ds.HasRowStatus() {
		list += ", " + string(types.ColRowStatus)
		st.Status = true
	}
	return fmt.Sprintf("SELECT %s FROM %s", list, t.PhysicalName(ds)), st
}

// notDeleted is the Candidate filter that hides soft-deleted rows.
func notDeleted() string {
	return string(types.ColRowStatus) + " <> " + statusLiteral(types.StatusDeleted)
}

func orderBy(def *types.TableDef) string {
	return " ORDER BY " + joinColumns(def.Order())
}

func where(preds []string) string {
	if len(preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(preds, " AND ")
}

func limit(n int) string {
	return fmt.Sprintf(" LIMIT %d", n)
}

func checkMaxRows(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: max rows must be positive, got %d", types.ErrQuerySynthesis, n)
	}
	return nil
}

// getOne selects one row by its full primary key. Soft-deleted Candidate
// rows are only visible through isRowExists.
func getOne(ds types.DatastoreID, schema *types.TableSchema) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	row, err := firstRow(def, schema)
	if err != nil {
		return Statement{}, err
	}
	kw, err := keyWhere(def, row)
	if err != nil {
		return Statement{}, err
	}
	preds := []string{kw}
	if ds.HasRowStatus() {
		preds = append(preds, notDeleted())
	}
	prefix, st := selectPrefix(ds, schema.Table, def)
	st.SQL = prefix + where(preds) + orderBy(def)
	return st, nil
}

// keyPrefix returns the number of leading primary-key columns with a
// non-empty value in row.
func keyPrefix(def *types.TableDef, row types.RowSchema) int {
	n := 0
	for _, k := range def.PrimaryKey {
		if isEmpty(row.Value(k)) {
			break
		}
		n++
	}
	return n
}

// keyPred renders "col op literal" for primary-key column k.
func keyPred(def *types.TableDef, k types.Column, op types.Operator, v any) (string, error) {
	sym, ok := op.SQL()
	if !ok {
		return "", fmt.Errorf("%w: unknown operator %d for %s", types.ErrQuerySynthesis, int(op), k)
	}
	cd, _ := def.Column(k)
	lit, err := literal(cd, v)
	if err != nil {
		return "", err
	}
	return string(k) + " " + sym + " " + lit, nil
}

// getBulk returns the rows that follow the supplied key in sort order. The
// continuation is split into one statement per key level, deepest first:
// for key (a, b, c) the statements select (a = A, b = B, c > C), then
// (a = A, b > B), then (a > A). A partial key (a, b) selects the subtree
// of (A, B) first with ">=". An empty key yields a single statement.
func getBulk(ds types.DatastoreID, schema *types.TableSchema, maxRows int) ([]Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return nil, err
	}
	if err := checkMaxRows(maxRows); err != nil {
		return nil, err
	}
	row := schema.Row()
	prefix, layout := selectPrefix(ds, schema.Table, def)
	var base []string
	if ds.HasRowStatus() {
		base = append(base, notDeleted())
	}

	p := keyPrefix(def, row)
	if p == 0 {
		st := layout
		st.SQL = prefix + where(base) + orderBy(def) + limit(maxRows)
		return []Statement{st}, nil
	}

	stmts := make([]Statement, 0, p)
	for level := p; level >= 1; level-- {
		preds := append([]string(nil), base...)
		for i := 0; i < level-1; i++ {
			k := def.PrimaryKey[i]
			pred, err := keyPred(def, k, types.OpEqual, row.Value(k))
			if err != nil {
				return nil, err
			}
			preds = append(preds, pred)
		}
		op := types.OpGreater
		if level == p && p < len(def.PrimaryKey) {
			op = types.OpGreaterEqual
		}
		k := def.PrimaryKey[level-1]
		pred, err := keyPred(def, k, op, row.Value(k))
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
		st := layout
		st.Columns = append([]types.ColumnDef(nil), layout.Columns...)
		st.SQL = prefix + where(preds) + orderBy(def) + limit(maxRows)
		stmts = append(stmts, st)
	}
	return stmts, nil
}

// parentPreds renders equality predicates for every primary-key column but
// the last; all of them must carry a value.
func parentPreds(def *types.TableDef, row types.RowSchema) ([]string, error) {
	var preds []string
	for _, k := range def.PrimaryKey[:len(def.PrimaryKey)-1] {
		v := row.Value(k)
		if isEmpty(v) {
			return nil, fmt.Errorf("%w: missing parent key %s for %s", types.ErrQuerySynthesis, k, def.Name)
		}
		pred, err := keyPred(def, k, types.OpEqual, v)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

// getSiblingBegin returns the first rows sharing the supplied parent keys.
func getSiblingBegin(ds types.DatastoreID, schema *types.TableSchema, maxRows int) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	if err := checkMaxRows(maxRows); err != nil {
		return Statement{}, err
	}
	preds, err := parentPreds(def, schema.Row())
	if err != nil {
		return Statement{}, err
	}
	if ds.HasRowStatus() {
		preds = append(preds, notDeleted())
	}
	prefix, st := selectPrefix(ds, schema.Table, def)
	st.SQL = prefix + where(preds) + orderBy(def) + limit(maxRows)
	return st, nil
}

// siblingPreds renders one predicate per primary-key column. ops[i] applies
// to key i; missing entries default to "=" for parents and ">" for the last
// key.
func siblingPreds(def *types.TableDef, row types.RowSchema, ops []types.Operator) ([]string, error) {
	if len(ops) > len(def.PrimaryKey) {
		return nil, fmt.Errorf("%w: %d operators for %d keys", types.ErrQuerySynthesis, len(ops), len(def.PrimaryKey))
	}
	last := len(def.PrimaryKey) - 1
	preds := make([]string, 0, len(def.PrimaryKey))
	for i, k := range def.PrimaryKey {
		op := types.OpEqual
		if i == last {
			op = types.OpGreater
		}
		if i < len(ops) {
			op = ops[i]
		}
		v := row.Value(k)
		if isEmpty(v) {
			return nil, fmt.Errorf("%w: missing key %s for %s", types.ErrQuerySynthesis, k, def.Name)
		}
		pred, err := keyPred(def, k, op, v)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

// getSiblingRows returns the rows matching one operator per key.
func getSiblingRows(ds types.DatastoreID, schema *types.TableSchema, maxRows int, ops []types.Operator) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	if err := checkMaxRows(maxRows); err != nil {
		return Statement{}, err
	}
	preds, err := siblingPreds(def, schema.Row(), ops)
	if err != nil {
		return Statement{}, err
	}
	if ds.HasRowStatus() {
		preds = append(preds, notDeleted())
	}
	prefix, st := selectPrefix(ds, schema.Table, def)
	st.SQL = prefix + where(preds) + orderBy(def) + limit(maxRows)
	return st, nil
}

func countStatement(sql string) Statement {
	return Statement{SQL: sql, Columns: []types.ColumnDef{{Name: "count", Type: types.TypeInt64}}}
}

// getSiblingCount counts the rows getSiblingRows would match, without a limit.
func getSiblingCount(ds types.DatastoreID, schema *types.TableSchema, ops []types.Operator) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	preds, err := siblingPreds(def, schema.Row(), ops)
	if err != nil {
		return Statement{}, err
	}
	if ds.HasRowStatus() {
		preds = append(preds, notDeleted())
	}
	return countStatement(fmt.Sprintf("SELECT COUNT(*) FROM %s%s", schema.Table.PhysicalName(ds), where(preds))), nil
}

// getRowCount counts every visible row of a table.
func getRowCount(ds types.DatastoreID, schema *types.TableSchema) (Statement, error) {
	if _, err := resolve(ds, schema); err != nil {
		return Statement{}, err
	}
	var preds []string
	if ds.HasRowStatus() {
		preds = append(preds, notDeleted())
	}
	return countStatement(fmt.Sprintf("SELECT COUNT(*) FROM %s%s", schema.Table.PhysicalName(ds), where(preds))), nil
}

// getModifiedRows selects the Candidate rows in one status.
func getModifiedRows(ds types.DatastoreID, schema *types.TableSchema, status types.RowStatus) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	if !ds.HasRowStatus() {
		return Statement{}, fmt.Errorf("%w: modified rows exist only in candidate, not %v", types.ErrQuerySynthesis, ds)
	}
	if status == types.StatusNone {
		return Statement{}, fmt.Errorf("%w: no status to match", types.ErrQuerySynthesis)
	}
	prefix, st := selectPrefix(ds, schema.Table, def)
	st.SQL = prefix + where([]string{string(types.ColRowStatus) + " = " + statusLiteral(status)}) + orderBy(def)
	return st, nil
}
