package query

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// keyWhere returns "k1 = 'v1' AND k2 = 'v2' ..." for every primary-key
// column of def, taking values from row. A missing or empty key value is a
// synthesis error.
func keyWhere(def *types.TableDef, row types.RowSchema) (string, error) {
	if len(def.PrimaryKey) == 0 {
		return "", fmt.Errorf("%w: %s has no primary key", types.ErrQuerySynthesis, def.Name)
	}
	preds := make([]string, 0, len(def.PrimaryKey))
	for _, k := range def.PrimaryKey {
		v := row.Value(k)
		if isEmpty(v) {
			return "", fmt.Errorf("%w: missing key %s for %s", types.ErrQuerySynthesis, k, def.Name)
		}
		cd, _ := def.Column(k)
		lit, err := literal(cd, v)
		if err != nil {
			return "", err
		}
		preds = append(preds, string(k)+" = "+lit)
	}
	return strings.Join(preds, " AND "), nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func firstRow(def *types.TableDef, schema *types.TableSchema) (types.RowSchema, error) {
	if len(schema.Rows) == 0 {
		return types.RowSchema{}, fmt.Errorf("%w: no row for %s", types.ErrQuerySynthesis, def.Name)
	}
	return schema.Rows[0], nil
}

// boundColumns validates the attributes of row against def and returns the
// columns and driver values to bind, skipping key columns when withKeys is
// false.
func boundColumns(def *types.TableDef, row types.RowSchema, withKeys bool) ([]types.Column, []any, error) {
	var cols []types.Column
	var args []any
	seen := make(map[types.Column]bool, len(row.Attributes))
	for _, a := range row.Attributes {
		if a.Column == types.ColRowStatus {
			continue
		}
		cd, ok := def.Column(a.Column)
		if !ok {
			return nil, nil, fmt.Errorf("%w: column %s not in %s", types.ErrQuerySynthesis, a.Column, def.Name)
		}
		if seen[a.Column] {
			return nil, nil, fmt.Errorf("%w: column %s bound twice", types.ErrQuerySynthesis, a.Column)
		}
		seen[a.Column] = true
		if !withKeys && def.IsKey(a.Column) {
			continue
		}
		v, err := bindValue(cd, a)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, a.Column)
		args = append(args, v)
	}
	return cols, args, nil
}

// createOne inserts one row. Candidate rows start in StatusCreated.
func createOne(ds types.DatastoreID, schema *types.TableSchema) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	row, err := firstRow(def, schema)
	if err != nil {
		return Statement{}, err
	}
	if _, err := keyWhere(def, row); err != nil {
		return Statement{}, err
	}
	cols, args, err := boundColumns(def, row, true)
	if err != nil {
		return Statement{}, err
	}
	values := placeholders(len(cols))
	colList := joinColumns(cols)
	if ds.HasRowStatus() {
		colList += ", " + string(types.ColRowStatus)
		values += ", " + statusLiteral(types.StatusCreated)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.Table.PhysicalName(ds), colList, values)
	return Statement{SQL: sql, Args: args}, nil
}

// updateOne rewrites the non-key columns of one row. Key columns are never
// part of the SET list.
func updateOne(ds types.DatastoreID, schema *types.TableSchema, internal bool) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	row, err := firstRow(def, schema)
	if err != nil {
		return Statement{}, err
	}
	where, err := keyWhere(def, row)
	if err != nil {
		return Statement{}, err
	}
	cols, args, err := boundColumns(def, row, false)
	if err != nil {
		return Statement{}, err
	}
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, string(c)+" = ?")
	}
	if ds.HasRowStatus() && !internal {
		// A row never committed stays Created.
		sets = append(sets, fmt.Sprintf("%[1]s = CASE WHEN %[1]s = %[2]s THEN %[2]s ELSE %[3]s END",
			types.ColRowStatus, statusLiteral(types.StatusCreated), statusLiteral(types.StatusUpdated)))
	}
	if len(sets) == 0 {
		return Statement{}, fmt.Errorf("%w: nothing to update in %s", types.ErrQuerySynthesis, def.Name)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", schema.Table.PhysicalName(ds), strings.Join(sets, ", "), where)
	return Statement{SQL: sql, Args: args}, nil
}

// deleteOne soft-deletes a Candidate row and physically deletes elsewhere.
func deleteOne(ds types.DatastoreID, schema *types.TableSchema) (Statement, error) {
	if !ds.HasRowStatus() {
		return clearOne(ds, schema)
	}
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	row, err := firstRow(def, schema)
	if err != nil {
		return Statement{}, err
	}
	where, err := keyWhere(def, row)
	if err != nil {
		return Statement{}, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s",
		schema.Table.PhysicalName(ds), types.ColRowStatus, statusLiteral(types.StatusDeleted), where)
	return Statement{SQL: sql}, nil
}

// clearOne physically removes one row from any datastore.
func clearOne(ds types.DatastoreID, schema *types.TableSchema) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	row, err := firstRow(def, schema)
	if err != nil {
		return Statement{}, err
	}
	where, err := keyWhere(def, row)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE %s", schema.Table.PhysicalName(ds), where)}, nil
}

// isRowExists returns one row holding the existence flag and, for
// Candidate, the current status (NULL when absent).
func isRowExists(ds types.DatastoreID, schema *types.TableSchema) (Statement, error) {
	def, err := resolve(ds, schema)
	if err != nil {
		return Statement{}, err
	}
	row, err := firstRow(def, schema)
	if err != nil {
		return Statement{}, err
	}
	where, err := keyWhere(def, row)
	if err != nil {
		return Statement{}, err
	}
	table := schema.Table.PhysicalName(ds)
	sql := fmt.Sprintf("SELECT EXISTS(SELECT * FROM %s WHERE %s)", table, where)
	st := Statement{Columns: []types.ColumnDef{{Name: "exists", Type: types.TypeInt64}}}
	if ds.HasRowStatus() {
		sql += fmt.Sprintf(", (SELECT %s FROM %s WHERE %s)", types.ColRowStatus, table, where)
		st.Status = true
	}
	st.SQL = sql
	return st, nil
}
