package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// columnType returns the DDL type of cd for driver. Unsigned values are
// stored in signed integer columns wide enough to hold them.
func columnType(driver string, cd types.ColumnDef) string {
	pg := driver == types.DriverPostgres
	switch cd.Type {
	case types.TypeString:
		if cd.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", cd.Length)
		}
		return "TEXT"
	case types.TypeBytes:
		if pg {
			return "BYTEA"
		}
		return "BLOB"
	case types.TypeUint8:
		if pg {
			return "SMALLINT"
		}
	case types.TypeUint16:
		if pg {
			return "INTEGER"
		}
	case types.TypeUint32, types.TypeUint64, types.TypeInt64:
		if pg {
			return "BIGINT"
		}
	}
	return "INTEGER"
}

// tableDDL returns the CREATE TABLE statement for t in datastore ds.
func tableDDL(driver string, t types.TableID, ds types.DatastoreID) string {
	def := t.Def()
	lines := make([]string, 0, len(def.Columns)+2)
	for _, cd := range def.Columns {
		line := "    " + string(cd.Name) + " " + columnType(driver, cd)
		if def.IsKey(cd.Name) {
			line += " NOT NULL"
		}
		lines = append(lines, line)
	}
	if ds.HasRowStatus() {
		lines = append(lines, fmt.Sprintf("    %s INTEGER NOT NULL DEFAULT %d", types.ColRowStatus, types.StatusCreated))
	}
	keys := make([]string, len(def.PrimaryKey))
	for i, k := range def.PrimaryKey {
		keys[i] = string(k)
	}
	lines = append(lines, "    PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.PhysicalName(ds), strings.Join(lines, ",\n"))
}

// schemaDDL lists the DDL of every physical table. Running and State share
// the r_ prefix over disjoint table sets, so each table appears once.
func schemaDDL(driver string) []string {
	var out []string
	for _, ds := range types.Datastores {
		for _, t := range types.TablesIn(ds) {
			out = append(out, tableDDL(driver, t, ds))
		}
	}
	return out
}

// createSchema creates any missing table in one transaction.
func createSchema(db *sql.DB, driver string) error {
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin schema transaction: %v", types.ErrConnection, err)
	}
	defer tx.Rollback()

	for _, ddl := range schemaDDL(driver) {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: create schema: %v", types.ErrStatement, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit schema: %v", types.ErrStatement, err)
	}
	return nil
}
