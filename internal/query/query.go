// Package query synthesises the SQL statements the engine executes. Every
// function here is pure: given the same Request it returns the same
// statements, and it never touches a connection.
package query

import (
	"fmt"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// Kind is the operation a Request asks for.
type Kind int

// Operation kinds.
const (
	CreateOne Kind = iota + 1
	UpdateOne
	DeleteOne
	ClearOne
	IsRowExists
	GetOne
	GetBulk
	GetSiblingBegin
	GetSiblingRows
	GetSiblingCount
	GetRowCount
	GetModifiedRows
	CopyDatabase
	ClearDatabase
	ClearOneInstance
	IsCandidateDirty
	CommitAllConfig
)

var kindNames = map[Kind]string{
	CreateOne:        "create_one",
	UpdateOne:        "update_one",
	DeleteOne:        "delete_one",
	ClearOne:         "clear_one",
	IsRowExists:      "is_row_exists",
	GetOne:           "get_one",
	GetBulk:          "get_bulk",
	GetSiblingBegin:  "get_sibling_begin",
	GetSiblingRows:   "get_sibling_rows",
	GetSiblingCount:  "get_sibling_count",
	GetRowCount:      "get_row_count",
	GetModifiedRows:  "get_modified_rows",
	CopyDatabase:     "copy_database",
	ClearDatabase:    "clear_database",
	ClearOneInstance: "clear_one_instance",
	IsCandidateDirty: "is_candidate_dirty",
	CommitAllConfig:  "commit_all_config",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Statement is one SQL statement with its placeholder arguments.
type Statement struct {
	SQL  string
	Args []any
	// Columns lists the result columns of a row-returning SELECT in order.
	Columns []types.ColumnDef
	// Status is set when each result row ends with cs_row_status.
	Status bool
}

// Request carries the inputs of one synthesis call. Only the fields the
// operation needs are read.
type Request struct {
	Op        Kind
	Datastore types.DatastoreID
	Schema    *types.TableSchema
	Operators []types.Operator
	MaxRows   int
	// Status selects rows for GetModifiedRows.
	Status types.RowStatus
	// Source and Dest name the datastores of CopyDatabase and CommitAllConfig.
	Source, Dest types.DatastoreID
	// Controller names the instance removed by ClearOneInstance.
	Controller string
	// Internal marks a system-driven update that must not touch the row status.
	Internal bool
}

// Build returns the ordered statements for req.
func Build(req Request) ([]Statement, error) {
	switch req.Op {
	case CreateOne:
		return one(createOne(req.Datastore, req.Schema))
	case UpdateOne:
		return one(updateOne(req.Datastore, req.Schema, req.Internal))
	case DeleteOne:
		return one(deleteOne(req.Datastore, req.Schema))
	case ClearOne:
		return one(clearOne(req.Datastore, req.Schema))
	case IsRowExists:
		return one(isRowExists(req.Datastore, req.Schema))
	case GetOne:
		return one(getOne(req.Datastore, req.Schema))
	case GetBulk:
		return getBulk(req.Datastore, req.Schema, req.MaxRows)
	case GetSiblingBegin:
		return one(getSiblingBegin(req.Datastore, req.Schema, req.MaxRows))
	case GetSiblingRows:
		return one(getSiblingRows(req.Datastore, req.Schema, req.MaxRows, req.Operators))
	case GetSiblingCount:
		return one(getSiblingCount(req.Datastore, req.Schema, req.Operators))
	case GetRowCount:
		return one(getRowCount(req.Datastore, req.Schema))
	case GetModifiedRows:
		return one(getModifiedRows(req.Datastore, req.Schema, req.Status))
	case CopyDatabase:
		return copyDatabase(req.Source, req.Dest)
	case ClearDatabase:
		return clearDatabase(req.Datastore)
	case ClearOneInstance:
		return clearOneInstance(req.Datastore, req.Controller)
	case IsCandidateDirty:
		return isCandidateDirty(), nil
	case CommitAllConfig:
		return commitAllConfig(req.Source, req.Dest)
	}
	return nil, fmt.Errorf("%w: unknown operation %v", types.ErrQuerySynthesis, req.Op)
}

func one(st Statement, err error) ([]Statement, error) {
	if err != nil {
		return nil, err
	}
	return []Statement{st}, nil
}

// resolve validates that schema names a table present in ds and returns
// its catalog entry.
func resolve(ds types.DatastoreID, schema *types.TableSchema) (*types.TableDef, error) {
	if !ds.Valid() {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidOperation, ds)
	}
	if schema == nil {
		return nil, fmt.Errorf("%w: nil schema", types.ErrQuerySynthesis)
	}
	def := schema.Table.Def()
	if def == nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnknownTable, schema.Table)
	}
	if !schema.Table.InDatastore(ds) {
		return nil, fmt.Errorf("%w: %s not in %v", types.ErrUnknownTable, def.Name, ds)
	}
	if len(schema.PrimaryKeys) > 0 && !sameColumns(schema.PrimaryKeys, def.PrimaryKey) {
		return nil, fmt.Errorf("%w: primary key %v does not match %s", types.ErrQuerySynthesis, schema.PrimaryKeys, def.Name)
	}
	return def, nil
}

func sameColumns(a, b []types.Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
