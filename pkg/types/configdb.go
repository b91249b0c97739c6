package types

import "context"

// ConfigDB is the configuration datastore engine. Callers attach it once at
// process startup, share it across goroutines, and detach it at shutdown.
type ConfigDB interface {
	// Attach opens the configured data sources, creates the physical schema
	// if missing and starts the connection pool. Returns ErrAlreadyAttached
	// if called while attached.
	Attach(config Config) error

	// Detach closes the pool and every connection. Idempotent.
	Detach() error

	// SetStartupValid records whether the Startup snapshot may be read.
	// When false, Startup reads are served from Running.
	SetStartupValid(valid bool)

	CreateOneRow(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema) error
	// UpdateOneRow updates non-key columns. An internal update skips the
	// Deleted short-circuit and leaves the row status untouched.
	UpdateOneRow(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema, internal bool) error
	DeleteOneRow(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema) error
	ClearOneRow(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema) error
	// IsRowExists reports existence and, for Candidate, the row status.
	IsRowExists(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema) (bool, RowStatus, error)

	GetOneRow(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema) (RowSchema, error)
	GetBulkRows(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema, maxRows int) (RowSet, error)
	GetSiblingBegin(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema, maxRows int) (RowSet, error)
	GetSiblingRows(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema, maxRows int, ops []Operator) (RowSet, error)
	GetSiblingCount(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema, ops []Operator) (int, error)
	GetRowCount(ctx context.Context, s Session, ds DatastoreID, table TableID) (int, error)
	GetModifiedRows(ctx context.Context, s Session, ds DatastoreID, schema *TableSchema, status RowStatus) (RowSet, error)

	CommitAllConfiguration(ctx context.Context, src, dst DatastoreID) error
	CopyDatabase(ctx context.Context, src, dst DatastoreID) error
	ClearDatabase(ctx context.Context, ds DatastoreID) error
	ClearOneInstance(ctx context.Context, ds DatastoreID, controller string) error
	IsCandidateDirty(ctx context.Context) (bool, error)

	// ImportJSONL replaces the Import datastore with the rows found in
	// <table>.jsonl files under dir.
	ImportJSONL(ctx context.Context, dir string) error
	// ExportJSONL writes every table of ds to dir.
	ExportJSONL(ctx context.Context, ds DatastoreID, dir string) error
}
