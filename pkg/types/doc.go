// Package types defines the datastore, table and row-schema model, the
// ConfigDB interface, and the result-code taxonomy shared by the ctrdb
// engine and its callers.
//
// Callers build a TableSchema (table, ordered primary keys, one or more
// RowSchema values) and pass it to a ConfigDB operation together with a
// DatastoreID. Every operation returns a single error whose ResultCode is
// obtained with CodeOf.
package types
