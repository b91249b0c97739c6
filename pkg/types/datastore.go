package types

import (
	"fmt"
	"strings"
)

// DatastoreID identifies one logical configuration snapshot.
type DatastoreID int

// Datastores. Each maps to a fixed physical table-name prefix.
const (
	Candidate DatastoreID = iota + 1
	Running
	Startup
	State
	Import
)

var datastoreNames = map[DatastoreID]string{
	Candidate: "candidate",
	Running:   "running",
	Startup:   "startup",
	State:     "state",
	Import:    "import",
}

// datastorePrefixes holds the physical prefix of each datastore. State and
// Running share "r_" but own disjoint table sets.
var datastorePrefixes = map[DatastoreID]string{
	Candidate: "c_",
	Running:   "r_",
	Startup:   "s_",
	State:     "r_",
	Import:    "i_",
}

// Datastores lists every datastore in declaration order.
var Datastores = []DatastoreID{Candidate, Running, Startup, State, Import}

// String returns the lower-case datastore name.
func (d DatastoreID) String() string {
	if n, ok := datastoreNames[d]; ok {
		return n
	}
	return fmt.Sprintf("datastore(%d)", int(d))
}

// Valid reports whether d is a known datastore.
func (d DatastoreID) Valid() bool {
	_, ok := datastoreNames[d]
	return ok
}

// Prefix returns the physical table-name prefix, or "" for an unknown datastore.
func (d DatastoreID) Prefix() string {
	return datastorePrefixes[d]
}

// HasRowStatus reports whether tables of d carry the cs_row_status column.
func (d DatastoreID) HasRowStatus() bool {
	return d == Candidate
}

// ParseDatastore converts a datastore name (case-insensitive) to its ID.
func ParseDatastore(name string) (DatastoreID, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for id, s := range datastoreNames {
		if s == n {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown datastore %q", ErrInvalidOperation, name)
}

// copyPairs are the only (source, destination) pairs CopyDatabase accepts.
var copyPairs = map[[2]DatastoreID]bool{
	{Startup, Candidate}: true,
	{Candidate, Running}: true,
	{Running, Candidate}: true,
	{Running, Startup}:   true,
}

// CanCopy reports whether copying src into dst is a sanctioned pair.
func CanCopy(src, dst DatastoreID) bool {
	return copyPairs[[2]DatastoreID{src, dst}]
}
