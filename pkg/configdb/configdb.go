// Package configdb is the public entry point of the configuration datastore
// engine.
//
// Example:
//
//	db := configdb.New()
//	err := db.Attach(types.Config{
//	    Driver: types.DriverSQLite,
//	    DSN:    "file:/var/lib/ctrdb/ctrdb.db",
//	})
//	defer db.Detach()
package configdb

import (
	"github.com/mesh-intelligence/ctrdb/internal/datastore"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// Version is the release version of the engine and its CLI.
const Version = "0.3.0"

// New returns a detached engine. Call Attach with a Config before use.
func New() types.ConfigDB {
	return datastore.NewEngine()
}
