// Command ctrdb is the command-line front end of the configuration
// datastore engine.
package main

import "github.com/mesh-intelligence/ctrdb/internal/cli"

func main() {
	cli.Execute()
}
