package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ctrdb/pkg/configdb"
)

const modulePath = "github.com/mesh-intelligence/ctrdb"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ctrdb version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ctrdb v%s\nmodule: %s\n", configdb.Version, modulePath)
			return nil
		},
	}
}
