package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ctrdb/internal/paths"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ctrdb configuration and storage",
		Long:  "Create the configuration directory and a default config.yaml, then create every datastore table.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return err
	}
	path, err := ensureDefaultConfigFile(configDir, flags.dataDir)
	if err != nil {
		return err
	}
	// Re-read so a freshly written config.yaml takes effect.
	if cfg, err = loadConfig(configDir); err != nil {
		return err
	}
	// Attach creates the schema.
	return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
		fmt.Fprintln(out, "ctrdb initialized")
		fmt.Fprintln(out, "  config:", path)
		return nil
	})
}
