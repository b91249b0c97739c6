package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

func newDatabaseCmds() []*cobra.Command {
	commit := &cobra.Command{
		Use:   "commit",
		Short: "Commit the candidate configuration to running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				if err := db.CommitAllConfiguration(ctx, types.Candidate, types.Running); err != nil {
					return err
				}
				fmt.Fprintln(out, "committed")
				return nil
			})
		},
	}

	cp := &cobra.Command{
		Use:   "copy <src> <dst>",
		Short: "Replace the configuration of one datastore with another's",
		Long:  "Copy supports startup→candidate, candidate→running, running→candidate and running→startup.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := types.ParseDatastore(args[0])
			if err != nil {
				return err
			}
			dst, err := types.ParseDatastore(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				return db.CopyDatabase(ctx, src, dst)
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <datastore>",
		Short: "Delete every row of a datastore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := types.ParseDatastore(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				return db.ClearDatabase(ctx, ds)
			})
		},
	}

	clearInstance := &cobra.Command{
		Use:   "clear-instance <datastore> <controller>",
		Short: "Delete every row owned by one controller",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := types.ParseDatastore(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				return db.ClearOneInstance(ctx, ds, args[1])
			})
		},
	}

	dirty := &cobra.Command{
		Use:   "dirty",
		Short: "Report whether the candidate holds uncommitted changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				d, err := db.IsCandidateDirty(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, map[string]bool{"dirty": d})
			})
		},
	}

	imp := &cobra.Command{
		Use:   "import <dir>",
		Short: "Replace the import datastore with <table>.jsonl files from dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				return db.ImportJSONL(ctx, args[0])
			})
		},
	}

	exp := &cobra.Command{
		Use:   "export <datastore> <dir>",
		Short: "Write every table of a datastore to <table>.jsonl files in dir",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := types.ParseDatastore(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				return db.ExportJSONL(ctx, ds, args[1])
			})
		},
	}

	return []*cobra.Command{commit, cp, clearCmd, clearInstance, dirty, imp, exp}
}
