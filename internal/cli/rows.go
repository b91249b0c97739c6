package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// rowArgs is the parsed <datastore> <table> [json] argument triple shared by
// the row commands.
type rowArgs struct {
	ds     types.DatastoreID
	table  types.TableID
	schema *types.TableSchema
}

func parseRowArgs(args []string) (rowArgs, error) {
	var ra rowArgs
	var err error
	if ra.ds, err = types.ParseDatastore(args[0]); err != nil {
		return ra, err
	}
	if ra.table, err = types.ParseTable(args[1]); err != nil {
		return ra, err
	}
	if len(args) < 3 {
		ra.schema = types.NewTableSchema(ra.table)
		return ra, nil
	}
	row, err := parseRow(ra.table, args[2])
	if err != nil {
		return ra, err
	}
	ra.schema = types.NewTableSchema(ra.table, row)
	return ra, nil
}

// parseRow decodes a JSON object of column values for table.
func parseRow(table types.TableID, data string) (types.RowSchema, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return types.RowSchema{}, usagef("invalid row JSON: %v", err)
	}
	return types.RowFromMap(table, m)
}

// parseOps parses a comma-separated operator list such as "=,>".
func parseOps(s string) ([]types.Operator, error) {
	if s == "" {
		return nil, nil
	}
	var ops []types.Operator
	for _, f := range strings.Split(s, ",") {
		op, err := types.ParseOperator(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printRows(out io.Writer, rows types.RowSet) error {
	list := make([]map[string]any, len(rows))
	for i, r := range rows {
		list[i] = r.Map()
	}
	return printJSON(out, list)
}

// rowCmd builds a command taking <datastore> <table> <json>.
func rowCmd(use, short string, run func(ctx context.Context, db types.ConfigDB, out io.Writer, ra rowArgs) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <datastore> <table> <json>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ra, err := parseRowArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				return run(ctx, db, out, ra)
			})
		},
	}
}

func newRowCmds() []*cobra.Command {
	create := rowCmd("create", "Create one row", func(ctx context.Context, db types.ConfigDB, out io.Writer, ra rowArgs) error {
		return db.CreateOneRow(ctx, session(), ra.ds, ra.schema)
	})

	var internal bool
	update := rowCmd("update", "Update the non-key columns of one row", func(ctx context.Context, db types.ConfigDB, out io.Writer, ra rowArgs) error {
		return db.UpdateOneRow(ctx, session(), ra.ds, ra.schema, internal)
	})
	update.Flags().BoolVar(&internal, "internal", false, "system update that leaves the row status untouched")

	del := rowCmd("delete", "Delete one row (soft delete in candidate)", func(ctx context.Context, db types.ConfigDB, out io.Writer, ra rowArgs) error {
		return db.DeleteOneRow(ctx, session(), ra.ds, ra.schema)
	})

	clearRow := rowCmd("clear-row", "Physically remove one row", func(ctx context.Context, db types.ConfigDB, out io.Writer, ra rowArgs) error {
		return db.ClearOneRow(ctx, session(), ra.ds, ra.schema)
	})

	get := rowCmd("get", "Print one row by primary key", func(ctx context.Context, db types.ConfigDB, out io.Writer, ra rowArgs) error {
		row, err := db.GetOneRow(ctx, session(), ra.ds, ra.schema)
		if err != nil {
			return err
		}
		return printJSON(out, row.Map())
	})

	exists := rowCmd("exists", "Report whether a row exists and its candidate status", func(ctx context.Context, db types.ConfigDB, out io.Writer, ra rowArgs) error {
		ok, st, err := db.IsRowExists(ctx, session(), ra.ds, ra.schema)
		if err != nil {
			return err
		}
		res := map[string]any{"exists": ok}
		if st != types.StatusNone {
			res["status"] = st.String()
		}
		return printJSON(out, res)
	})

	return []*cobra.Command{create, update, del, clearRow, get, exists,
		newListCmd(), newSiblingsCmd(), newCountCmd(), newModifiedCmd()}
}

func newListCmd() *cobra.Command {
	var after string
	var limit int
	cmd := &cobra.Command{
		Use:   "list <datastore> <table>",
		Short: "Print one page of rows in sort order",
		Long: `List prints up to --limit rows of a table. With --after it continues
after the given primary key, so paging passes the last row's key back in.

Example:
  ctrdb list candidate ctr_domain --after '{"controller_name":"ctrl-1","domain_name":"d1"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if after != "" {
				args = append(args, after)
			}
			ra, err := parseRowArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				rows, err := db.GetBulkRows(ctx, session(), ra.ds, ra.schema, limit)
				if err != nil {
					return err
				}
				return printRows(out, rows)
			})
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "JSON primary key to continue after")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to print")
	return cmd
}

func newSiblingsCmd() *cobra.Command {
	var ops string
	var limit int
	var begin bool
	cmd := &cobra.Command{
		Use:   "siblings <datastore> <table> <json>",
		Short: "Print rows matching one comparison per primary-key column",
		Long: `Siblings compares each primary-key column of the given row using --ops
(default "=" for parent keys and ">" for the last key). With --begin only
the parent keys are matched.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ra, err := parseRowArgs(args)
			if err != nil {
				return err
			}
			operators, err := parseOps(ops)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				var rows types.RowSet
				if begin {
					rows, err = db.GetSiblingBegin(ctx, session(), ra.ds, ra.schema, limit)
				} else {
					rows, err = db.GetSiblingRows(ctx, session(), ra.ds, ra.schema, limit, operators)
				}
				if err != nil {
					return err
				}
				return printRows(out, rows)
			})
		},
	}
	cmd.Flags().StringVar(&ops, "ops", "", `comma-separated operators, e.g. "=,>="`)
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to print")
	cmd.Flags().BoolVar(&begin, "begin", false, "match the parent keys only")
	return cmd
}

func newCountCmd() *cobra.Command {
	var ops string
	cmd := &cobra.Command{
		Use:   "count <datastore> <table> [json]",
		Short: "Count the visible rows of a table, or the siblings of a row",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ra, err := parseRowArgs(args)
			if err != nil {
				return err
			}
			operators, err := parseOps(ops)
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				var n int
				if len(args) == 3 {
					n, err = db.GetSiblingCount(ctx, session(), ra.ds, ra.schema, operators)
				} else {
					n, err = db.GetRowCount(ctx, session(), ra.ds, ra.table)
				}
				if err != nil {
					return err
				}
				return printJSON(out, map[string]int{"count": n})
			})
		},
	}
	cmd.Flags().StringVar(&ops, "ops", "", "comma-separated operators for a sibling count")
	return cmd
}

func newModifiedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modified <table> <status>",
		Short: "Print the candidate rows in one status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := types.ParseTable(args[0])
			if err != nil {
				return err
			}
			st, err := types.ParseRowStatus(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, db types.ConfigDB, out io.Writer) error {
				rows, err := db.GetModifiedRows(ctx, session(), types.Candidate, types.NewTableSchema(table), st)
				if err != nil {
					return err
				}
				return printRows(out, rows)
			})
		},
	}
}
