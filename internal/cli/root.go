// Package cli implements the ctrdb command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/ctrdb/internal/log"
	"github.com/mesh-intelligence/ctrdb/internal/metrics"
	"github.com/mesh-intelligence/ctrdb/internal/paths"
	"github.com/mesh-intelligence/ctrdb/pkg/configdb"
	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	sessionID uint32
	configID  uint32
	metrics   bool
}

var flags rootFlags

// cfg is the configuration loaded by the root command's pre-run hook.
var cfg *viper.Viper

// errUsage marks errors caused by bad arguments rather than the datastore.
var errUsage = errors.New("usage")

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// NewRootCmd creates the top-level "ctrdb" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	root := &cobra.Command{
		Use:   "ctrdb",
		Short: "Controller configuration datastore",
		Long: "ctrdb stages controller configuration in a candidate datastore,\n" +
			"commits it to running and keeps startup, state and import snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(flags.configDir)
			if err != nil {
				return err
			}
			v, err := loadConfig(configDir)
			if err != nil {
				return err
			}
			cfg = v
			log.Init(log.Config{
				Level:      log.ParseLevel(v.GetString(cfgKeyLogLevel)),
				JSONOutput: v.GetBool(cfgKeyLogJSON),
				Output:     cmd.ErrOrStderr(),
			})
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !flags.metrics {
				return nil
			}
			return metrics.Dump(cmd.ErrOrStderr(), prometheus.DefaultGatherer)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "data directory for the default sqlite database (default: $(CWD)/.ctrdb-db)")
	pf.Uint32Var(&flags.sessionID, "session", 2, "session id issuing the request")
	pf.Uint32Var(&flags.configID, "config-id", 0, "configuration id; non-zero puts the session in config mode")
	pf.BoolVar(&flags.metrics, "metrics", false, "dump metrics in text exposition format to stderr on exit")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newRowCmds()...)
	root.AddCommand(newDatabaseCmds()...)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ctrdb:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// exitCode maps an error to the process exit status: bad input and missing
// rows are the user's to fix, everything else is a system failure.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, errUsage) {
		return exitUserError
	}
	switch types.CodeOf(err) {
	case types.RowExists, types.RowNotExists, types.ParameterBindError,
		types.QuerySynthesisError, types.UnknownTable, types.RecordNotFound,
		types.NoMoreRecords, types.InvalidOperationForDatastore, types.PrimaryKeyViolation:
		return exitUserError
	}
	return exitSysError
}

func session() types.Session {
	return types.Session{ID: flags.sessionID, ConfigID: flags.configID}
}

// engineConfig builds the engine configuration from the loaded config.
// Without a configured DSN the sqlite database lives in the data directory.
func engineConfig() (types.Config, error) {
	c := types.Config{
		Driver:       cfg.GetString(cfgKeyDriver),
		DSN:          cfg.GetString(cfgKeyDSN),
		ReadOnlyDSN:  cfg.GetString(cfgKeyReadOnlyDSN),
		ConnTimeout:  cfg.GetDuration(cfgKeyConnTimeout),
		MaxReadConns: cfg.GetInt(cfgKeyMaxReadConns),
	}
	if c.DSN == "" && c.Driver == types.DriverSQLite {
		dataDir, err := paths.ResolveDataDir(flags.dataDir, cfg.GetString(cfgKeyDataDir))
		if err != nil {
			return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		if c.DSN, err = paths.SQLiteDSN(dataDir); err != nil {
			return types.Config{}, err
		}
	}
	return c, nil
}

// withEngine attaches an engine for the duration of fn.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, db types.ConfigDB, out io.Writer) error) error {
	c, err := engineConfig()
	if err != nil {
		return err
	}
	db := configdb.New()
	if err := db.Attach(c); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	err = fn(cmd.Context(), db, cmd.OutOrStdout())
	return errors.Join(err, db.Detach())
}
