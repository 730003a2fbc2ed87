// Package cli implements the mender command-line interface: config loading,
// the composition root that wires the store, snapshot, executor and task
// registry, and one command per entry point.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mender/internal/paths"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// errTasksFailed is returned when every task ran but at least one did not
// complete cleanly.
var errTasksFailed = errors.New("one or more tasks failed")

// exitError carries the process exit code of a command failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// exitCode maps a command error to a process exit code. Errors not
// classified by a command, such as cobra's argument errors, are user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// annotation that lets a command run without loading config.yaml.
const skipConfig = "mender/skip-config"

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// state is shared by the commands of one invocation.
type state struct {
	flags  rootFlags
	cfg    types.Config
	logger *slog.Logger
	stderr io.Writer
}

// NewRootCmd creates the top-level "mender" command with global flags and
// all subcommands registered.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	s := &state{stderr: stderr}
	root := &cobra.Command{
		Use:   "mender",
		Short: "Repair referential integrity in an entity data store",
		Long: `mender runs idempotent repair checks against an entity data store:
orphaned registry, acl, edge, id and property rows are removed and rows
that depend on deleted entities are tombstoned. It also runs one-time
schema upgrades through the same harness.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: s.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&s.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&s.flags.dataDir, "data-dir", "", "data directory holding the default sqlite store")
	pf.BoolVar(&s.flags.jsonMode, "json", false, "output in JSON format")
	pf.String("dialect", types.DialectSQLite, "store dialect (postgres or sqlite)")
	pf.String("dsn", "", "store connection string or sqlite file")
	pf.Int("max-conns", types.DefaultMaxConns, "connection pool size")
	pf.Int("workers", types.DefaultWorkers, "concurrent fan-out units")
	pf.Int("task-parallelism", types.DefaultTaskParallelism, "concurrent tasks")
	pf.Int("batch-size", types.DefaultBatchSize, "rows cleared per tombstone batch")
	pf.Duration("timeout", 0, "deadline for the whole run (0 for none)")
	pf.String("log-format", "text", "log format (text or json)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("metrics-file", "", "write prometheus metrics to this textfile")
	pf.String("report-file", "", "write the run report to this JSON file")

	root.AddCommand(newCheckCmd(s))
	root.AddCommand(newUpgradeCmd(s))
	root.AddCommand(newListCmd(s))
	root.AddCommand(newInitCmd(s))
	root.AddCommand(newVersionCmd())
	return root
}

// setup resolves the config directory, loads config.yaml and builds the
// logger.
func (s *state) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] != "" {
		return nil
	}
	configDir, err := paths.ResolveConfigDir(s.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	v, err := newViper(cmd.Flags())
	if err != nil {
		return sysError(err)
	}
	if err := loadConfig(v, configDir); err != nil {
		return sysError(err)
	}
	cfg, err := decodeConfig(v, s.flags.dataDir)
	if err != nil {
		return userError(fmt.Errorf("config: %w", err))
	}
	logger, err := newLogger(s.stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return userError(fmt.Errorf("config: %w", err))
	}
	s.cfg = cfg
	s.logger = logger
	return nil
}

// runContext applies the configured run deadline.
func (s *state) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// Run executes mender with args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

// Execute runs the root command against the process arguments and exits
// with the appropriate code. SIGINT and SIGTERM cancel the run.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
