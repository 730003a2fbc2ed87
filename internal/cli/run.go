package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mender/internal/driver"
	"github.com/mesh-intelligence/mender/internal/report"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// runFunc runs one batch of tasks on the driver.
type runFunc func(ctx context.Context, d *driver.Driver) (map[string]bool, error)

// runTasks opens the store, runs the batch, writes the report and prints
// one line per task. Resolution errors are user errors; a task that did
// not complete cleanly makes the command exit with exitSysError.
func (s *state) runTasks(cmd *cobra.Command, kind types.Kind, bootstrap bool, run runFunc) error {
	ctx, cancel := s.runContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, s.cfg, s.logger, bootstrap)
	if err != nil {
		return sysError(err)
	}
	defer a.Close()

	started := time.Now()
	results, err := run(ctx, a.driver)
	if err != nil {
		return userError(err)
	}
	r := a.finish(ctx, kind, started)

	if err := s.printResults(cmd.OutOrStdout(), results, r); err != nil {
		return sysError(err)
	}
	for _, ok := range results {
		if !ok {
			return sysError(errTasksFailed)
		}
	}
	return nil
}

func (s *state) printResults(w io.Writer, results map[string]bool, r report.Report) error {
	if s.flags.jsonMode {
		b, err := r.Marshal()
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status := "ok"
		if !results[name] {
			status = "FAILED"
		}
		if _, err := fmt.Fprintf(w, "%-16s %s\n", name, status); err != nil {
			return err
		}
	}
	return nil
}

func newCheckCmd(s *state) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "check [name...]",
		Short: "Run repair checks",
		Long: `Run the named repair checks, or every check with --all. Unknown names
fail the whole request before anything runs.`,
		Example: `  mender check --all
  mender check entitysets edges
  mender check linking --batch-size 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runTasks(cmd, types.KindCheck, false, func(ctx context.Context, d *driver.Driver) (map[string]bool, error) {
				return d.RunChecks(ctx, args, all)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every check")
	return cmd
}

func newUpgradeCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade name...",
		Short: "Run one-time schema upgrades",
		Long: `Run the named schema upgrades. The fixed tables are created first when
missing, so create_tables can bootstrap an empty store.`,
		Example: `  mender upgrade create_tables edge_indexes data_indexes`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runTasks(cmd, types.KindUpgrade, true, func(ctx context.Context, d *driver.Driver) (map[string]bool, error) {
				return d.RunUpgrades(ctx, args)
			})
		},
	}
}

func newListCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the known checks and upgrades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := newRegistry(nil)
			if err != nil {
				return sysError(err)
			}
			listing := map[types.Kind][]string{
				types.KindCheck:   reg.Names(types.KindCheck),
				types.KindUpgrade: reg.Names(types.KindUpgrade),
			}
			w := cmd.OutOrStdout()
			if s.flags.jsonMode {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			}
			for _, kind := range []types.Kind{types.KindCheck, types.KindUpgrade} {
				fmt.Fprintf(w, "%ss:\n", kind)
				for _, name := range listing[kind] {
					fmt.Fprintf(w, "  %s\n", name)
				}
			}
			return nil
		},
	}
}
