package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/mender/internal/paths"
)

func newInitCmd(s *state) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write config.yaml from the current flags and environment",
		Long: `Create the configuration directory and write config.yaml holding the
effective configuration (defaults, MENDER_ environment variables and
flags). An existing config.yaml is kept unless --force is given.`,
		Example:     `  mender init --dialect postgres --dsn "postgres://mender@db/entities" --workers 16`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, err := paths.ResolveConfigDir(s.flags.configDir)
			if err != nil {
				return sysError(fmt.Errorf("resolve config dir: %w", err))
			}
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return sysError(fmt.Errorf("create config directory: %w", err))
			}
			path := filepath.Join(configDir, paths.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return userError(fmt.Errorf("%s already exists (use --force to overwrite)", path))
			}

			v, err := newViper(cmd.Flags())
			if err != nil {
				return sysError(err)
			}
			cfg, err := decodeConfig(v, s.flags.dataDir)
			if err != nil {
				return userError(fmt.Errorf("config: %w", err))
			}
			if err := writeConfigFile(path, cfg); err != nil {
				return sysError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config.yaml")
	return cmd
}
