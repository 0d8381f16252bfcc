package cli

import (
	"github.com/spf13/cobra"

	"github.com/Emerchan23/sisvendas1-sub000/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tool configuration",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		Long: `Resolve configuration from defaults, any existing config file, the
environment and flags, and write the result back to the config file
($SISVENDAS_CONFIG or ~/.config/sisvendas/config.toml) so it can be edited.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(rootOpts, cmd)
		},
	}
}

func runConfigInit(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.DBPath != "" {
		cfg.Database.Path = opts.DBPath
	}
	if err := config.Save(cfg); err != nil {
		return err
	}

	if formatter.JSON() {
		return formatter.PrintJSON(cfg)
	}
	formatter.Printf("configuration written (database %s, backups %s)\n",
		cfg.Database.Path, cfg.Backup.Dir)
	return nil
}
