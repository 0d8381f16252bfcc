package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Emerchan23/sisvendas1-sub000/internal/service"
)

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Repair settlement divergences where an unambiguous fix exists",
		Long: `Scan for divergences and repair them by replaying engine operations.
Repairs are idempotent; cases the auditor cannot resolve unambiguously are
reported for manual review instead of guessed at.

Exits non-zero when divergences remain after repair.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(rootOpts, cmd)
		},
	}
}

func runRepair(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	a, closer, err := opts.open()
	if err != nil {
		return err
	}
	defer closer()

	// repairs contend with the live application for the write lock
	policy := service.RetryPolicy{
		MaxAttempts:     a.cfg.Retry.MaxAttempts,
		InitialInterval: a.cfg.Retry.InitialInterval,
	}
	var report service.Report
	err = service.Retry(cmd.Context(), policy, func() error {
		report, err = a.auditor.Repair(cmd.Context())
		return err
	})
	if err != nil {
		return err
	}
	formatter.Verbosef("repair pass touched %d row(s)\n", report.Changes)

	// the post-repair scan is what the exit code reflects
	after, err := a.auditor.Scan(cmd.Context())
	if err != nil {
		return err
	}
	after.Changes = report.Changes
	if err := printReport(formatter, after); err != nil {
		return err
	}
	if after.HasDivergence() {
		return fmt.Errorf("%d divergence(s) remain after repair", len(after.Findings))
	}
	return nil
}
