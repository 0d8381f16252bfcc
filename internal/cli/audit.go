package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Emerchan23/sisvendas1-sub000/internal/service"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Scan for settlement divergences without changing anything",
		Long: `Scan the ledger and settlement store for consistency divergences:
dangling members, orphan pointers, pointer/status disagreements, duplicate
claims and malformed legacy membership payloads.

Exits non-zero when any divergence is found, for use in scheduled checks.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, cmd)
		},
	}
}

func runAudit(opts *RootOptions, cmd *cobra.Command) error {
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

	report, err := a.auditor.Scan(cmd.Context())
	if err != nil {
		return err
	}

	if err := printReport(formatter, report); err != nil {
		return err
	}
	if report.HasDivergence() {
		return fmt.Errorf("found %d divergence(s)", len(report.Findings))
	}
	return nil
}

func printReport(f *OutputFormatter, report service.Report) error {
	if f.JSON() {
		return f.PrintJSON(report)
	}

	f.Printf("scanned %d lines, %d batches\n", report.ScannedLines, report.ScannedBatches)
	if !report.HasDivergence() {
		f.Printf("no divergences found\n")
		return nil
	}
	for kind, n := range report.Counts() {
		f.Printf("%-22s %d\n", kind, n)
	}
	for _, finding := range report.Findings {
		f.Printf("- [%s] batch=%s line=%s: %s\n",
			finding.Kind, orDash(finding.BatchID), orDash(finding.LineID), finding.Detail)
		if finding.Suggestion != "" {
			f.Printf("  closest known line id: %s\n", finding.Suggestion)
		}
	}
	if report.Changes > 0 {
		f.Printf("%d row(s) repaired\n", report.Changes)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
