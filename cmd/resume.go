package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newResumeCmd creates the 'resume' subcommand, which reopens a PARTIAL
// full-mode run and inspects only the URLs its first attempt never reached.
func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resumes a PARTIAL full-mode run",
		Long: `Reopens a run that sealed PARTIAL (quota exhaustion, truncation, or
cancellation) and inspects the URLs still missing an inspection result.
The site is not re-crawled; URL membership from the original run is
reused. COMPLETED and FAILED runs cannot be resumed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := a.Engine.Resume(ctx, args[0])
			if err != nil {
				return fmt.Errorf("resume run: %w", err)
			}
			return printReport(a, report)
		},
	}
	return cmd
}
