package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newDiffCmd creates the 'diff' subcommand, which compares the per-URL
// outcomes of two sealed runs.
func newDiffCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "diff <run-a> <run-b>",
		Short: "Compares the records of two sealed runs",
		Long: `Prints, per URL, whether it was added, removed, or changed between
run A and run B. A URL counts as changed when its index verdict or its
discrepancy flag set differs. Both runs must be sealed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			deltas, err := a.Store.Diff(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("diff runs: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(deltas)
			}
			if len(deltas) == 0 {
				fmt.Println("no differences")
				return nil
			}
			for _, d := range deltas {
				switch d.Kind {
				case "added":
					fmt.Printf("+ %s  %s %v\n", d.URL, d.AfterVerdict, d.AfterFlags)
				case "removed":
					fmt.Printf("- %s  %s %v\n", d.URL, d.BeforeVerdict, d.BeforeFlags)
				default:
					fmt.Printf("~ %s  %s %v -> %s %v\n",
						d.URL, d.BeforeVerdict, d.BeforeFlags, d.AfterVerdict, d.AfterFlags)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print deltas as JSON")
	return cmd
}
