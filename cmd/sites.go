package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSitesCmd creates the 'sites' command group for managing registered
// sites.
func newSitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Manages registered sites",
	}
	cmd.AddCommand(newSitesRegisterCmd())
	cmd.AddCommand(newSitesListCmd())
	return cmd
}

func newSitesRegisterCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register <root-url>",
		Short: "Registers a site for auditing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			site, err := a.Store.RegisterSite(cmd.Context(), args[0], name)
			if err != nil {
				return fmt.Errorf("register site: %w", err)
			}
			fmt.Printf("%s  %s\n", site.ID, site.RootURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the site")
	return cmd
}

func newSitesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists registered sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sites, err := a.Store.ListSites(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sites: %w", err)
			}
			for _, s := range sites {
				fmt.Printf("%s  %s  %s\n", s.ID, s.RootURL, s.DisplayName)
			}
			return nil
		},
	}
}
