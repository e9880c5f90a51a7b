package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-machine/internal/app"
	"github.com/JakeFAU/seo-audit-machine/internal/audit"
	"github.com/JakeFAU/seo-audit-machine/internal/engine"
)

type auditFlags struct {
	siteID     string
	rootURL    string
	name       string
	sitemapURL string
}

func (f *auditFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.siteID, "site", "", "ID of an already registered site")
	cmd.Flags().StringVar(&f.rootURL, "root-url", "", "root URL of the site (registers it if new)")
	cmd.Flags().StringVar(&f.name, "name", "", "display name used when registering a new site")
	cmd.Flags().StringVar(&f.sitemapURL, "sitemap", "", "sitemap URL (default <root-url>/sitemap.xml)")
}

// resolveSite turns the --site / --root-url flags into a registered site.
// Registration is an upsert, so passing --root-url for a known site is safe.
func (f *auditFlags) resolveSite(ctx context.Context, store audit.Store) (audit.Site, error) {
	switch {
	case f.siteID != "":
		return store.GetSite(ctx, f.siteID)
	case f.rootURL != "":
		return store.RegisterSite(ctx, f.rootURL, f.name)
	default:
		return audit.Site{}, fmt.Errorf("either --site or --root-url is required")
	}
}

// newAuditCmd creates the 'audit' subcommand, which runs a full audit:
// sitemap resolution, crawl, search index inspection, and reconciliation.
func newAuditCmd() *cobra.Command {
	flags := &auditFlags{}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Runs a full audit for one site",
		Long: `Resolves the site's sitemaps, crawls the site, inspects every
discovered URL against the search index, and writes one audit record per
URL. Requires inspect.token to be configured; use 'crawl' for runs
without search index access.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd, flags, audit.ModeFull)
		},
	}
	flags.register(cmd)
	return cmd
}

func runAudit(cmd *cobra.Command, flags *auditFlags, mode audit.RunMode) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	site, err := flags.resolveSite(ctx, a.Store)
	if err != nil {
		return fmt.Errorf("resolve site: %w", err)
	}

	report, err := a.Engine.Run(ctx, engine.RunOptions{
		SiteID:     site.ID,
		Mode:       mode,
		SitemapURL: flags.sitemapURL,
	})
	if err != nil {
		return fmt.Errorf("run audit: %w", err)
	}
	return printReport(a, report)
}

func printReport(a *app.App, report engine.Report) error {
	a.Logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", string(report.Status)))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
