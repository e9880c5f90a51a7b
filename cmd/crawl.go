package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs a crawl-only
// audit: sitemap plus crawl reconciliation with no search index calls.
func newCrawlCmd() *cobra.Command {
	flags := &auditFlags{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a crawl-only audit for one site",
		Long: `Resolves the site's sitemaps and crawls the site, then writes one
audit record per URL covering sitemap and crawl membership only. No
search index inspections are performed, so no inspect token is needed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd, flags, audit.ModeCrawlOnly)
		},
	}
	flags.register(cmd)
	return cmd
}
