// Package cmd defines and implements the CLI commands for the catcrawl
// executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catcrawl",
		Short: "Catalog crawler and product ingester",
		Long: `catcrawl walks a retail site's sitemap or paginated listing, fetches
every product page (rendering script-heavy ones in headless Chrome when
needed), extracts the product's structured data, downloads its images,
and upserts everything into an embedded SQLite catalog.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./catcrawl.yaml, /etc/catcrawl, $HOME/.catcrawl)")

	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point. Cobra prints the error itself; the
// exit code is all that is left to set.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
