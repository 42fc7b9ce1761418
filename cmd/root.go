// Package cmd wires the command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tierfetch",
	Short: "Tiered page fetcher with robots compliance and browser escalation",
	Long: `tierfetch fetches a list of URLs politely and cheaply. Each URL goes
through a robots.txt gate, then a plain HTTP fetch with retries; only when
that looks insufficient does it escalate to a shared headless browser, up to
a per-run budget.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default scrape_config.yaml if present)")
}
