// Command linkz builds table pipelines from configuration files and runs
// them over CSV data.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zoobzio/linkz"
	"github.com/zoobzio/linkz/links"
	"github.com/zoobzio/linkz/logging"
)

func main() {
	// Load .env file if it exists; variables already set win.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	if err := linkz.Init(links.Register); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd(linkz.Default()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(reg *linkz.Registry) *cobra.Command {
	var logLevel, logFormat string

	rootCmd := &cobra.Command{
		Use:   "linkz",
		Short: "Composable table pipelines from configuration files",
		Long: `linkz builds a pipeline of table links from a JSON or YAML configuration
tree and runs it over CSV data.

Rows that fail a row-wise computation are kept and marked in the __error__
column instead of aborting the run; they can be split into a separate file.`,
		Version:       linkz.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logging.Setup(logLevel, logFormat)
		},
	}
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LINKZ_LOG_LEVEL", "info"),
		"log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envOr("LINKZ_LOG_FORMAT", "text"),
		"log format: text, json")

	rootCmd.AddCommand(newRunCmd(reg))
	rootCmd.AddCommand(newToolboxCmd(reg))
	rootCmd.AddCommand(newConvertCmd(reg))
	return rootCmd
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}
