package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/zoobzio/linkz"
	"github.com/zoobzio/linkz/config"
	"github.com/zoobzio/linkz/internal/csvio"
)

type runOptions struct {
	in        string
	out       string
	errorFile string
	sep       string
}

func newRunCmd(reg *linkz.Registry) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Run a pipeline over a CSV file",
		Long: `Build the link described by CONFIG and apply it to a table.

The input table is read from --in, or is empty when the pipeline reads its own
input. The result is written to --out ("-" for standard output). With
--error-file, rows marked with an error are written there and left out of the
main output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, reg, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.in, "in", "", "input CSV file")
	cmd.Flags().StringVar(&opts.out, "out", "", `output CSV file, "-" for stdout`)
	cmd.Flags().StringVar(&opts.errorFile, "error-file", "", "CSV file receiving rows with errors")
	cmd.Flags().StringVar(&opts.sep, "sep", ",", "CSV field separator")
	return cmd
}

func runPipeline(cmd *cobra.Command, reg *linkz.Registry, configPath string, opts runOptions) error {
	if len([]rune(opts.sep)) != 1 {
		return fmt.Errorf("--sep must be a single character, got %q", opts.sep)
	}
	csvOpts := csvio.Options{Delimiter: []rune(opts.sep)[0]}

	link, err := config.LoadLink(reg, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := linkz.Close(link); err != nil {
			slog.Warn("closing pipeline", "error", err)
		}
	}()

	input := linkz.New()
	if opts.in != "" {
		if input, err = csvio.ReadFile(opts.in, csvOpts); err != nil {
			return err
		}
	}
	slog.Info("running pipeline", "config", configPath, "link", link.Kind().String(), "rows", input.Len())

	result, err := linkz.Run(cmd.Context(), link, input)
	if err != nil {
		return err
	}

	errored := linkz.ErrorCount(result)
	if opts.errorFile != "" {
		var failed *linkz.Table
		result, failed = linkz.SplitErrors(result)
		if err := csvio.WriteFile(opts.errorFile, failed, csvOpts); err != nil {
			return err
		}
	}

	switch opts.out {
	case "":
	case "-":
		if err := csvio.Write(cmd.OutOrStdout(), result, csvOpts); err != nil {
			return err
		}
	default:
		if err := csvio.WriteFile(opts.out, result, csvOpts); err != nil {
			return err
		}
	}
	slog.Info("pipeline done", "rows", result.Len(), "errors", errored)
	return nil
}
