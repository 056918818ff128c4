package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/zoobzio/linkz"
	"github.com/zoobzio/linkz/config"
)

func newConvertCmd(reg *linkz.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Convert a configuration file between JSON and YAML",
		Long: `Build the link described by SRC and write its configuration tree to DST.
Formats follow the file extensions. Building the link validates the tree and
fills in every default.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			link, err := config.LoadLink(reg, args[0])
			if err != nil {
				return err
			}
			if err := config.SaveLink(args[1], link); err != nil {
				return err
			}
			slog.Info("converted configuration", "from", args[0], "to", args[1])
			return nil
		},
	}
}
