package main

import (
	"github.com/spf13/cobra"

	"github.com/orizon-lang/classrt/internal/cli"
)

func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PrintVersion(cmd.OutOrStdout(), "classinfo", jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output version information in JSON format")
	return cmd
}
