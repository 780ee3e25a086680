package main

import (
	"fmt"

	"github.com/Resinat/vpncore/internal/buildinfo"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vpncore %s (commit %s, built %s)\n",
				buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
		},
	}
}
