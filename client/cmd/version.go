package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kivyx/ota/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "prints the client version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SetOut(cmd.OutOrStdout())
		cmd.Println(version.OTAVersion())
	},
}
