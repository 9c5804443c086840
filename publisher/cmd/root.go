package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kivyx/ota/util"
)

var (
	logLevel string
	logFile  string

	rootCmd = &cobra.Command{
		Use:          "ota-publish",
		Short:        "Publishes signed over-the-air bundle releases",
		Long:         "Signs bundle archives into manifests and channel indexes and uploads them to a local directory or an S3 bucket.",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "sets log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", util.LogConsole, "sets log path. If console is specified the log will be output to stdout")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		util.SetFlagsFromEnvVars(rootCmd)
		util.SetFlagsFromEnvVars(cmd)
		return util.InitLog(logLevel, logFile)
	}

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

// withSignalCancel returns a context canceled on SIGINT or SIGTERM
func withSignalCancel(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
