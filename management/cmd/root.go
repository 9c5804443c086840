package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kivyx/ota/util"
)

const (
	// ExitSetupFailed defines exit code
	ExitSetupFailed = 1
)

var (
	mgmtDataDir string
	mgmtConfig  string
	logLevel    string
	logFile     string

	rootCmd = &cobra.Command{
		Use:          "ota-server",
		Short:        "Over-the-air update decision service",
		Long:         "Answers device eligibility queries, ingests telemetry and holds the release table of signed bundle updates.",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	mgmtCmd.Flags().IntVar(&mgmtPort, "port", defaultMgmtPort, "server port to listen on")
	mgmtCmd.Flags().StringVar(&mgmtDataDir, "datadir", defaultMgmtDataDir, "server data directory location")
	mgmtCmd.Flags().StringVar(&mgmtConfig, "config", defaultMgmtConfig, "config file location. Config params specified via command line (e.g. datadir) have a precedence over configuration from this file")
	mgmtCmd.Flags().IntVar(&mgmtMetricsPort, "metrics-port", defaultMetricsPort, "metrics endpoint http port. Metrics are accessible under host:metrics-port/metrics")
	mgmtCmd.Flags().StringVar(&cdnDir, "cdn-dir", "", "publish directory served under /cdn/. Empty disables the origin")
	mgmtCmd.Flags().StringVar(&storeEngine, "store-engine", "", "store engine: sqlite, postgres or mysql")
	mgmtCmd.Flags().Float64Var(&guardrailCrashPct, "guardrail-crash-pct", 0, "crash percentage at which a release is withheld from new devices")
	mgmtCmd.Flags().IntVar(&guardrailLookbackMin, "guardrail-lookback-min", 0, "trailing telemetry window in minutes")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", defaultLogFile, "sets log path. If console is specified the log will be output to stdout")
	rootCmd.AddCommand(mgmtCmd)
	rootCmd.AddCommand(versionCmd)
}

func waitForExitSignal() {
	osSigs := make(chan os.Signal, 1)
	signal.Notify(osSigs, syscall.SIGINT, syscall.SIGTERM)
	<-osSigs
}

func setFlagsFromEnvVars(cmd *cobra.Command) {
	util.SetFlagsFromEnvVars(rootCmd)
	util.SetFlagsFromEnvVars(cmd)
}
