package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kivyx/ota/client/internal/config"
	"github.com/kivyx/ota/client/internal/reporter"
	"github.com/kivyx/ota/client/internal/updatemanager"
	"github.com/kivyx/ota/util"
)

var (
	configPath string
	logLevel   string
	logFile    string
	rootCmd    = &cobra.Command{
		Use:          "ota-client",
		Short:        "Device side over-the-air bundle updates",
		Long:         "Checks the signed channel index for a newer bundle, stages it, and confirms or rolls it back.",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "update client config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", util.LogConsole, "sets log path. If console is specified the log will be output to stdout")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		util.SetFlagsFromEnvVars(rootCmd)
		util.SetFlagsFromEnvVars(cmd)
		return util.InitLog(logLevel, logFile)
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

// SetupCloseHandler cancels the context on SIGINT or SIGTERM
func SetupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(termCh)
		select {
		case <-ctx.Done():
		case <-termCh:
			log.Info("shutdown signal received")
			cancel()
		}
	}()
}

// CLIBackOffSettings is default backoff settings for CLI commands.
var CLIBackOffSettings = &backoff.ExponentialBackOff{
	InitialInterval:     time.Second,
	RandomizationFactor: backoff.DefaultRandomizationFactor,
	Multiplier:          backoff.DefaultMultiplier,
	MaxInterval:         10 * time.Second,
	MaxElapsedTime:      30 * time.Second,
	Stop:                backoff.Stop,
	Clock:               backoff.SystemClock,
}

// loadClient reads the config and builds the update manager and, when a server is configured, the reporter
func loadClient(ctx context.Context) (*config.Config, *updatemanager.Manager, *reporter.Reporter, error) {
	cfg, err := config.ReadConfig(ctx, configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w\nrun ota-client init first", err)
	}

	mc, err := cfg.ManagerConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	var (
		opts []updatemanager.Option
		rep  *reporter.Reporter
	)
	if cfg.ServerURL != "" {
		rep = reporter.New(cfg.ServerURL, cfg.ReporterIdentity(), nil)
		opts = append(opts, updatemanager.WithReporter(rep))
	}

	m, err := updatemanager.NewManager(cfg.DataDir, mc, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, m, rep, nil
}
