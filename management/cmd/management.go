package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kivyx/ota/management/server"
	"github.com/kivyx/ota/management/server/guardrail"
	httpapi "github.com/kivyx/ota/management/server/http"
	"github.com/kivyx/ota/management/server/store"
	"github.com/kivyx/ota/management/server/telemetry"
	"github.com/kivyx/ota/util"
	"github.com/kivyx/ota/version"
)

const shutdownTimeout = 30 * time.Second

var (
	mgmtPort             int
	mgmtMetricsPort      int
	cdnDir               string
	storeEngine          string
	guardrailCrashPct    float64
	guardrailLookbackMin int

	mgmtCmd = &cobra.Command{
		Use:   "management",
		Short: "start the update decision service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			setFlagsFromEnvVars(cmd)
			return util.InitLog(logLevel, logFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			config, err := loadMgmtConfig(ctx, mgmtConfig, cmd.Flags())
			if err != nil {
				return fmt.Errorf("failed reading provided config file: %s: %v", mgmtConfig, err)
			}

			if _, err := os.Stat(config.Datadir); os.IsNotExist(err) {
				if err := os.MkdirAll(config.Datadir, 0o755); err != nil {
					return fmt.Errorf("failed creating datadir: %s: %v", config.Datadir, err)
				}
			}

			return runManagement(ctx, config)
		},
	}
)

// loadMgmtConfig reads the config file and lets flags explicitly set in flags take precedence
func loadMgmtConfig(ctx context.Context, path string, flags *pflag.FlagSet) (*server.Config, error) {
	config, err := server.LoadConfig(path, mgmtDataDir)
	if err != nil {
		return nil, err
	}

	if flags.Changed("datadir") {
		config.Datadir = mgmtDataDir
	}
	if flags.Changed("cdn-dir") {
		config.CDNDir = cdnDir
	}
	if flags.Changed("store-engine") {
		config.StoreConfig.Engine = store.Engine(storeEngine)
	}
	if flags.Changed("guardrail-crash-pct") {
		config.Guardrail.CrashThresholdPct = guardrailCrashPct
	}
	if flags.Changed("guardrail-lookback-min") {
		config.Guardrail.LookbackMinutes = guardrailLookbackMin
	}
	if flags.Changed("port") || config.HttpConfig.Address == "" {
		config.HttpConfig.Address = fmt.Sprintf(":%d", mgmtPort)
	}

	log.WithContext(ctx).Debugf("using datadir %s, store engine %q, guardrail %v%% over %d min",
		config.Datadir, config.StoreConfig.Engine, config.Guardrail.CrashThresholdPct, config.Guardrail.LookbackMinutes)
	return config, nil
}

func runManagement(ctx context.Context, config *server.Config) error {
	appMetrics, err := telemetry.NewDefaultAppMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed creating app metrics: %v", err)
	}
	if err := appMetrics.Expose(ctx, mgmtMetricsPort, "/metrics"); err != nil {
		return fmt.Errorf("failed exposing app metrics: %v", err)
	}

	s, err := store.NewStore(ctx, config.StoreConfig.Engine, config.Datadir, appMetrics)
	if err != nil {
		_ = appMetrics.Close()
		return fmt.Errorf("failed creating store: %s: %v", config.Datadir, err)
	}

	evaluator := guardrail.NewEvaluator(s, config.Guardrail.CrashThresholdPct, config.Guardrail.Lookback(), appMetrics)
	updateManager := server.NewUpdateManager(s, evaluator, appMetrics)

	handler, err := httpapi.APIHandler(updateManager, appMetrics, config.CDNDir)
	if err != nil {
		_ = s.Close(ctx)
		_ = appMetrics.Close()
		return fmt.Errorf("failed creating HTTP API handler: %v", err)
	}

	listener, err := net.Listen("tcp", config.HttpConfig.Address)
	if err != nil {
		_ = s.Close(ctx)
		_ = appMetrics.Close()
		return fmt.Errorf("failed to listen on %s: %v", config.HttpConfig.Address, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to serve HTTP API: %v", err)
		}
	}()

	log.WithContext(ctx).Infof("update decision service %s listening on %s", version.OTAVersion(), listener.Addr().String())
	if config.CDNDir != "" {
		log.WithContext(ctx).Infof("serving %s under %s", config.CDNDir, httpapi.CDNPathPrefix)
	}

	waitForExitSignal()
	log.WithContext(ctx).Info("shutdown signal received, stopping update decision service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = shutdown(shutdownCtx, srv, s, appMetrics)
	wg.Wait()
	return err
}

func shutdown(ctx context.Context, srv *http.Server, s store.Store, appMetrics telemetry.AppMetrics) error {
	var errs error

	if err := srv.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close HTTP server: %w", err))
	}
	if err := s.Close(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if err := appMetrics.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close metrics server: %w", err))
	}

	return errs
}
