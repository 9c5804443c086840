package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kivyx/ota/client/internal/updatemanager"
	"github.com/kivyx/ota/shared/management/status"
)

var noRetry bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "check for a newer bundle and stage it",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, m, _, err := loadClient(cmd.Context())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		res, err := checkWithRetry(ctx, m, !noRetry)
		if err != nil {
			return fmt.Errorf("update check failed (%s): %w", res.Reason, err)
		}

		if res.Updated {
			cmd.Printf("staged version %d in %s, restart the app and run ota-client confirm once it is healthy\n", res.VersionCode, res.Dir)
			return nil
		}
		cmd.Printf("no update: %s\n", res.Reason)
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&noRetry, "no-retry", false, "do not retry transport failures")
}

// checkWithRetry re-runs CheckAndApply from the top on transport failures. Integrity failures are final.
func checkWithRetry(ctx context.Context, m *updatemanager.Manager, retry bool) (updatemanager.Result, error) {
	var res updatemanager.Result
	operation := func() error {
		var err error
		res, err = m.CheckAndApply(ctx)
		if err == nil {
			return nil
		}
		if retry && status.IsType(err, status.Transport) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(CLIBackOffSettings, ctx), func(err error, duration time.Duration) {
		log.Warnf("retrying update check in %v due to error %v", duration, err)
	})

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return res, err
}
