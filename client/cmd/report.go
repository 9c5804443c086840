package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	eventType        string
	eventVersionCode int64
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "send a telemetry event, e.g. a crash of the current bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventType == "" {
			return errors.New("--event is required")
		}

		_, m, rep, err := loadClient(cmd.Context())
		if err != nil {
			return err
		}
		if rep == nil {
			return errors.New("no server configured, run ota-client init --server <url>")
		}

		vc := eventVersionCode
		if vc == 0 {
			vc = m.Status().CurrentVersionCode
		}
		if err := rep.Report(cmd.Context(), eventType, vc); err != nil {
			return err
		}
		cmd.Printf("reported %s for version %d\n", eventType, vc)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&eventType, "event", "", "event type, e.g. crash")
	reportCmd.Flags().Int64Var(&eventVersionCode, "version-code", 0, "version the event refers to (default current version)")
}
