package cmd

import (
	"github.com/spf13/cobra"
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "mark the current bundle healthy",
	Long:  "Writes the liveness marker of the current bundle. Run it once the updated app has started successfully.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, m, _, err := loadClient(cmd.Context())
		if err != nil {
			return err
		}

		if err := m.MarkHealthy(cmd.Context()); err != nil {
			return err
		}
		cmd.Printf("version %d confirmed\n", m.Status().CurrentVersionCode)
		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "commit or roll back a pending bundle",
	Long:  "Commits a pending bundle whose liveness marker exists and rolls back one that stayed unconfirmed past its timeout. Safe to run on every start.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, m, _, err := loadClient(cmd.Context())
		if err != nil {
			return err
		}

		outcome, err := m.Evaluate(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("%s, active version %d\n", outcome, m.Status().CurrentVersionCode)
		return nil
	},
}
