package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var jsonFlag bool

type statusOutput struct {
	DeviceID            string  `json:"deviceId"`
	Channel             string  `json:"channel"`
	CurrentVersionCode  int64   `json:"currentVersionCode"`
	LastGoodVersionCode int64   `json:"lastGoodVersionCode"`
	PendingVersionCode  int64   `json:"pendingVersionCode,omitempty"`
	ActiveDir           string  `json:"activeDir,omitempty"`
	FailedVersionCodes  []int64 `json:"failedVersionCodes,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show the update state of this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, m, _, err := loadClient(cmd.Context())
		if err != nil {
			return err
		}

		st := m.Status()
		out := statusOutput{
			DeviceID:            cfg.DeviceID,
			Channel:             cfg.Channel,
			CurrentVersionCode:  st.CurrentVersionCode,
			LastGoodVersionCode: st.LastGoodVersionCode,
			PendingVersionCode:  st.PendingVersionCode,
			ActiveDir:           m.ActiveDir(),
			FailedVersionCodes:  st.FailedVersionCodes,
		}

		if jsonFlag {
			bs, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal status: %w", err)
			}
			cmd.Println(string(bs))
			return nil
		}

		cmd.Printf("Device: %s\nChannel: %s\nCurrent version: %d\nLast good version: %d\n",
			out.DeviceID, out.Channel, out.CurrentVersionCode, out.LastGoodVersionCode)
		if st.IsPending() {
			cmd.Printf("Pending confirmation since %s (timeout %s)\n", st.AppliedAt.Format("2006-01-02 15:04:05 MST"), st.PendingTimeout())
		}
		if out.ActiveDir != "" {
			cmd.Printf("Active bundle: %s\n", out.ActiveDir)
		}
		if len(out.FailedVersionCodes) > 0 {
			cmd.Printf("Rolled back versions: %v\n", out.FailedVersionCodes)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&jsonFlag, "json", false, "display status in JSON format")
}
