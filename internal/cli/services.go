package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop advertising and browsing, and leave every session",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := c.post("/api/services/stop", nil, nil); err != nil {
			return err
		}
		fmt.Println("Services stopped. Peer lists cleared.")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Advertise and browse again",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Running bool   `json:"running"`
			Warning string `json:"warning"`
		}
		if err := c.post("/api/services/start", nil, &resp); err != nil {
			return err
		}
		fmt.Println("Services started.")
		if resp.Warning != "" {
			fmt.Printf("Warning: %s\n", resp.Warning)
		}
		return nil
	},
}
