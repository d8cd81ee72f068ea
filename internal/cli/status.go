package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/peerlink/internal/api"
	"github.com/tutu-network/peerlink/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local peer, service state and health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		var st api.StatusResponse
		if err := c.get("/api/status", &st); err != nil {
			return err
		}

		state := "running"
		if !st.Running {
			state = "paused"
		}
		fmt.Printf("Peer:     %s (%s)\n", st.Local.DisplayName, st.Local.ID)
		fmt.Printf("Services: %s\n", state)
		for _, phase := range domain.Phases() {
			fmt.Printf("  %-14s %d\n", phase.String()+":", st.Counts[phase.Token()])
		}
		for _, chk := range st.Checks {
			mark := "ok"
			if !chk.Healthy {
				mark = "FAIL " + chk.Error
			}
			fmt.Printf("Check %-8s %s\n", chk.Name, mark)
		}
		return nil
	},
}
