package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send PEER_ID MESSAGE...",
	Short: "Send a message to a connected peer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		msg := strings.Join(args[1:], " ")
		var resp struct {
			Bytes int `json:"bytes"`
		}
		path := "/api/peers/" + url.PathEscape(args[0]) + "/messages"
		if err := c.post(path, strings.NewReader(msg), &resp); err != nil {
			return err
		}
		fmt.Printf("Sent %d bytes to %s\n", resp.Bytes, args[0])
		return nil
	},
}
