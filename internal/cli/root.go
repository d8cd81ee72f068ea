// Package cli implements the peerlink command-line interface using Cobra.
// `serve` and `lobby` run long-lived processes; the other commands talk to
// a running daemon over its local HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "peerlink",
	Short: "peerlink: discover nearby peers and keep sessions with them",
	Long: `peerlink advertises this machine under a display name, browses for
other peers of the same service type and connects to them automatically.

Run 'peerlink lobby' once on the network, then 'peerlink serve' on each peer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "Daemon API address host:port (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
