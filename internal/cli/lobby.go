package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/peerlink/internal/daemon"
)

func init() {
	lobbyCmd.Flags().StringVar(&lobbyListen, "listen", "", "Address to listen on (overrides config)")
	rootCmd.AddCommand(lobbyCmd)
}

var lobbyListen string

var lobbyCmd = &cobra.Command{
	Use:   "lobby",
	Short: "Run the rendezvous hub peers discover each other through",
	RunE:  runLobby,
}

func runLobby(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	if lobbyListen != "" {
		cfg.Hub.Listen = lobbyListen
	}
	return daemon.ServeHub(context.Background(), cfg)
}
