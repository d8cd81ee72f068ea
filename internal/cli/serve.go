package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/peerlink/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveName, "name", "", "Display name to advertise (overrides config)")
	serveCmd.Flags().StringVar(&serveLobby, "lobby", "", "Lobby WebSocket URL (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "API host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "API port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveName  string
	serveLobby string
	serveHost  string
	servePort  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Join the lobby and keep sessions with nearby peers",
	Long: `Join the lobby, advertise this peer and browse for others. Discovered
peers are invited automatically; the local API listens at 127.0.0.1:7451.

SIGUSR1 pauses advertising and browsing, SIGUSR2 resumes them.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveName != "" {
		cfg.Node.DisplayName = serveName
	}
	if serveLobby != "" {
		cfg.Lobby.URL = serveLobby
	}
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}

	ctx := context.Background()
	d, err := daemon.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(ctx)
}
