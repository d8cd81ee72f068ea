package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/peerlink/internal/domain"
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of events to show")
	historyCmd.Flags().BoolVar(&historyKnown, "known", false, "List every peer ever seen instead of events")
	rootCmd.AddCommand(historyCmd)
}

var (
	historyLimit int
	historyKnown bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the peer journal",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	if historyKnown {
		var resp struct {
			Peers []domain.KnownPeer `json:"peers"`
		}
		if err := c.get("/api/peers/known", &resp); err != nil {
			return err
		}
		return renderKnown(os.Stdout, resp.Peers)
	}

	var resp struct {
		Events []domain.PeerEvent `json:"events"`
	}
	if err := c.get(fmt.Sprintf("/api/peers/history?limit=%d", historyLimit), &resp); err != nil {
		return err
	}
	return renderHistory(os.Stdout, resp.Events)
}

func renderKnown(out io.Writer, peers []domain.KnownPeer) error {
	if len(peers) == 0 {
		fmt.Fprintln(out, "No peers seen yet.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tLAST PHASE\tLAST SEEN")
	for _, p := range peers {
		phase := "-"
		if p.HasPhase {
			phase = p.Phase.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Peer.DisplayName, p.Peer.ID, phase, formatAgo(p.LastSeen))
	}
	return w.Flush()
}

func renderHistory(out io.Writer, events []domain.PeerEvent) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No peer events recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tPEER\tEVENT\tPHASE")
	for _, ev := range events {
		phase := "-"
		if ev.Kind.ChangesPhase() {
			phase = ev.Phase.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.At.Local().Format("15:04:05"), ev.Peer, ev.Kind, phase)
	}
	return w.Flush()
}

func formatAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}
