package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/peerlink/internal/domain"
)

func init() {
	peersCmd.Flags().BoolVar(&peersJSON, "json", false, "Print the raw snapshot as JSON")
	rootCmd.AddCommand(peersCmd)
}

var peersJSON bool

var peersCmd = &cobra.Command{
	Use:     "peers",
	Aliases: []string{"ls"},
	Short:   "Show peers grouped by connection phase",
	RunE:    runPeers,
}

func runPeers(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	var snap domain.Snapshot
	if err := c.get("/api/peers", &snap); err != nil {
		return err
	}

	if peersJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return renderPeers(os.Stdout, snap)
}

// renderPeers prints one section per phase in raw-value order.
func renderPeers(out io.Writer, snap domain.Snapshot) error {
	fmt.Fprintf(out, "MCSession: %s", snap.Local)
	if !snap.Running {
		fmt.Fprint(out, " (paused)")
	}
	fmt.Fprintln(out)

	for _, phase := range domain.Phases() {
		fmt.Fprintf(out, "\n%s\n", phase)
		peers := snap.Peers(phase)
		if len(peers) == 0 {
			fmt.Fprintln(out, "  None")
			continue
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tID")
		for _, p := range peers {
			fmt.Fprintf(w, "  %s\t%s\n", p.DisplayName, p.ID)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
