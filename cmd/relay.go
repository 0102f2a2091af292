package cmd

import (
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/relay"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/ui"
	"github.com/spf13/cobra"
)

var flagRelayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a development signaling relay",
	Long: `Run a local stand-in for the monitoring backend's WebSocket endpoint.
Clients join /ws/<patient-id>; every frame is forwarded to the other
members of the same patient room. Tokens are not checked. Prometheus
metrics are served on /metrics.

Examples:
  nursecall relay
  nursecall relay --addr :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.PrintInfof("Relay listening on %s", flagRelayAddr)
		return relay.ListenAndServe(cmd.Context(), flagRelayAddr)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&flagRelayAddr, "addr", ":8080", "Listen address")
}
