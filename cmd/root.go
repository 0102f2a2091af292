package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/ui"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nursecall",
	Short: "Patient and caretaker video calls over the monitoring relay",
	Long: `nursecall places and answers WebRTC video calls between a patient's
bedside device and a caretaker. Both sides join the monitoring backend's
WebSocket relay for the same patient; offers, answers and ICE candidates
travel through it while media flows peer to peer.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
