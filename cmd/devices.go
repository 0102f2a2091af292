package cmd

import (
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/media"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/ui"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List cameras, microphones and speakers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.RenderDevices(media.Devices())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
