package cmd

import (
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/ui"
	"github.com/spf13/cobra"
)

var callOpts callFlags

var callCmd = &cobra.Command{
	Use:     "call <patient-id>",
	Aliases: []string{"c"},
	Short:   "Start a video call in a patient's room",
	Long: `Join the patient's relay room and place a video call. The other side
answers with "nursecall answer" or from the web app.

Examples:
  nursecall call 7f3c2a
  nursecall call --server wss://monitor.example.com --token $TOKEN 7f3c2a
  nursecall call --media synthetic --relay --turn turn:turn.example.com:3478 7f3c2a`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := NewCallContext(cmd.Context(), args[0], &callOpts)
		if err != nil {
			return err
		}
		defer cc.Close()

		return RunCall(cmd.Context(), cc, ui.ModeCall, false)
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
	callOpts.register(callCmd)
}
