package cmd

import (
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/ui"
	"github.com/spf13/cobra"
)

var answerOpts callFlags

var answerCmd = &cobra.Command{
	Use:     "answer <patient-id>",
	Aliases: []string{"a"},
	Short:   "Wait for a video call in a patient's room",
	Long: `Join the patient's relay room and wait for an incoming call. Press a to
accept or r to reject, or pass --yes to accept automatically.

Examples:
  nursecall answer 7f3c2a
  nursecall answer --yes --media synthetic 7f3c2a`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := NewCallContext(cmd.Context(), args[0], &answerOpts)
		if err != nil {
			return err
		}
		defer cc.Close()

		return RunCall(cmd.Context(), cc, ui.ModeAnswer, answerOpts.yes)
	},
}

func init() {
	rootCmd.AddCommand(answerCmd)
	answerOpts.register(answerCmd)
}
