package cmd

import (
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/config"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/media"
	"github.com/spf13/cobra"
)

// callFlags are shared by call and answer.
type callFlags struct {
	server   string
	token    string
	stun     []string
	turn     string
	turnUser string
	turnPass string
	relay    bool
	media    string
	noBye    bool
	yes      bool
}

func (f *callFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "Relay base URL (env NURSECALL_SERVER)")
	cmd.Flags().StringVar(&f.token, "token", "", "Relay access token (env NURSECALL_TOKEN)")
	cmd.Flags().StringArrayVarP(&f.stun, "stun", "s", nil, "STUN server, repeatable (env STUN_SERVERS)")
	cmd.Flags().StringVarP(&f.turn, "turn", "t", "", "TURN server (env TURN_SERVER)")
	cmd.Flags().StringVar(&f.turnUser, "turn-user", "", "TURN username")
	cmd.Flags().StringVar(&f.turnPass, "turn-pass", "", "TURN password")
	cmd.Flags().BoolVarP(&f.relay, "relay", "r", false, "Force relay mode")
	cmd.Flags().StringVar(&f.media, "media", media.SourceDevice, "Media source: device or synthetic")
	cmd.Flags().BoolVar(&f.noBye, "no-bye", false, "Do not tell the peer when hanging up")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Accept incoming calls without asking")
}

func (f *callFlags) options() config.Options {
	return config.Options{
		Server:      f.server,
		Token:       f.token,
		STUNServers: f.stun,
		TURNServer:  f.turn,
		TURNUser:    f.turnUser,
		TURNPass:    f.turnPass,
		ForceRelay:  f.relay,
	}
}
