package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/call"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/config"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/media"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/peer"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signaling"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signalqueue"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/ui"
	"github.com/pion/webrtc/v4"
)

var errRelayLost = errors.New("relay connection lost")

// CallContext is everything one call screen needs: the relay client feeding
// the queue, the processor draining it into the machine, and the machine.
type CallContext struct {
	PatientID string
	Config    *config.Config
	Queue     *signalqueue.Queue
	Client    *signaling.Client
	Machine   *call.Machine
	Processor *signalqueue.Processor

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCallContext connects to the patient's relay room and starts routing
// signals. The call itself is not started.
func NewCallContext(ctx context.Context, patientID string, f *callFlags) (*CallContext, error) {
	cfg, err := config.Load(f.options())
	if err != nil {
		return nil, call.NewError("load config", err)
	}

	src, err := media.NewSource(f.media)
	if err != nil {
		return nil, err
	}

	queue := signalqueue.New()
	client := signaling.NewClient(cfg.RelayURL(patientID), queue, signaling.ReconnectPolicy{
		MaxAttempts:  cfg.RelayMaxRetries,
		InitialDelay: cfg.RelayInitialDelay,
		MaxDelay:     cfg.RelayMaxDelay,
	})

	sp := ui.NewConnectionSpinner("Connecting to relay...")
	sp.Start()
	if err := client.Connect(ctx); err != nil {
		sp.Error("Relay unreachable")
		return nil, call.NewError("connect to relay", err)
	}
	sp.Success(fmt.Sprintf("Joined patient %s", patientID))

	if cfg.ICETransportPolicy() == webrtc.ICETransportPolicyRelay && !cfg.ForceRelay {
		ui.PrintWarning("VPN or CGNAT detected, media will go through the TURN server")
	}

	factory := call.PeerFactory(peer.Config{
		ICEServers:         cfg.ICEServers(),
		ICETransportPolicy: cfg.ICETransportPolicy(),
		Constraints:        media.DefaultConstraints,
	}, peer.WithMediaSource(src))

	machine := call.NewMachine(client, factory, call.WithBye(!f.noBye))
	processor := signalqueue.NewProcessor(queue, machine)

	runCtx, cancel := context.WithCancel(ctx)
	cc := &CallContext{
		PatientID: patientID,
		Config:    cfg,
		Queue:     queue,
		Client:    client,
		Machine:   machine,
		Processor: processor,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(cc.done)
		if err := processor.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("signal processor stopped", "error", err)
		}
	}()

	slog.Info("joined patient relay", "patient_id", patientID, "relay_policy", cfg.ICETransportPolicy().String())
	return cc, nil
}

// Events forwards machine events to the call screen. The channel closes
// when ctx ends, or when the relay is gone and no call is in progress,
// since nothing can arrive any more.
func (cc *CallContext) Events(ctx context.Context) <-chan call.Event {
	src, unsubscribe := cc.Machine.Subscribe()
	out := make(chan call.Event, 32)

	go func() {
		defer close(out)
		defer unsubscribe()

		relayDone := cc.Client.Done()
		for {
			select {
			case <-ctx.Done():
				return

			case <-relayDone:
				if !cc.Machine.State().Active() {
					return
				}
				relayDone = nil

			case ev := <-src:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if relayDone == nil && !ev.State.Active() {
					return
				}
			}
		}
	}()
	return out
}

// Close hangs up without a bye and disconnects from the relay.
func (cc *CallContext) Close() {
	cc.Machine.Close()
	cc.cancel()
	<-cc.done
	cc.Client.Close()
}

// RunCall runs the interactive call screen for mode, then prints the
// outcome.
func RunCall(ctx context.Context, cc *CallContext, mode ui.Mode, autoAnswer bool) error {
	screenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := ui.NewCallModel(screenCtx, cc.Machine, cc.Events(screenCtx), ui.CallOptions{
		PatientID:  cc.PatientID,
		Mode:       mode,
		AutoAnswer: autoAnswer,
	})

	final, err := ui.RunCallScreen(model)
	if err != nil {
		return fmt.Errorf("call screen: %w", err)
	}

	if alert := final.Alert(); alert != nil {
		fmt.Println(ui.AlertView(alert))
	}

	if final.Ended() {
		fmt.Println()
		ui.RenderSummary(final.Session())
		if s := final.Session(); !s.ConnectedAt.IsZero() {
			ui.PrintSuccessf("Call with patient %s finished", cc.PatientID)
		}
		return nil
	}

	select {
	case <-cc.Client.Done():
		return call.NewError("wait for call", errRelayLost)
	default:
	}
	if err := final.Err(); err != nil {
		return err
	}
	return nil
}
