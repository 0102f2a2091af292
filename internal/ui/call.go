package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/call"
	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/media"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Controller is the part of *call.Machine the call screen drives.
type Controller interface {
	StartCall(ctx context.Context) error
	AcceptIncomingCall(ctx context.Context) error
	RejectIncomingCall() error
	EndCall()
	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
}

// Mode picks which side of the call the screen starts on.
type Mode int

const (
	// ModeCall places the call as soon as the screen opens.
	ModeCall Mode = iota
	// ModeAnswer waits for an offer and lets the user accept it.
	ModeAnswer
)

// CallOptions configures the call screen.
type CallOptions struct {
	PatientID  string
	Mode       Mode
	AutoAnswer bool
}

type eventMsg call.Event

type eventsClosedMsg struct{}

type actionResultMsg struct {
	op  string
	err error
}

type tickMsg time.Time

// CallModel is the interactive call screen. It renders machine events and
// maps keys onto call commands.
type CallModel struct {
	ctx    context.Context
	ctrl   Controller
	events <-chan call.Event
	opts   CallOptions

	spinner spinner.Model

	state   call.State
	session call.Session

	// alert is a media error the user has to act on.
	alert   error
	lastErr error

	accepting bool
	ended     bool
	quitting  bool
}

// NewCallModel builds the screen. events is usually from Machine.Subscribe.
func NewCallModel(ctx context.Context, ctrl Controller, events <-chan call.Event, opts CallOptions) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		ctx:     ctx,
		ctrl:    ctrl,
		events:  events,
		opts:    opts,
		spinner: s,
	}
}

// RunCallScreen runs the screen inline until the call ends or the user
// quits, and returns the final model.
func RunCallScreen(m *CallModel) (*CallModel, error) {
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return m, err
	}
	return final.(*CallModel), nil
}

// Session is the last session seen, final values once the call ended.
func (m *CallModel) Session() call.Session { return m.session }

// Ended reports whether the screen saw the call end.
func (m *CallModel) Ended() bool { return m.ended }

// Alert is the media error raised during the call, if any.
func (m *CallModel) Alert() error { return m.alert }

// Err is the last command error that was not a media error.
func (m *CallModel) Err() error { return m.lastErr }

func (m *CallModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.listen(), tick()}
	if m.opts.Mode == ModeCall {
		cmds = append(cmds, m.run("start call", func() error { return m.ctrl.StartCall(m.ctx) }))
	}
	return tea.Batch(cmds...)
}

func (m *CallModel) listen() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// run executes a blocking call command off the UI goroutine.
func (m *CallModel) run(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{op: op, err: fn()}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		// Redraws the connected timer.
		if !m.quitting {
			cmds = append(cmds, tick())
		}

	case eventMsg:
		cmds = append(cmds, m.handleEvent(call.Event(msg)))
		if !m.quitting {
			cmds = append(cmds, m.listen())
		}

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case actionResultMsg:
		if msg.op == "accept call" {
			m.accepting = false
		}
		m.noteError(msg.err)
	}

	return m, tea.Batch(cmds...)
}

func (m *CallModel) handleKey(key string) tea.Cmd {
	switch key {
	case "a":
		return m.accept()

	case "r":
		if m.state == call.StateIncoming {
			return m.run("reject call", m.ctrl.RejectIncomingCall)
		}

	case "m":
		if _, err := m.ctrl.ToggleMute(); err != nil {
			m.noteError(err)
		}

	case "v":
		if _, err := m.ctrl.ToggleVideo(); err != nil {
			m.noteError(err)
		}

	case "h":
		if m.state.Active() {
			return m.run("end call", func() error { m.ctrl.EndCall(); return nil })
		}

	case "q", "ctrl+c":
		m.ctrl.EndCall()
		m.quitting = true
		return tea.Quit
	}
	return nil
}

func (m *CallModel) accept() tea.Cmd {
	if m.state != call.StateIncoming || m.accepting {
		return nil
	}
	m.accepting = true
	return m.run("accept call", func() error { return m.ctrl.AcceptIncomingCall(m.ctx) })
}

func (m *CallModel) handleEvent(ev call.Event) tea.Cmd {
	m.state = ev.State
	m.session = ev.Session
	if ev.Err != nil && call.IsMediaError(ev.Err) {
		m.alert = ev.Err
	}

	switch {
	case ev.State == call.StateIncoming && m.opts.AutoAnswer:
		return m.accept()

	case ev.State == call.StateEnded, ev.State == call.StateIdle && !ev.Session.EndedAt.IsZero():
		m.ended = true
		m.quitting = true
		return tea.Quit
	}
	return nil
}

func (m *CallModel) noteError(err error) {
	switch {
	case err == nil, errors.Is(err, call.ErrStaleCall):
	case call.IsMediaError(err):
		m.alert = err
	default:
		m.lastErr = err
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "\n%s %s\n\n", IconPatient, TitleStyle.Render("Patient "+m.opts.PatientID))
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.state == call.StateIncoming {
		b.WriteString(IncomingBoxStyle.Render(fmt.Sprintf("%s Incoming video call\n\n%s",
			IconIncoming, MutedStyle.Render("a accept · r reject"))))
		b.WriteString("\n\n")
	}

	if m.state.Active() && m.state != call.StateIncoming {
		b.WriteString(m.mediaLine())
		b.WriteString("\n")
	}

	if m.alert != nil {
		b.WriteString("\n" + AlertView(m.alert) + "\n")
	}
	if m.lastErr != nil {
		b.WriteString("\n" + FormatError(m.lastErr) + "\n")
	}

	b.WriteString(FooterStyle.Render(m.keyHelp()))
	return b.String()
}

func (m *CallModel) statusLine() string {
	banner := StatusStyle.Render(m.state.String())

	switch m.state {
	case call.StateIdle:
		if m.opts.Mode == ModeAnswer {
			return fmt.Sprintf("%s %s Waiting for a call...", banner, m.spinner.View())
		}
		return banner
	case call.StateCalling:
		return fmt.Sprintf("%s %s %s Calling...", banner, m.spinner.View(), IconCall)
	case call.StateAnswering:
		return fmt.Sprintf("%s %s %s Connecting...", banner, m.spinner.View(), IconConnect)
	case call.StateConnected:
		return fmt.Sprintf("%s %s %s", banner, IconTime, formatCallDuration(m.session.Duration()))
	}
	return banner
}

func (m *CallModel) mediaLine() string {
	local := "local: " + MutedStyle.Render("starting")
	if m.session.LocalMediaActive {
		local = "local: " + micIcon(!m.session.Muted) + " " + camIcon(!m.session.VideoOff)
	}

	remote := "remote: " + MutedStyle.Render("waiting")
	if m.session.RemoteMediaActive {
		remote = "remote: " + micIcon(m.session.RemoteAudio) + " " + camIcon(m.session.RemoteVideo)
	}
	return local + "   " + remote
}

func (m *CallModel) keyHelp() string {
	switch m.state {
	case call.StateIncoming:
		return "a accept · r reject · q quit"
	case call.StateCalling, call.StateAnswering, call.StateConnected:
		return "m mute · v video · h hang up · q quit"
	}
	return "q quit"
}

func micIcon(on bool) string {
	if on {
		return IconMic
	}
	return IconMicOff
}

func camIcon(on bool) string {
	if on {
		return IconCam
	}
	return IconCamOff
}

// AlertView renders a media error as the blocking alert the user sees.
func AlertView(err error) string {
	var hint string
	switch {
	case errors.Is(err, media.ErrMediaAccessDenied):
		hint = "Camera or microphone access was denied. Allow access and try again."
	case errors.Is(err, media.ErrMediaUnavailable):
		hint = "No camera or microphone could be opened. Check the devices and try again."
	default:
		hint = err.Error()
	}
	return ErrorBoxStyle.Render(fmt.Sprintf("%s %s\n\n%s", IconWarning, hint, MutedStyle.Render(err.Error())))
}

func formatCallDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	mins := int(d/time.Minute) % 60
	secs := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mins, secs)
	}
	return fmt.Sprintf("%02d:%02d", mins, secs)
}
