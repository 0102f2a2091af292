package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// LineSpinner animates a single status line while a blocking step, such as
// the relay connect, runs outside the call screen.
type LineSpinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration

	message string

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConnectionSpinner uses the Globe frames, for network steps.
func NewConnectionSpinner(message string) *LineSpinner {
	return newLineSpinner(message, spinner.Globe, 180*time.Millisecond)
}

func newLineSpinner(message string, s spinner.Spinner, interval time.Duration) *LineSpinner {
	return &LineSpinner{
		out:      os.Stdout,
		spinner:  s,
		interval: interval,
		message:  message,
		done:     make(chan struct{}),
	}
}

// Start draws the first frame before returning, then animates until Stop.
func (s *LineSpinner) Start() {
	s.render(0)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for i := 1; ; i++ {
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
			s.render(i)
		}
	}()
}

func (s *LineSpinner) render(i int) {
	frames := s.spinner.Frames
	fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)
}

// Stop clears the line. Safe to call more than once.
func (s *LineSpinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *LineSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *LineSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}
