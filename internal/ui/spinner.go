package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking-free line spinner for the steps before the room
// view takes over the terminal.
type Spinner struct {
	frames   []string
	interval time.Duration
	done     chan struct{}

	mu      sync.Mutex
	message string
	stopped bool
}

func newSpinner(s spinner.Spinner, message string) *Spinner {
	return &Spinner{
		frames:   s.Frames,
		interval: s.FPS,
		message:  message,
		done:     make(chan struct{}),
	}
}

// NewConnectionSpinner spins while talking to the signaling server.
func NewConnectionSpinner(message string) *Spinner {
	return newSpinner(spinner.Globe, message)
}

// NewWaitingSpinner spins while waiting on other peers.
func NewWaitingSpinner(message string) *Spinner {
	return newSpinner(spinner.Points, message)
}

func (s *Spinner) Start() {
	go func() {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				return
			}
			fmt.Printf("\r%s %s", SpinnerStyle.Render(s.frames[i%len(s.frames)]), s.message)
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			case <-t.C:
			}
		}
	}()
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	fmt.Print("\r\033[K")
}

func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}
