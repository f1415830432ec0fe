package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const fetchSpinnerDelay = 150 * time.Millisecond

func newSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return s
}

// progress is a one-line spinner for slow non-interactive commands. It
// only appears after a delay so fast operations print nothing.
type progress struct {
	out     io.Writer
	message string
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
}

// startProgress draws on stderr when it is a terminal; otherwise the
// returned progress is inert.
func startProgress(message string, delay time.Duration) *progress {
	fd := os.Stderr.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return nil
	}
	p := &progress{
		out:     os.Stderr,
		message: message,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go p.run(max(delay, 0))
	return p
}

func (p *progress) run(delay time.Duration) {
	defer close(p.exited)
	select {
	case <-p.done:
		return
	case <-time.After(delay):
	}

	s := newSpinner()
	ticker := time.NewTicker(s.Spinner.FPS)
	defer ticker.Stop()
	for frame := 0; ; frame++ {
		glyph := s.Spinner.Frames[frame%len(s.Spinner.Frames)]
		fmt.Fprintf(p.out, "\r%s %s", s.Style.Render(glyph), p.message)
		select {
		case <-p.done:
			fmt.Fprint(p.out, "\r\033[2K")
			return
		case <-ticker.C:
		}
	}
}

// Stop clears the line. Safe on a nil progress and safe to call twice.
func (p *progress) Stop() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.done)
		<-p.exited
	})
}
