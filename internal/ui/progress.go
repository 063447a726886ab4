package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/rancher/backport/internal/orchestrator"
)

// Progress prints one line when a step starts and one when it finishes. Styling is
// only applied when the output is a terminal.
type Progress struct {
	mu     sync.Mutex
	out    io.Writer
	styled bool
}

// NewProgress writes step transitions to out.
func NewProgress(out io.Writer, styled bool) *Progress {
	return &Progress{out: out, styled: styled}
}

// Start implements orchestrator.Progress.
func (p *Progress) Start(label string) orchestrator.Step {
	p.printf("%s %s\n", p.render(runningStyle.Render, iconRunning), label)
	return &step{progress: p, label: label}
}

func (p *Progress) render(style func(...string) string, s string) string {
	if !p.styled {
		return s
	}
	return style(s)
}

func (p *Progress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format, args...)
}

type step struct {
	progress *Progress
	label    string
	once     sync.Once
}

func (s *step) Succeed() {
	s.once.Do(func() {
		s.progress.printf("%s %s\n", s.progress.render(succeededStyle.Render, iconSucceeded), s.label)
	})
}

func (s *step) Fail(err error) {
	s.once.Do(func() {
		icon := s.progress.render(failedStyle.Render, iconFailed)
		if err == nil {
			s.progress.printf("%s %s\n", icon, s.label)
			return
		}
		s.progress.printf("%s %s %s\n", icon, s.label, s.progress.render(detailStyle.Render, "("+err.Error()+")"))
	})
}
