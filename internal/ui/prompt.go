package ui

import (
	"context"
	"errors"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"golang.org/x/term"
)

type askFunc func(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error

// Prompter asks yes/no questions on the terminal.
type Prompter struct {
	ask askFunc
	// saveTerminal snapshots the terminal mode and returns a func that puts it back.
	saveTerminal func() func()
}

// NewPrompter returns a Prompter backed by survey.
func NewPrompter() *Prompter {
	return &Prompter{ask: survey.AskOne, saveTerminal: saveStdinMode}
}

func saveStdinMode() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	state, err := term.GetState(fd)
	if err != nil {
		return func() {}
	}
	return func() { _ = term.Restore(fd, state) }
}

// Confirm implements orchestrator.Prompter. An interrupt (Ctrl-C) counts as declining.
// The survey prompt keeps reading the terminal until answered, so a cancelled ctx
// puts the terminal back in the mode it had before the prompt and returns
// immediately, leaving the goroutine to finish on its own.
func (p *Prompter) Confirm(ctx context.Context, message string) (bool, error) {
	restore := func() {}
	if p.saveTerminal != nil {
		restore = p.saveTerminal()
	}

	type answer struct {
		ok  bool
		err error
	}
	done := make(chan answer, 1)

	go func() {
		ok := false
		err := p.ask(&survey.Confirm{Message: message, Default: true}, &ok)
		done <- answer{ok: ok, err: err}
	}()

	select {
	case <-ctx.Done():
		restore()
		return false, ctx.Err()
	case a := <-done:
		if errors.Is(a.err, terminal.InterruptErr) {
			return false, nil
		}
		if a.err != nil {
			return false, a.err
		}
		return a.ok, nil
	}
}
