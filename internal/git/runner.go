package git

import (
	"context"
	"fmt"
	"strings"
)

// Output is what a successful command printed.
type Output struct {
	Stdout string
	Stderr string
}

// Runner executes typed git commands against one working tree. A working tree is
// a single-writer resource: callers must not share a Runner between concurrent runs.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecError is returned when a git process exits unsuccessfully.
type ExecError struct {
	Cmd      string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Cmd, e.Err)
	if out := strings.TrimSpace(e.Stdout); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	if errOut := strings.TrimSpace(e.Stderr); errOut != "" {
		b.WriteString("\n")
		b.WriteString(errOut)
	}
	return b.String()
}

func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
