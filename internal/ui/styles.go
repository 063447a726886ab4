// Package ui renders operator-facing progress and prompts for interactive backports.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const (
	iconRunning   = "•"
	iconSucceeded = "✔"
	iconFailed    = "✖"
)

var (
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	succeededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// IsTTY reports whether stdin and stdout are both attached to a terminal.
func IsTTY() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stdout)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
