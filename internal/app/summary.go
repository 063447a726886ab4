package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rancher/backport/internal/orchestrator"
)

func writeStepSummary(result orchestrator.Result) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_STEP_SUMMARY"))
	if path == "" {
		return nil
	}

	var builder strings.Builder
	builder.WriteString("## Backport summary\n\n")
	builder.WriteString(renderResultDetails(result))

	return appendToFile(path, "step summary", func(w io.Writer) error {
		_, err := io.WriteString(w, builder.String())
		return err
	})
}

func writeGitHubOutputs(result orchestrator.Result) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}

	created := make([]outputCreatedPR, 0)
	skipped := make([]outputSkippedTarget, 0)

	for _, target := range result.Targets {
		if target.PullRequest != nil && (target.Status == orchestrator.TargetStatusSucceeded || target.Status == orchestrator.TargetStatusDryRun) {
			created = append(created, outputCreatedPR{
				Branch: target.Branch,
				Number: target.PullRequest.Number,
				URL:    target.PullRequest.URL,
				DryRun: target.Status == orchestrator.TargetStatusDryRun,
			})
			continue
		}
		skipped = append(skipped, outputSkippedTarget{
			Branch: target.Branch,
			Status: string(target.Status),
			Reason: target.Reason,
		})
	}

	createdJSON, err := json.Marshal(created)
	if err != nil {
		return fmt.Errorf("marshal created_prs: %w", err)
	}

	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return fmt.Errorf("marshal skipped_targets: %w", err)
	}

	return appendToFile(path, "github output", func(w io.Writer) error {
		if err := writeMultilineOutput(w, "created_prs", string(createdJSON)); err != nil {
			return err
		}
		if err := writeMultilineOutput(w, "skipped_targets", string(skippedJSON)); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "failed=%t\n", result.Failed())
		return err
	})
}

func appendToFile(path, what string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s directory: %w", what, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", what, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", what, closeErr)
		}
	}()

	if err := write(file); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

func renderResultDetails(result orchestrator.Result) string {
	var builder strings.Builder

	if len(result.Commits) > 0 {
		builder.WriteString("Commits:\n")
		for _, c := range result.Commits {
			builder.WriteString(fmt.Sprintf("- %s %s\n", c.ShortSHA(), sanitizeMarkdownCell(c.FirstLine())))
		}
		builder.WriteString("\n")
	}

	if len(result.Targets) == 0 {
		builder.WriteString("No backport targets were evaluated.\n")
		return builder.String()
	}

	builder.WriteString("| Branch | Status | Details | PR |\n")
	builder.WriteString("| --- | --- | --- | --- |\n")
	for _, target := range result.Targets {
		details := target.Reason
		if details == "" {
			details = "-"
		}

		builder.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			sanitizeMarkdownCell(target.Branch),
			sanitizeMarkdownCell(string(target.Status)),
			sanitizeMarkdownCell(details),
			sanitizeMarkdownCell(pullRequestCell(target)),
		))
	}

	return builder.String()
}

func pullRequestCell(target orchestrator.TargetResult) string {
	switch {
	case target.PullRequest != nil && target.PullRequest.Number > 0:
		if target.PullRequest.URL != "" {
			return fmt.Sprintf("[PR #%d](%s)", target.PullRequest.Number, target.PullRequest.URL)
		}
		return fmt.Sprintf("PR #%d", target.PullRequest.Number)
	case target.ExistingPR != nil && target.ExistingPR.URL != "":
		return fmt.Sprintf("[Existing #%d](%s)", target.ExistingPR.Number, target.ExistingPR.URL)
	}
	return "-"
}

type outputCreatedPR struct {
	Branch string `json:"branch"`
	Number int    `json:"number"`
	URL    string `json:"url"`
	DryRun bool   `json:"dry_run,omitempty"`
}

type outputSkippedTarget struct {
	Branch string `json:"branch"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func writeMultilineOutput(w io.Writer, key, value string) error {
	if _, err := fmt.Fprintf(w, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
		return fmt.Errorf("write output %s: %w", key, err)
	}
	return nil
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}
