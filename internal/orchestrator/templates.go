package orchestrator

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/rancher/backport/internal/commit"
)

// renderTemplate substitutes {name} placeholders. Unknown placeholders are kept
// verbatim and a template that does not parse is returned unchanged.
func renderTemplate(tpl string, values map[string]string) string {
	t, err := fasttemplate.NewTemplate(tpl, "{", "}")
	if err != nil {
		return tpl
	}
	return t.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		if v, ok := values[tag]; ok {
			return io.WriteString(w, v)
		}
		return io.WriteString(w, "{"+tag+"}")
	})
}

func templateValues(targetBranch, sourceBranch string, commits []commit.Commit) map[string]string {
	messages := make([]string, 0, len(commits))
	for _, c := range commits {
		messages = append(messages, c.FirstLine())
	}
	return map[string]string{
		"targetBranch":   targetBranch,
		"sourceBranch":   sourceBranch,
		"commitMessages": strings.Join(messages, " | "),
	}
}

// PullRequestTitle renders the title template for a backport of commits to targetBranch.
func PullRequestTitle(tpl, targetBranch string, commits []commit.Commit) string {
	if tpl == "" {
		tpl = DefaultTitleTemplate
	}
	return renderTemplate(tpl, templateValues(targetBranch, sourceBranchOf(commits), commits))
}

// PullRequestBody lists the backported commits followed by the rendered description.
func PullRequestBody(description, targetBranch string, commits []commit.Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backports the following commits to %s:\n", targetBranch)

	lines := make([]string, 0, len(commits))
	for _, c := range commits {
		if c.PullNumber != 0 {
			lines = append(lines, fmt.Sprintf(" - #%d", c.PullNumber))
			continue
		}
		lines = append(lines, fmt.Sprintf(" - %s (%s)", c.FirstLine(), c.SHA))
	}
	b.WriteString(strings.Join(lines, "\n"))

	if description != "" {
		b.WriteString("\n\n")
		b.WriteString(renderTemplate(description, templateValues(targetBranch, sourceBranchOf(commits), commits)))
	}
	return b.String()
}

func sourceBranchOf(commits []commit.Commit) string {
	for _, c := range commits {
		if c.SourceBranch != "" {
			return c.SourceBranch
		}
	}
	return ""
}
