package app

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/rancher/backport/internal/github"
	"github.com/rancher/backport/internal/orchestrator"
)

// summaryCommentMarker identifies the status comment so reruns update it in place.
const summaryCommentMarker = "<!-- rancher-backport-summary -->"

func (r *Runner) upsertSummaryComment(ctx context.Context, client gh.Client, owner, repo string, number int, result orchestrator.Result) error {
	body := buildSummaryCommentBody(result)

	comments, err := client.ListPullRequestComments(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}

	for _, c := range comments {
		if !strings.Contains(c.Body, summaryCommentMarker) {
			continue
		}
		if c.Body == body {
			return nil
		}
		if err := client.UpdateComment(ctx, owner, repo, c.ID, body); err != nil {
			return fmt.Errorf("update comment %d: %w", c.ID, err)
		}
		return nil
	}

	if err := client.CommentOnPullRequest(ctx, owner, repo, number, body); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

func buildSummaryCommentBody(result orchestrator.Result) string {
	var builder strings.Builder
	builder.WriteString(summaryCommentMarker)
	builder.WriteString("\n### Backport summary\n\n")
	builder.WriteString(renderResultDetails(result))
	return builder.String()
}
