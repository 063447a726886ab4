package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rancher/backport/internal/commit"
	gh "github.com/rancher/backport/internal/github"
)

// publish opens the pull request for head against targetBranch, reusing an open one
// for the same head. Labels and assignees are applied afterwards; their failures are
// reported but never undo the pull request.
func (o *Orchestrator) publish(ctx context.Context, head, targetBranch string, commits []commit.Commit) (commit.TargetPullRequest, error) {
	step := o.progress.Start("Creating pull request")

	input := gh.CreatePROptions{
		Title:               PullRequestTitle(o.cfg.titleTemplate(), targetBranch, commits),
		Body:                PullRequestBody(o.cfg.PRDescription, targetBranch, commits),
		Head:                head,
		Base:                targetBranch,
		MaintainerCanModify: true,
	}

	pr, err := o.gh.CreatePullRequest(ctx, o.cfg.RepoOwner, o.cfg.RepoName, input)
	if errors.Is(err, gh.ErrPullRequestExists) {
		existing, found, findErr := o.gh.FindPullRequest(ctx, o.cfg.RepoOwner, o.cfg.RepoName, head, targetBranch)
		if findErr != nil {
			err = fmt.Errorf("%w (lookup failed: %v)", err, findErr)
		} else if found {
			o.log.Info("reusing existing pull request", "head", head, "base", targetBranch, "number", existing.Number)
			pr, err = existing, nil
		}
	}
	if err != nil {
		return pr, finish(step, fmt.Errorf("create pull request: %w", err))
	}
	step.Succeed()

	if len(o.cfg.TargetPRLabels) > 0 {
		step := o.progress.Start("Adding labels: " + strings.Join(o.cfg.TargetPRLabels, ", "))
		if err := finish(step, o.gh.AddLabels(ctx, o.cfg.RepoOwner, o.cfg.RepoName, pr.Number, o.cfg.TargetPRLabels)); err != nil {
			o.log.Warn("failed to add labels to backport pull request", "number", pr.Number, "labels", o.cfg.TargetPRLabels, "error", err)
		}
	}

	if len(o.cfg.Assignees) > 0 {
		step := o.progress.Start("Adding assignees: " + strings.Join(o.cfg.Assignees, ", "))
		if err := finish(step, o.gh.AddAssignees(ctx, o.cfg.RepoOwner, o.cfg.RepoName, pr.Number, o.cfg.Assignees)); err != nil {
			o.log.Warn("failed to add assignees to backport pull request", "number", pr.Number, "assignees", o.cfg.Assignees, "error", err)
		}
	}

	return pr, nil
}
