package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rancher/backport/internal/commit"
	gh "github.com/rancher/backport/internal/github"
)

// TargetStatus describes the outcome for a target branch.
type TargetStatus string

const (
	TargetStatusDryRun            TargetStatus = "dry_run"
	TargetStatusSucceeded         TargetStatus = "succeeded"
	TargetStatusFailed            TargetStatus = "failed"
	TargetStatusSkippedNoBranch   TargetStatus = "skipped_missing_branch"
	TargetStatusSkippedBackported TargetStatus = "skipped_already_backported"
	TargetStatusSkippedExistingPR TargetStatus = "skipped_existing_pr"
)

// TargetResult captures per-target outcomes.
type TargetResult struct {
	Branch      string
	Status      TargetStatus
	Reason      string
	PullRequest *commit.TargetPullRequest
	// ExistingPR is the open backport that caused a skip.
	ExistingPR *commit.ExpectedTargetPullRequest
}

// Result captures the outcome of a single run over all target branches.
type Result struct {
	Commits []commit.Commit
	Targets []TargetResult
}

// Failed reports whether any target failed.
func (r Result) Failed() bool {
	for _, t := range r.Targets {
		if t.Status == TargetStatusFailed {
			return true
		}
	}
	return false
}

// Run backports commits to each target branch in turn. Targets that are already
// covered are skipped; a failing target does not stop the others, but cancellation
// of ctx fails every remaining target.
func (o *Orchestrator) Run(ctx context.Context, commits []commit.Commit, targetBranches []string) (Result, error) {
	if len(commits) == 0 {
		return Result{}, errors.New("no commits to backport")
	}
	if o.gh == nil {
		return Result{}, errors.New("github client is required")
	}

	result := Result{Commits: commits, Targets: make([]TargetResult, 0, len(targetBranches))}
	for _, branch := range targetBranches {
		if err := ctx.Err(); err != nil {
			result.Targets = append(result.Targets, TargetResult{Branch: branch, Status: TargetStatusFailed, Reason: err.Error()})
			continue
		}

		target, err := o.evaluateTarget(ctx, commits, branch)
		if err != nil {
			result.Targets = append(result.Targets, TargetResult{Branch: branch, Status: TargetStatusFailed, Reason: err.Error()})
			o.log.Error("failed to evaluate target", "target", branch, "error", err)
			continue
		}
		if target.Status != "" {
			result.Targets = append(result.Targets, target)
			continue
		}

		pr, err := o.BackportToBranch(ctx, commits, branch)
		if err != nil {
			target.Status = TargetStatusFailed
			target.Reason = err.Error()
			o.log.Error("backport failed", "target", branch, "error", err)
			result.Targets = append(result.Targets, target)
			continue
		}

		target.PullRequest = &pr
		target.Status = TargetStatusSucceeded
		target.Reason = "backport pull request created"
		if o.cfg.DryRun {
			target.Status = TargetStatusDryRun
			target.Reason = "dry run enabled"
		}
		result.Targets = append(result.Targets, target)
	}

	return result, nil
}

// evaluateTarget returns a result with an empty Status when the target still needs a
// backport.
func (o *Orchestrator) evaluateTarget(ctx context.Context, commits []commit.Commit, branch string) (TargetResult, error) {
	target := TargetResult{Branch: branch}

	if err := o.gh.EnsureBranchExists(ctx, o.cfg.RepoOwner, o.cfg.RepoName, branch); err != nil {
		if errors.Is(err, gh.ErrBranchNotFound) {
			target.Status = TargetStatusSkippedNoBranch
			target.Reason = "target branch not found in repository"
			o.log.Warn("skipping target: branch missing", "target", branch)
			return target, nil
		}
		return target, fmt.Errorf("ensure branch %s: %w", branch, err)
	}

	merged, open := 0, 0
	var existing *commit.ExpectedTargetPullRequest
	for _, c := range commits {
		switch {
		case c.HasBackportInState(branch, commit.StateMerged):
			merged++
		case c.HasBackportInState(branch, commit.StateOpen):
			open++
			if existing == nil {
				if pr, ok := openBackport(c, branch); ok {
					existing = &pr
				}
			}
		}
	}

	switch {
	case merged == len(commits):
		target.Status = TargetStatusSkippedBackported
		target.Reason = "all commits already backported"
		o.log.Info("skipping target: already backported", "target", branch)
	case open+merged == len(commits) && open > 0:
		target.Status = TargetStatusSkippedExistingPR
		target.Reason = "backport pull request already open"
		target.ExistingPR = existing
		o.log.Info("skipping target: backport pull request open", "target", branch)
	}
	return target, nil
}

func openBackport(c commit.Commit, branch string) (commit.ExpectedTargetPullRequest, bool) {
	for _, pr := range c.ExpectedTargetPullRequests {
		if pr.Branch == branch && pr.State == commit.StateOpen {
			return pr, true
		}
	}
	return commit.ExpectedTargetPullRequest{}, false
}
