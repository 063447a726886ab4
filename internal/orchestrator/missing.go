package orchestrator

import (
	"context"
	"fmt"

	"github.com/rancher/backport/internal/commit"
	gh "github.com/rancher/backport/internal/github"
)

// CommitsWithoutBackports lists earlier commits on the source branch that touch the
// files c conflicts on and still lack a backport to targetBranch. Each entry is a
// human-readable line; an empty result means nothing is owed.
//
// A candidate already reachable from the target branch is never reported, whatever
// state its recorded backport pull request is in.
func (o *Orchestrator) CommitsWithoutBackports(ctx context.Context, c commit.Commit, targetBranch string) ([]string, error) {
	files, err := o.repo.ConflictingFiles(ctx)
	if err != nil {
		return nil, err
	}

	sourceBranch := c.SourceBranch
	if sourceBranch == "" {
		sourceBranch = o.cfg.SourceBranch
	}

	var candidates []commit.Commit
	seen := map[string]struct{}{}
	for _, f := range files {
		found, err := o.gh.CommitsByPath(ctx, gh.CommitsByPathQuery{
			RepoOwner:    o.cfg.RepoOwner,
			RepoName:     o.cfg.RepoName,
			SourceBranch: sourceBranch,
			CommitPath:   f.Relative,
		})
		if err != nil {
			return nil, err
		}
		for _, candidate := range found {
			if _, ok := seen[candidate.SHA]; ok {
				continue
			}
			seen[candidate.SHA] = struct{}{}
			candidates = append(candidates, candidate)
		}
	}

	targetRef := o.cfg.upstream() + "/" + targetBranch
	var lines []string
	for _, candidate := range candidates {
		if candidate.SHA == c.SHA {
			continue
		}
		if !commit.CommittedBefore(candidate.CommittedDate, c.CommittedDate) {
			continue
		}

		inBranch, err := o.repo.IsCommitInBranch(ctx, candidate.SHA, targetRef)
		if err != nil {
			return nil, err
		}
		if inBranch {
			continue
		}

		if candidate.HasBackportInState(targetBranch, commit.StateMerged) {
			continue
		}

		line := " - " + candidate.FirstLine()
		if candidate.HasBackportInState(targetBranch, commit.StateOpen) {
			line += " (backport pending)"
		}
		if candidate.PullURL != "" {
			line += fmt.Sprintf("\n   %s", candidate.PullURL)
		}
		lines = append(lines, line)
	}

	return lines, nil
}
