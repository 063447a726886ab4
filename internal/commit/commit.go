// Package commit holds the records the backport engine reads: source commits,
// the backports the remote already knows about, and the pull requests it opens.
package commit

import (
	"strings"
	"time"
)

// PullRequestState is the remote state of a known backport pull request.
type PullRequestState string

const (
	StateOpen   PullRequestState = "OPEN"
	StateMerged PullRequestState = "MERGED"
	StateClosed PullRequestState = "CLOSED"
)

// ExpectedTargetPullRequest is a backport attempt the remote already knows about.
type ExpectedTargetPullRequest struct {
	Branch string
	State  PullRequestState
	Number int
	URL    string
}

// Commit is a merged change on a source branch. It is never mutated by the engine.
type Commit struct {
	SHA             string
	OriginalMessage string
	CommittedDate   string
	SourceBranch    string
	// PullNumber is the pull request that merged the commit; zero for direct commits.
	PullNumber int
	PullURL    string

	ExpectedTargetPullRequests []ExpectedTargetPullRequest
}

// TargetPullRequest is the pull request created (or reused) for one target branch.
type TargetPullRequest struct {
	Number int
	URL    string
}

// FirstLine returns the subject line of the commit message.
func (c Commit) FirstLine() string {
	return FirstLine(c.OriginalMessage)
}

// ShortSHA returns the first 8 characters of the sha.
func (c Commit) ShortSHA() string {
	return ShortSHA(c.SHA)
}

// TargetPullRequestFor returns the first known backport to branch, if any.
func (c Commit) TargetPullRequestFor(branch string) (ExpectedTargetPullRequest, bool) {
	for _, pr := range c.ExpectedTargetPullRequests {
		if pr.Branch == branch {
			return pr, true
		}
	}
	return ExpectedTargetPullRequest{}, false
}

// HasBackportInState reports whether any known backport to branch is in state.
// Duplicate entries for the same branch are tolerated.
func (c Commit) HasBackportInState(branch string, state PullRequestState) bool {
	for _, pr := range c.ExpectedTargetPullRequests {
		if pr.Branch == branch && pr.State == state {
			return true
		}
	}
	return false
}

// FirstLine returns the text before the first newline, trimmed.
func FirstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}
	return strings.TrimSpace(message)
}

// ShortSHA truncates sha to 8 characters.
func ShortSHA(sha string) string {
	if len(sha) <= 8 {
		return sha
	}
	return sha[:8]
}

// CommittedBefore reports whether date a is strictly older than date b. Both are
// compared as RFC 3339 instants when they parse, otherwise as plain strings.
func CommittedBefore(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA == nil && errB == nil {
		return ta.Before(tb)
	}
	return a < b
}

// PullNumbers returns the non-zero pull numbers of commits in order.
func PullNumbers(commits []Commit) []int {
	numbers := make([]int, 0, len(commits))
	for _, c := range commits {
		if c.PullNumber != 0 {
			numbers = append(numbers, c.PullNumber)
		}
	}
	return numbers
}
