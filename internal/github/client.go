package gh

import (
	"context"
	"errors"

	"github.com/rancher/backport/internal/commit"
)

// PullRequest contains the source pull request details a backport starts from.
type PullRequest struct {
	Owner          string
	Repo           string
	Number         int
	URL            string
	Title          string
	BaseRef        string
	MergeCommitSHA string
	Labels         []string
	Assignees      []string
	Merged         bool
}

// IssueComment represents a GitHub issue or pull request comment.
type IssueComment struct {
	ID   int64
	Body string
}

// CreatePROptions defines the metadata required to open a backport PR.
type CreatePROptions struct {
	Title               string
	Body                string
	Head                string
	Base                string
	Draft               bool
	MaintainerCanModify bool
}

// CommitsByPathQuery scopes a commit history lookup to one file on a source branch.
type CommitsByPathQuery struct {
	RepoOwner    string
	RepoName     string
	SourceBranch string
	CommitPath   string
	// AuthorID restricts the history to one author. Nil means any author.
	AuthorID *string
}

// Client exposes the GitHub operations required by the backport orchestrator.
type Client interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (PullRequest, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (commit.Commit, error)
	CommitsByPath(ctx context.Context, query CommitsByPathQuery) ([]commit.Commit, error)
	EnsureBranchExists(ctx context.Context, owner, repo, branch string) error
	CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (commit.TargetPullRequest, error)
	FindPullRequest(ctx context.Context, owner, repo, head, base string) (commit.TargetPullRequest, bool, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error
	CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error
	ListPullRequestComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error)
	UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error
}

// Factory builds concrete GitHub clients for the orchestrator.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

// ErrBranchNotFound indicates the requested target branch does not exist.
var ErrBranchNotFound = errors.New("github: branch not found")

// ErrPullRequestExists indicates an open pull request already uses the same head and base.
var ErrPullRequestExists = errors.New("github: pull request already exists")

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether err came from a transient GitHub failure such as a
// rate limit, a 5xx response or a network timeout. The engine never retries these
// itself; callers decide.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}
