package gh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rancher/backport/internal/commit"
)

// DryRunURL is the pull request URL reported when nothing was created.
const DryRunURL = "this-is-a-dry-run"

// NewDryRunFactory returns a Factory whose clients read through the clients built by
// inner and turn every write into a log line. inner may be nil, in which case reads
// report nothing found.
func NewDryRunFactory(inner Factory, log *slog.Logger) Factory {
	return dryRunFactory{inner: inner, log: log}
}

type dryRunFactory struct {
	inner Factory
	log   *slog.Logger
}

func (f dryRunFactory) New(ctx context.Context, token string) (Client, error) {
	if f.inner == nil || token == "" {
		return NewDryRunClient(nil, f.log), nil
	}
	client, err := f.inner.New(ctx, token)
	if err != nil {
		return nil, err
	}
	return NewDryRunClient(client, f.log), nil
}

// NewDryRunClient wraps inner so that lookups still hit GitHub while pull requests,
// labels, assignees and comments are only logged.
func NewDryRunClient(inner Client, log *slog.Logger) Client {
	if log == nil {
		log = slog.Default()
	}
	return &dryRunClient{inner: inner, log: log}
}

type dryRunClient struct {
	inner Client
	log   *slog.Logger
}

func (c *dryRunClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (PullRequest, error) {
	if c.inner == nil {
		return PullRequest{}, fmt.Errorf("dry run: cannot look up pull request #%d without a github token", number)
	}
	return c.inner.GetPullRequest(ctx, owner, repo, number)
}

func (c *dryRunClient) GetCommit(ctx context.Context, owner, repo, sha string) (commit.Commit, error) {
	if c.inner == nil {
		return commit.Commit{SHA: sha}, nil
	}
	return c.inner.GetCommit(ctx, owner, repo, sha)
}

func (c *dryRunClient) CommitsByPath(ctx context.Context, query CommitsByPathQuery) ([]commit.Commit, error) {
	if c.inner == nil {
		return nil, nil
	}
	return c.inner.CommitsByPath(ctx, query)
}

func (c *dryRunClient) EnsureBranchExists(ctx context.Context, owner, repo, branch string) error {
	if c.inner == nil {
		return nil
	}
	return c.inner.EnsureBranchExists(ctx, owner, repo, branch)
}

func (c *dryRunClient) FindPullRequest(ctx context.Context, owner, repo, head, base string) (commit.TargetPullRequest, bool, error) {
	if c.inner == nil {
		return commit.TargetPullRequest{}, false, nil
	}
	return c.inner.FindPullRequest(ctx, owner, repo, head, base)
}

func (c *dryRunClient) CreatePullRequest(_ context.Context, owner, repo string, input CreatePROptions) (commit.TargetPullRequest, error) {
	c.log.Info("dry run: skipping pull request creation", "repo", owner+"/"+repo, "head", input.Head, "base", input.Base, "title", input.Title)
	return commit.TargetPullRequest{Number: 0, URL: DryRunURL}, nil
}

func (c *dryRunClient) AddLabels(_ context.Context, _, _ string, number int, labels []string) error {
	c.log.Info("dry run: skipping labels", "number", number, "labels", labels)
	return nil
}

func (c *dryRunClient) AddAssignees(_ context.Context, _, _ string, number int, assignees []string) error {
	c.log.Info("dry run: skipping assignees", "number", number, "assignees", assignees)
	return nil
}

func (c *dryRunClient) CommentOnPullRequest(_ context.Context, _, _ string, number int, _ string) error {
	c.log.Info("dry run: skipping comment", "number", number)
	return nil
}

func (c *dryRunClient) ListPullRequestComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error) {
	if c.inner == nil {
		return nil, nil
	}
	return c.inner.ListPullRequestComments(ctx, owner, repo, number)
}

func (c *dryRunClient) UpdateComment(_ context.Context, _, _ string, commentID int64, _ string) error {
	c.log.Info("dry run: skipping comment update", "comment_id", commentID)
	return nil
}
