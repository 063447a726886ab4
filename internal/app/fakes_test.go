package app

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/rancher/backport/internal/commit"
	"github.com/rancher/backport/internal/git"
	gh "github.com/rancher/backport/internal/github"
)

type fakeFactory struct {
	client *fakeClient
	token  string
}

func (f *fakeFactory) New(_ context.Context, token string) (gh.Client, error) {
	f.token = token
	return f.client, nil
}

type fakeClient struct {
	mu sync.Mutex

	pulls   map[int]gh.PullRequest
	commits map[string]commit.Commit

	createErr  error
	createdPRs []gh.CreatePROptions
	labeled    map[int][]string

	comments      []gh.IssueComment
	createdBodies []string
	updated       map[int64]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pulls:   map[int]gh.PullRequest{},
		commits: map[string]commit.Commit{},
		labeled: map[int][]string{},
	}
}

func (c *fakeClient) GetPullRequest(_ context.Context, _, _ string, number int) (gh.PullRequest, error) {
	pr, ok := c.pulls[number]
	if !ok {
		return gh.PullRequest{}, errors.New("not found")
	}
	return pr, nil
}

func (c *fakeClient) GetCommit(_ context.Context, _, _, sha string) (commit.Commit, error) {
	cm, ok := c.commits[sha]
	if !ok {
		return commit.Commit{}, errors.New("commit not found")
	}
	return cm, nil
}

func (c *fakeClient) CommitsByPath(context.Context, gh.CommitsByPathQuery) ([]commit.Commit, error) {
	return nil, nil
}

func (c *fakeClient) EnsureBranchExists(context.Context, string, string, string) error {
	return nil
}

func (c *fakeClient) CreatePullRequest(_ context.Context, _, _ string, input gh.CreatePROptions) (commit.TargetPullRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return commit.TargetPullRequest{}, c.createErr
	}
	c.createdPRs = append(c.createdPRs, input)
	n := 100 + len(c.createdPRs)
	return commit.TargetPullRequest{Number: n, URL: "https://github.com/rancher/fleet/pull/" + strconv.Itoa(n)}, nil
}

func (c *fakeClient) FindPullRequest(context.Context, string, string, string, string) (commit.TargetPullRequest, bool, error) {
	return commit.TargetPullRequest{}, false, nil
}

func (c *fakeClient) AddLabels(_ context.Context, _, _ string, number int, labels []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labeled[number] = append(c.labeled[number], labels...)
	return nil
}

func (c *fakeClient) AddAssignees(context.Context, string, string, int, []string) error {
	return nil
}

func (c *fakeClient) CommentOnPullRequest(_ context.Context, _, _ string, _ int, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createdBodies = append(c.createdBodies, body)
	return nil
}

func (c *fakeClient) ListPullRequestComments(context.Context, string, string, int) ([]gh.IssueComment, error) {
	return c.comments, nil
}

func (c *fakeClient) UpdateComment(_ context.Context, _, _ string, commentID int64, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updated == nil {
		c.updated = make(map[int64]string)
	}
	c.updated[commentID] = body
	return nil
}

// fakeGitRunner succeeds for every command and records what ran.
type fakeGitRunner struct {
	mu  sync.Mutex
	ran []string
}

func (r *fakeGitRunner) Run(_ context.Context, cmd git.Command) (git.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, cmd.String())
	return git.Output{}, nil
}
