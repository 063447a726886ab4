package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/rancher/backport/internal/commit"
)

const defaultUserAgent = "rancher-backport"

// NewRESTFactory returns a GitHub client factory backed by the go-github REST client. When
// base and upload URLs are provided, the factory targets a GitHub Enterprise instance.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		userAgent: defaultUserAgent,
		baseURL:   strings.TrimSpace(baseURL),
		uploadURL: strings.TrimSpace(uploadURL),
	}
}

type restFactory struct {
	userAgent string
	baseURL   string
	uploadURL string
}

type restClient struct {
	client     *github.Client
	httpClient *http.Client
	graphqlURL string
	userAgent  string
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if f.baseURL == "" && f.uploadURL != "" {
		return nil, fmt.Errorf("github upload url cannot be set without base url")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	ghClient := github.NewClient(tc)
	graphqlURL := "https://api.github.com/graphql"

	if f.baseURL != "" {
		if f.uploadURL == "" {
			return nil, fmt.Errorf("github upload url must be provided when base url is set")
		}
		baseURLNormalized, err := normalizeGitHubURL(f.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		uploadURLNormalized, err := normalizeGitHubURL(f.uploadURL)
		if err != nil {
			return nil, fmt.Errorf("parse github upload url: %w", err)
		}

		ghClient, err = ghClient.WithEnterpriseURLs(baseURLNormalized, uploadURLNormalized)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
		graphqlURL = graphqlEndpoint(ghClient.BaseURL)
	}

	if f.userAgent != "" {
		ghClient.UserAgent = f.userAgent
	}

	return &restClient{
		client:     ghClient,
		httpClient: tc,
		graphqlURL: graphqlURL,
		userAgent:  f.userAgent,
	}, nil
}

// graphqlEndpoint derives the GraphQL URL from a REST base URL: api.github.com/ maps to
// api.github.com/graphql and an enterprise host/api/v3/ maps to host/api/graphql.
func graphqlEndpoint(base *url.URL) string {
	u := *base
	path := strings.TrimSuffix(u.Path, "/")
	path = strings.TrimSuffix(path, "/v3")
	u.Path = path + "/graphql"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func normalizeGitHubURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}

	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

func (c *restClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (PullRequest, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return PullRequest{}, fmt.Errorf("get pull request #%d: %w", number, classifyGitHubError(err))
	}

	result := PullRequest{
		Owner:          owner,
		Repo:           repo,
		Number:         pr.GetNumber(),
		URL:            pr.GetHTMLURL(),
		Title:          pr.GetTitle(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		Merged:         pr.GetMerged(),
	}
	if base := pr.GetBase(); base != nil {
		result.BaseRef = base.GetRef()
	}
	for _, label := range pr.Labels {
		if name := label.GetName(); name != "" {
			result.Labels = append(result.Labels, name)
		}
	}
	for _, user := range pr.Assignees {
		if login := user.GetLogin(); login != "" {
			result.Assignees = append(result.Assignees, login)
		}
	}

	return result, nil
}

func (c *restClient) EnsureBranchExists(ctx context.Context, owner, repo, branch string) error {
	_, resp, err := c.client.Repositories.GetBranch(ctx, owner, repo, branch, false)
	if err != nil {
		if isNotFound(resp, err) {
			return ErrBranchNotFound
		}
		return fmt.Errorf("get branch %s: %w", branch, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (commit.TargetPullRequest, error) {
	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title:               github.String(input.Title),
		Head:                github.String(input.Head),
		Base:                github.String(input.Base),
		Body:                github.String(input.Body),
		Draft:               github.Bool(input.Draft),
		MaintainerCanModify: github.Bool(input.MaintainerCanModify),
	})
	if err != nil {
		if isAlreadyExists(err) {
			return commit.TargetPullRequest{}, fmt.Errorf("create pull request %s -> %s: %w", input.Head, input.Base, ErrPullRequestExists)
		}
		return commit.TargetPullRequest{}, fmt.Errorf("create pull request: %w", classifyGitHubError(err))
	}

	return commit.TargetPullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

func (c *restClient) FindPullRequest(ctx context.Context, owner, repo, head, base string) (commit.TargetPullRequest, bool, error) {
	if !strings.Contains(head, ":") {
		head = owner + ":" + head
	}
	opts := &github.PullRequestListOptions{
		State:       "open",
		Head:        head,
		Base:        base,
		ListOptions: github.ListOptions{PerPage: 10},
	}

	prs, _, err := c.client.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return commit.TargetPullRequest{}, false, fmt.Errorf("list pull requests for %s: %w", head, classifyGitHubError(err))
	}
	for _, pr := range prs {
		if pr == nil {
			continue
		}
		return commit.TargetPullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, true, nil
	}
	return commit.TargetPullRequest{}, false, nil
}

func (c *restClient) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	if _, _, err := c.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels); err != nil {
		return fmt.Errorf("add labels to #%d: %w", number, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error {
	if len(assignees) == 0 {
		return nil
	}
	if _, _, err := c.client.Issues.AddAssignees(ctx, owner, repo, number, assignees); err != nil {
		return fmt.Errorf("add assignees to #%d: %w", number, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	if _, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, comment); err != nil {
		return fmt.Errorf("create comment: %w", classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) ListPullRequestComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var results []IssueComment

	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", classifyGitHubError(err))
		}

		for _, comment := range comments {
			if comment == nil {
				continue
			}
			results = append(results, IssueComment{ID: comment.GetID(), Body: comment.GetBody()})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return results, nil
}

func (c *restClient) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	if _, _, err := c.client.Issues.EditComment(ctx, owner, repo, commentID, comment); err != nil {
		return fmt.Errorf("edit comment: %w", classifyGitHubError(err))
	}
	return nil
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var githubErr *github.ErrorResponse
	if errors.As(err, &githubErr) && githubErr.Response != nil {
		return githubErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// isAlreadyExists matches the 422 GitHub returns when a pull request for the same
// head and base is already open.
func isAlreadyExists(err error) bool {
	var githubErr *github.ErrorResponse
	if !errors.As(err, &githubErr) || githubErr.Response == nil {
		return false
	}
	if githubErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	if strings.Contains(strings.ToLower(githubErr.Message), "already exists") {
		return true
	}
	for _, e := range githubErr.Errors {
		if strings.Contains(strings.ToLower(e.Message), "already exists") {
			return true
		}
	}
	return false
}

func classifyGitHubError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableGitHubError(err) {
		return &retryableError{err: err}
	}
	return err
}

func isRetryableGitHubError(err error) bool {
	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if isRetryableStatus(respErr.Response.StatusCode) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}
