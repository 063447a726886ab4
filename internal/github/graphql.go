package gh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rancher/backport/internal/commit"
)

const sourceCommitFragment = `
fragment SourceCommitWithTargetPullRequest on Commit {
  oid
  message
  committedDate
  associatedPullRequests(first: 1) {
    edges {
      node {
        number
        url
        baseRefName
        timelineItems(last: 20, itemTypes: CROSS_REFERENCED_EVENT) {
          edges {
            node {
              ... on CrossReferencedEvent {
                source {
                  __typename
                  ... on PullRequest {
                    number
                    url
                    state
                    baseRefName
                    commits(first: 20) {
                      edges {
                        node {
                          targetCommit: commit {
                            message
                            oid
                          }
                        }
                      }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

const commitsByPathQuery = `
query CommitsByPath($repoOwner: String!, $repoName: String!, $sourceBranch: String!, $commitPath: String!, $authorId: ID) {
  repository(owner: $repoOwner, name: $repoName) {
    ref(qualifiedName: $sourceBranch) {
      target {
        ... on Commit {
          history(first: 20, path: $commitPath, author: {id: $authorId}) {
            edges {
              node {
                ...SourceCommitWithTargetPullRequest
              }
            }
          }
        }
      }
    }
  }
}
` + sourceCommitFragment

const commitBySHAQuery = `
query CommitBySha($repoOwner: String!, $repoName: String!, $sha: String!) {
  repository(owner: $repoOwner, name: $repoName) {
    object(expression: $sha) {
      ...SourceCommitWithTargetPullRequest
    }
  }
}
` + sourceCommitFragment

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []graphqlError `json:"errors"`
}

type commitNode struct {
	OID                    string `json:"oid"`
	Message                string `json:"message"`
	CommittedDate          string `json:"committedDate"`
	AssociatedPullRequests struct {
		Edges []struct {
			Node *sourcePullRequestNode `json:"node"`
		} `json:"edges"`
	} `json:"associatedPullRequests"`
}

type sourcePullRequestNode struct {
	Number        int    `json:"number"`
	URL           string `json:"url"`
	BaseRefName   string `json:"baseRefName"`
	TimelineItems struct {
		Edges []struct {
			Node struct {
				Source *crossReferenceSource `json:"source"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"timelineItems"`
}

type crossReferenceSource struct {
	Typename    string `json:"__typename"`
	Number      int    `json:"number"`
	URL         string `json:"url"`
	State       string `json:"state"`
	BaseRefName string `json:"baseRefName"`
	Commits     struct {
		Edges []struct {
			Node struct {
				TargetCommit struct {
					Message string `json:"message"`
					OID     string `json:"oid"`
				} `json:"targetCommit"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"commits"`
}

type commitsByPathData struct {
	Repository *struct {
		Ref *struct {
			Target struct {
				History struct {
					Edges []struct {
						Node commitNode `json:"node"`
					} `json:"edges"`
				} `json:"history"`
			} `json:"target"`
		} `json:"ref"`
	} `json:"repository"`
}

type commitBySHAData struct {
	Repository *struct {
		Object *commitNode `json:"object"`
	} `json:"repository"`
}

func (c *restClient) CommitsByPath(ctx context.Context, query CommitsByPathQuery) ([]commit.Commit, error) {
	var authorID any
	if query.AuthorID != nil {
		authorID = *query.AuthorID
	}

	var data commitsByPathData
	err := c.graphql(ctx, commitsByPathQuery, map[string]any{
		"repoOwner":    query.RepoOwner,
		"repoName":     query.RepoName,
		"sourceBranch": query.SourceBranch,
		"commitPath":   query.CommitPath,
		"authorId":     authorID,
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("query commits touching %s: %w", query.CommitPath, err)
	}

	if data.Repository == nil {
		return nil, fmt.Errorf("repository %s/%s not found", query.RepoOwner, query.RepoName)
	}
	if data.Repository.Ref == nil {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, query.SourceBranch)
	}

	edges := data.Repository.Ref.Target.History.Edges
	commits := make([]commit.Commit, 0, len(edges))
	for _, edge := range edges {
		commits = append(commits, edge.Node.toCommit(query.SourceBranch))
	}
	return commits, nil
}

func (c *restClient) GetCommit(ctx context.Context, owner, repo, sha string) (commit.Commit, error) {
	var data commitBySHAData
	err := c.graphql(ctx, commitBySHAQuery, map[string]any{
		"repoOwner": owner,
		"repoName":  repo,
		"sha":       sha,
	}, &data)
	if err != nil {
		return commit.Commit{}, fmt.Errorf("query commit %s: %w", sha, err)
	}
	if data.Repository == nil || data.Repository.Object == nil || data.Repository.Object.OID == "" {
		return commit.Commit{}, fmt.Errorf("commit %s not found in %s/%s", sha, owner, repo)
	}
	return data.Repository.Object.toCommit(""), nil
}

func (c *restClient) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyGitHubError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := fmt.Errorf("graphql request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if isRetryableStatus(resp.StatusCode) {
			return &retryableError{err: statusErr}
		}
		return statusErr
	}

	envelope := graphqlResponse[json.RawMessage]{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("graphql: %s", strings.Join(messages, "; "))
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("graphql response carried no data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

func (n commitNode) toCommit(sourceBranch string) commit.Commit {
	c := commit.Commit{
		SHA:             n.OID,
		OriginalMessage: n.Message,
		CommittedDate:   n.CommittedDate,
		SourceBranch:    sourceBranch,
	}

	var source *sourcePullRequestNode
	for _, edge := range n.AssociatedPullRequests.Edges {
		if edge.Node != nil {
			source = edge.Node
			break
		}
	}
	if source == nil {
		return c
	}

	c.PullNumber = source.Number
	c.PullURL = source.URL
	if c.SourceBranch == "" {
		c.SourceBranch = source.BaseRefName
	}
	c.ExpectedTargetPullRequests = expectedTargets(c, source)
	return c
}

// expectedTargets picks the cross-referenced pull requests that carry a commit whose
// message starts with the source commit's subject line.
func expectedTargets(c commit.Commit, source *sourcePullRequestNode) []commit.ExpectedTargetPullRequest {
	subject := c.FirstLine()
	seen := map[string]struct{}{}
	var targets []commit.ExpectedTargetPullRequest

	for _, edge := range source.TimelineItems.Edges {
		ref := edge.Node.Source
		if ref == nil || ref.Typename != "PullRequest" || ref.Number == source.Number {
			continue
		}
		if ref.BaseRefName == source.BaseRefName {
			continue
		}

		matched := false
		for _, ce := range ref.Commits.Edges {
			if subject != "" && strings.HasPrefix(commit.FirstLine(ce.Node.TargetCommit.Message), subject) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		key := fmt.Sprintf("%s#%d", ref.BaseRefName, ref.Number)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		targets = append(targets, commit.ExpectedTargetPullRequest{
			Branch: ref.BaseRefName,
			State:  commit.PullRequestState(strings.ToUpper(ref.State)),
			Number: ref.Number,
			URL:    ref.URL,
		})
	}
	return targets
}
