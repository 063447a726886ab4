// Package event decodes the GitHub Actions pull_request payload that triggers a backport.
package event

import (
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/go-github/v55/github"
)

// PullRequestAction enumerates actions we care about from pull_request events.
type PullRequestAction string

const (
	PullRequestActionClosed  PullRequestAction = "closed"
	PullRequestActionLabeled PullRequestAction = "labeled"
)

// PullRequestPayload captures the subset of pull_request event data used to source commits.
type PullRequestPayload struct {
	Action      PullRequestAction
	Repository  Repository
	PullRequest PullRequest
	LabelName   string
}

// Repository identifies the owner/name of the repository where the event originated.
type Repository struct {
	Owner string
	Name  string
}

// PullRequest is the merged source pull request.
type PullRequest struct {
	Number         int
	URL            string
	Labels         []string
	Merged         bool
	MergeCommitSHA string
	BaseRef        string
	Title          string
	Assignees      []string
}

// Backportable reports whether the event refers to a merged pull request on an action
// that should trigger backports. The reason explains a false result.
func (p PullRequestPayload) Backportable() (bool, string) {
	switch {
	case p.Action != PullRequestActionClosed && p.Action != PullRequestActionLabeled:
		return false, fmt.Sprintf("action %q does not trigger backports", p.Action)
	case !p.PullRequest.Merged:
		return false, fmt.Sprintf("pull request #%d is not merged", p.PullRequest.Number)
	case p.PullRequest.MergeCommitSHA == "":
		return false, fmt.Sprintf("pull request #%d has no merge commit", p.PullRequest.Number)
	}
	return true, ""
}

// ParsePullRequestEvent decodes a GitHub pull_request event payload from the provided reader.
func ParsePullRequestEvent(r io.Reader) (PullRequestPayload, error) {
	var raw github.PullRequestEvent

	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return PullRequestPayload{}, fmt.Errorf("decode pull_request event: %w", err)
	}

	pr := raw.GetPullRequest()
	payload := PullRequestPayload{
		Action: PullRequestAction(strings.ToLower(strings.TrimSpace(raw.GetAction()))),
		Repository: Repository{
			Owner: strings.TrimSpace(raw.GetRepo().GetOwner().GetLogin()),
			Name:  strings.TrimSpace(raw.GetRepo().GetName()),
		},
		PullRequest: PullRequest{
			Number:         pr.GetNumber(),
			URL:            pr.GetHTMLURL(),
			Merged:         pr.GetMerged(),
			MergeCommitSHA: strings.TrimSpace(pr.GetMergeCommitSHA()),
			BaseRef:        strings.TrimSpace(pr.GetBase().GetRef()),
			Title:          pr.GetTitle(),
		},
	}

	for _, l := range pr.Labels {
		if name := strings.TrimSpace(l.GetName()); name != "" {
			payload.PullRequest.Labels = append(payload.PullRequest.Labels, name)
		}
	}

	for _, a := range pr.Assignees {
		if login := strings.TrimSpace(a.GetLogin()); login != "" {
			payload.PullRequest.Assignees = append(payload.PullRequest.Assignees, login)
		}
	}

	if raw.Label != nil {
		payload.LabelName = strings.TrimSpace(raw.Label.GetName())
	}

	return payload, nil
}

// ParsePullRequestEventFile reads the event JSON from disk.
func ParsePullRequestEventFile(path string) (payload PullRequestPayload, err error) {
	f, err := os.Open(path)
	if err != nil {
		return PullRequestPayload{}, fmt.Errorf("open event file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close event file: %w", closeErr)
		}
	}()

	return ParsePullRequestEvent(f)
}
