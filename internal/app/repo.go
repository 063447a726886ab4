package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"
)

func openRepository(dir string) (*git.Repository, error) {
	return git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
}

// repositoryRoot returns the top of the working tree containing dir.
func repositoryRoot(dir string) (string, error) {
	repo, err := openRepository(dir)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}

// discoverRepository reads owner and name from the URL of remote.
func discoverRepository(dir, remote string) (owner, name string, err error) {
	repo, err := openRepository(dir)
	if err != nil {
		return "", "", fmt.Errorf("open repository: %w", err)
	}
	r, err := repo.Remote(remote)
	if err != nil {
		return "", "", fmt.Errorf("remote %q: %w", remote, err)
	}
	urls := r.Config().URLs
	if len(urls) == 0 {
		return "", "", fmt.Errorf("remote %q has no URL", remote)
	}
	return parseRemoteURL(urls[0])
}

// parseRemoteURL accepts https, ssh and scp-like remote URLs.
func parseRemoteURL(raw string) (owner, name string, err error) {
	raw = strings.TrimSpace(raw)

	var path string
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("parse remote URL %q: %w", raw, err)
		}
		path = u.Path
	} else if _, after, ok := strings.Cut(raw, ":"); ok {
		path = after
	} else {
		return "", "", fmt.Errorf("unrecognized remote URL %q", raw)
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("remote URL %q does not name owner/repository", raw)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}
