package orchestrator

import "time"

// DefaultTitleTemplate is used when no pull request title template is configured.
const DefaultTitleTemplate = "[{targetBranch}] {commitMessages}"

const defaultCleanupTimeout = 30 * time.Second

// Config captures the runtime controls the orchestrator needs.
type Config struct {
	RepoOwner string
	RepoName  string

	// UpstreamRemote is the remote target branches are fetched from.
	UpstreamRemote string
	// ForkRemote is the remote feature branches are pushed to. Defaults to UpstreamRemote.
	ForkRemote string
	// ForkOwner qualifies the pull request head ("owner:branch") when pushing to a fork.
	ForkOwner string

	// SourceBranch scopes the commit history query when a commit does not carry its own.
	SourceBranch string

	PRTitle       string
	PRDescription string

	TargetPRLabels []string
	SourcePRLabels []string
	Assignees      []string

	// Mainline selects the parent when cherry-picking merge commits. Zero disables it.
	Mainline int

	DryRun bool

	// CleanupTimeout bounds branch cleanup, which runs even after cancellation.
	CleanupTimeout time.Duration
}

func (c Config) upstream() string {
	if c.UpstreamRemote == "" {
		return "origin"
	}
	return c.UpstreamRemote
}

func (c Config) fork() string {
	if c.ForkRemote == "" {
		return c.upstream()
	}
	return c.ForkRemote
}

func (c Config) titleTemplate() string {
	if c.PRTitle == "" {
		return DefaultTitleTemplate
	}
	return c.PRTitle
}

func (c Config) cleanupTimeout() time.Duration {
	if c.CleanupTimeout <= 0 {
		return defaultCleanupTimeout
	}
	return c.CleanupTimeout
}
