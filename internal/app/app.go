package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rancher/backport/internal/commit"
	"github.com/rancher/backport/internal/event"
	"github.com/rancher/backport/internal/git"
	gh "github.com/rancher/backport/internal/github"
	"github.com/rancher/backport/internal/labels"
	"github.com/rancher/backport/internal/orchestrator"
)

// Runner glues together the orchestrator and supporting services to execute a backport run.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	out       io.Writer
	ghFactory gh.Factory
	gitRunner git.Runner
	progress  orchestrator.Progress
	prompter  orchestrator.Prompter
}

// Option customizes a Runner.
type Option func(*Runner)

// WithGitHubFactory replaces the REST-backed GitHub client factory.
func WithGitHubFactory(f gh.Factory) Option {
	return func(r *Runner) { r.ghFactory = f }
}

// WithGitRunner replaces the system git runner.
func WithGitRunner(gr git.Runner) Option {
	return func(r *Runner) { r.gitRunner = gr }
}

// WithProgress sets the operator-facing progress reporter.
func WithProgress(p orchestrator.Progress) Option {
	return func(r *Runner) { r.progress = p }
}

// WithPrompter sets the conflict prompt. Without one, conflicts abort the target.
func WithPrompter(p orchestrator.Prompter) Option {
	return func(r *Runner) { r.prompter = p }
}

// NewRunner constructs a Runner with the supplied configuration. Operator output goes to out.
func NewRunner(cfg Config, log *slog.Logger, out io.Writer, opts ...Option) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	r := &Runner{cfg: cfg, log: log, out: out}
	for _, opt := range opts {
		opt(r)
	}

	if r.ghFactory == nil {
		r.ghFactory = gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL)
	}
	if cfg.DryRun {
		r.ghFactory = gh.NewDryRunFactory(r.ghFactory, log)
	}
	if r.gitRunner == nil {
		r.gitRunner = &git.ShellRunner{
			Dir:            cfg.RepoDir,
			NetworkRetries: cfg.NetworkRetries,
			NetworkTimeout: cfg.NetworkTimeout,
			Log:            log,
		}
	}
	if cfg.DryRun {
		r.gitRunner = git.NewDryRunRunner(r.gitRunner, log)
	}
	return r
}

// source is what a run backports and where its target labels came from.
type source struct {
	commits []commit.Commit
	labels  []string
	// pullNumbers are the source pull requests receiving the status comment.
	pullNumbers []int
}

// Run resolves the source commits and target branches and backports to each target.
func (r *Runner) Run(ctx context.Context) (orchestrator.Result, error) {
	r.log.Info("starting backport run", "repo", r.cfg.RepoOwner+"/"+r.cfg.RepoName, "dry_run", r.cfg.DryRun)

	client, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("initialize github client: %w", err)
	}

	src, skipReason, err := r.resolveSource(ctx, client)
	if err != nil {
		return orchestrator.Result{}, err
	}
	if skipReason != "" {
		r.log.Info("skipping backport run", "reason", skipReason)
		return orchestrator.Result{}, nil
	}

	targets, err := r.resolveTargets(src.labels)
	if err != nil {
		return orchestrator.Result{Commits: src.commits}, err
	}
	if len(targets) == 0 {
		r.log.Info("no backport targets found", "labels", src.labels)
		result := orchestrator.Result{Commits: src.commits}
		r.report(ctx, client, src, result)
		return result, nil
	}

	orch := orchestrator.New(r.orchestratorConfig(), client, git.NewRepo(r.cfg.RepoDir, r.gitRunner), r.log,
		orchestrator.WithOutput(r.out),
		orchestrator.WithProgress(r.progress),
		orchestrator.WithPrompter(r.prompter),
	)

	result, err := orch.Run(ctx, src.commits, labels.Branches(targets))
	if err != nil {
		return result, fmt.Errorf("backport: %w", err)
	}

	for _, target := range result.Targets {
		r.log.Info("evaluated backport target", "branch", target.Branch, "status", target.Status, "reason", target.Reason)
	}
	r.report(ctx, client, src, result)

	var failed []string
	for _, target := range result.Targets {
		if target.Status == orchestrator.TargetStatusFailed {
			failed = append(failed, target.Branch)
		}
	}
	if len(failed) > 0 {
		return result, fmt.Errorf("backport failed for %d target(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return result, nil
}

func (r *Runner) orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		RepoOwner:      r.cfg.RepoOwner,
		RepoName:       r.cfg.RepoName,
		UpstreamRemote: r.cfg.UpstreamRemote,
		ForkRemote:     r.cfg.ForkRemote(),
		ForkOwner:      r.cfg.ForkOwner(),
		SourceBranch:   r.cfg.SourceBranch,
		PRTitle:        r.cfg.PRTitle,
		PRDescription:  r.cfg.PRDescription,
		TargetPRLabels: r.cfg.TargetPRLabels,
		SourcePRLabels: r.cfg.SourcePRLabels,
		Assignees:      r.cfg.Assignees,
		Mainline:       r.cfg.Mainline,
		DryRun:         r.cfg.DryRun,
	}
}

// resolveSource picks commits from pull requests, shas or the triggering event, in that
// order of precedence. A non-empty reason means the event does not call for a backport.
func (r *Runner) resolveSource(ctx context.Context, client gh.Client) (source, string, error) {
	switch {
	case len(r.cfg.PullNumbers) > 0:
		var src source
		for _, number := range r.cfg.PullNumbers {
			pr, err := client.GetPullRequest(ctx, r.cfg.RepoOwner, r.cfg.RepoName, number)
			if err != nil {
				return source{}, "", fmt.Errorf("get pull request #%d: %w", number, err)
			}
			if !pr.Merged || pr.MergeCommitSHA == "" {
				return source{}, "", fmt.Errorf("pull request #%d is not merged", number)
			}
			c, err := r.pullRequestCommit(ctx, client, pr.Number, pr.URL, pr.BaseRef, pr.MergeCommitSHA)
			if err != nil {
				return source{}, "", err
			}
			src.commits = append(src.commits, c)
			src.labels = append(src.labels, pr.Labels...)
			src.pullNumbers = append(src.pullNumbers, pr.Number)
		}
		return src, "", nil

	case len(r.cfg.SHAs) > 0:
		var src source
		for _, sha := range r.cfg.SHAs {
			c, err := client.GetCommit(ctx, r.cfg.RepoOwner, r.cfg.RepoName, sha)
			if err != nil {
				return source{}, "", fmt.Errorf("get commit %s: %w", sha, err)
			}
			src.commits = append(src.commits, c)
			if c.PullNumber > 0 {
				src.pullNumbers = append(src.pullNumbers, c.PullNumber)
			}
		}
		return src, "", nil
	}

	eventPath := r.cfg.EventPath
	if eventPath == "" {
		eventPath = strings.TrimSpace(os.Getenv("GITHUB_EVENT_PATH"))
	}
	if eventPath == "" {
		return source{}, "", errors.New("nothing to backport: pass a pull request number, a commit sha or an event payload")
	}

	payload, err := event.ParsePullRequestEventFile(eventPath)
	if err != nil {
		return source{}, "", fmt.Errorf("parse pull request event: %w", err)
	}
	if ok, reason := payload.Backportable(); !ok {
		return source{}, reason, nil
	}
	if payload.Repository.Owner != "" && payload.Repository.Name != "" {
		r.cfg.RepoOwner, r.cfg.RepoName = payload.Repository.Owner, payload.Repository.Name
	}

	pr := payload.PullRequest
	c, err := r.pullRequestCommit(ctx, client, pr.Number, pr.URL, pr.BaseRef, pr.MergeCommitSHA)
	if err != nil {
		return source{}, "", err
	}

	// A labeled event only contributes the label that was just added.
	prLabels := pr.Labels
	if payload.Action == event.PullRequestActionLabeled && payload.LabelName != "" {
		prLabels = []string{payload.LabelName}
	}
	return source{commits: []commit.Commit{c}, labels: prLabels, pullNumbers: []int{pr.Number}}, "", nil
}

func (r *Runner) pullRequestCommit(ctx context.Context, client gh.Client, number int, url, baseRef, sha string) (commit.Commit, error) {
	c, err := client.GetCommit(ctx, r.cfg.RepoOwner, r.cfg.RepoName, sha)
	if err != nil {
		return commit.Commit{}, fmt.Errorf("get merge commit %s of pull request #%d: %w", sha, number, err)
	}
	if c.PullNumber == 0 {
		c.PullNumber = number
		c.PullURL = url
	}
	if c.SourceBranch == "" {
		c.SourceBranch = baseRef
	}
	return c, nil
}

// resolveTargets merges explicitly requested branches with branches derived from labels.
func (r *Runner) resolveTargets(labelNames []string) ([]labels.Target, error) {
	explicit := labels.FromBranches(r.cfg.TargetBranches)

	var prefixed []labels.Target
	if r.cfg.LabelPrefix != "" {
		var err error
		prefixed, err = labels.CollectTargets(labelNames, r.cfg.LabelPrefix)
		if err != nil {
			return nil, fmt.Errorf("collect label targets: %w", err)
		}
	}

	mapped, err := labels.CollectMappedTargets(labelNames, r.cfg.BranchLabelMapping)
	if err != nil {
		return nil, fmt.Errorf("collect mapped label targets: %w", err)
	}

	targets := labels.MergeTargets(explicit, prefixed, mapped)
	if err := labels.ValidateTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// report publishes the run outcome; failures here never fail the run.
func (r *Runner) report(ctx context.Context, client gh.Client, src source, result orchestrator.Result) {
	if err := writeStepSummary(result); err != nil {
		r.log.Warn("failed to write step summary", "error", err)
	}
	if err := writeGitHubOutputs(result); err != nil {
		r.log.Warn("failed to write action outputs", "error", err)
	}
	if !r.cfg.PublishStatusComment || len(result.Targets) == 0 {
		return
	}
	for _, number := range src.pullNumbers {
		if err := r.upsertSummaryComment(ctx, client, r.cfg.RepoOwner, r.cfg.RepoName, number, result); err != nil {
			r.log.Warn("failed to post pull request comment", "pull_request", number, "error", err)
		}
	}
}
