package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rancher/backport/internal/commit"
	"github.com/rancher/backport/internal/git"
	gh "github.com/rancher/backport/internal/github"
)

// Orchestrator drives backports of source commits onto target branches: it fetches,
// branches, cherry-picks with operator-assisted conflict resolution, pushes, and
// opens pull requests.
type Orchestrator struct {
	cfg      Config
	gh       gh.Client
	repo     *git.Repo
	log      *slog.Logger
	progress Progress
	prompter Prompter
	out      io.Writer
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithProgress sets the reporter for stage transitions.
func WithProgress(p Progress) Option {
	return func(o *Orchestrator) { o.progress = p }
}

// WithPrompter sets the operator prompt used during conflict resolution.
func WithPrompter(p Prompter) Option {
	return func(o *Orchestrator) { o.prompter = p }
}

// WithOutput sets where operator-facing text is written.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// New returns a configured Orchestrator instance.
func New(cfg Config, ghClient gh.Client, repo *git.Repo, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o := &Orchestrator{
		cfg:      cfg,
		gh:       ghClient,
		repo:     repo,
		log:      logger,
		progress: nopProgress{},
		out:      io.Discard,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.progress == nil {
		o.progress = nopProgress{}
	}
	if o.out == nil {
		o.out = io.Discard
	}
	return o
}

// BackportToBranch applies commits, in order, to a fresh feature branch cut from
// targetBranch, pushes it and publishes a pull request. It refuses to start on a
// working tree with uncommitted changes. The feature branch is deleted locally
// whatever the outcome and the previously checked out ref is restored.
func (o *Orchestrator) BackportToBranch(ctx context.Context, commits []commit.Commit, targetBranch string) (pr commit.TargetPullRequest, err error) {
	if len(commits) == 0 {
		return pr, errors.New("no commits to backport")
	}
	if o.repo == nil || o.gh == nil {
		return pr, errors.New("git repository and github client are required")
	}

	fmt.Fprintf(o.out, "\nBackporting to %s:\n", targetBranch)

	branch := gh.BranchNameForBackport(targetBranch, commits)
	head := gh.PullRequestHead(o.cfg.ForkOwner, branch)
	log := o.log.With("target", targetBranch, "branch", branch)

	if err := o.repo.EnsureClean(ctx); err != nil {
		return pr, err
	}
	original, err := o.repo.CurrentRef(ctx)
	if err != nil {
		return pr, err
	}

	step := o.progress.Start("Pulling latest changes")
	if err := o.repo.Fetch(ctx, o.cfg.upstream(), o.fetchBranches(targetBranch, commits)...); err != nil {
		return pr, finish(step, fmt.Errorf("fetch %s: %w", targetBranch, err))
	}
	if err := o.repo.CreateFeatureBranch(ctx, branch, o.cfg.upstream(), targetBranch); err != nil {
		return pr, finish(step, fmt.Errorf("create branch %s: %w", branch, err))
	}
	step.Succeed()

	defer func() {
		o.cleanup(ctx, branch, original, err != nil, log)
	}()

	for _, c := range commits {
		if err := o.cherryPick(ctx, c, targetBranch); err != nil {
			return pr, err
		}
	}

	step = o.progress.Start(fmt.Sprintf("Pushing branch %q", head))
	if err := finish(step, o.repo.PushFeatureBranch(ctx, o.cfg.fork(), branch)); err != nil {
		return pr, fmt.Errorf("push %s: %w", branch, err)
	}

	pr, err = o.publish(ctx, head, targetBranch, commits)
	if err != nil {
		return pr, err
	}

	o.labelSourcePullRequests(ctx, commits, log)

	fmt.Fprintf(o.out, "View pull request: %s\n", pr.URL)
	log.Info("backport pull request ready", "number", pr.Number, "url", pr.URL)
	return pr, nil
}

// fetchBranches lists the target followed by every source branch the commits were
// taken from, so their shas are present locally before cherry-picking.
func (o *Orchestrator) fetchBranches(targetBranch string, commits []commit.Commit) []string {
	branches := []string{targetBranch}
	seen := map[string]struct{}{targetBranch: {}}
	for _, c := range commits {
		source := c.SourceBranch
		if source == "" {
			source = o.cfg.SourceBranch
		}
		if source == "" {
			continue
		}
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		branches = append(branches, source)
	}
	return branches
}

func (o *Orchestrator) cherryPick(ctx context.Context, c commit.Commit, targetBranch string) error {
	step := o.progress.Start("Cherry-picking: " + c.FirstLine())
	conflict, err := o.repo.CherryPick(ctx, c.SHA, o.cfg.Mainline)
	if err != nil {
		return finish(step, fmt.Errorf("cherry-pick %s: %w", c.ShortSHA(), err))
	}
	if !conflict {
		step.Succeed()
		return nil
	}
	step.Fail(fmt.Errorf("cherry-pick %s: conflict", c.ShortSHA()))

	fmt.Fprint(o.out, "\nThe commit could not be backported due to conflicts\n\n")

	missing, err := o.CommitsWithoutBackports(ctx, c, targetBranch)
	if err != nil {
		o.log.Warn("could not determine commits without backports", "sha", c.SHA, "error", err)
	} else if len(missing) > 0 {
		fmt.Fprintf(o.out, "Please backport the following commits first:\n%s\n\n", strings.Join(missing, "\n"))
	}

	if err := o.resolveConflicts(ctx); err != nil {
		return err
	}

	step = o.progress.Start("Finalizing cherrypick")
	if err := finish(step, o.repo.FinalizeCherryPick(ctx)); err != nil {
		return fmt.Errorf("finalize cherry-pick %s: %w", c.ShortSHA(), err)
	}
	return nil
}

// cleanup runs on a context detached from cancellation so an interrupted run still
// leaves no feature branch behind. HEAD goes back to original.
func (o *Orchestrator) cleanup(ctx context.Context, branch, original string, failed bool, log *slog.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.cleanupTimeout())
	defer cancel()

	if failed {
		if err := o.repo.AbortCherryPick(cleanupCtx); err != nil {
			log.Warn("failed to abort cherry-pick", "error", err)
		}
	}
	if err := o.repo.DeleteFeatureBranch(cleanupCtx, branch, original); err != nil {
		log.Warn("failed to delete feature branch", "error", err)
	}
}

func (o *Orchestrator) labelSourcePullRequests(ctx context.Context, commits []commit.Commit, log *slog.Logger) {
	if len(o.cfg.SourcePRLabels) == 0 {
		return
	}
	for _, number := range commit.PullNumbers(commits) {
		if err := o.gh.AddLabels(ctx, o.cfg.RepoOwner, o.cfg.RepoName, number, o.cfg.SourcePRLabels); err != nil {
			log.Warn("failed to label source pull request", "number", number, "labels", o.cfg.SourcePRLabels, "error", err)
		}
	}
}
