package orchestrator_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/backport/internal/commit"
	"github.com/rancher/backport/internal/git"
	gh "github.com/rancher/backport/internal/github"
	"github.com/rancher/backport/internal/orchestrator"
)

const (
	conflictPrompt = "Fix the following conflicts manually\n\n" +
		"Conflicting files:\n - /path/to/repo/conflicting-file.txt\n\n\n" +
		"Press ENTER when the conflicts are resolved and files are staged"
	unstagedPrompt = "Fix the following conflicts manually\n\n\n" +
		"Unstaged files:\n - /path/to/repo/conflicting-file.txt\n\n" +
		"Press ENTER when the conflicts are resolved and files are staged"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		cfg      orchestrator.Config
		runner   *fakeRunner
		client   *fakeGHClient
		progress *recordingProgress
		prompter *fakePrompter
		out      *bytes.Buffer
	)

	newOrchestrator := func() *orchestrator.Orchestrator {
		return orchestrator.New(cfg, client, git.NewRepo("/path/to/repo", runner), nil,
			orchestrator.WithProgress(progress),
			orchestrator.WithPrompter(prompter),
			orchestrator.WithOutput(out),
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = orchestrator.Config{
			RepoOwner:      "elastic",
			RepoName:       "kibana",
			UpstreamRemote: "elastic",
			ForkRemote:     "sqren",
			ForkOwner:      "sqren",
			SourceBranch:   "main",
			PRTitle:        "[{targetBranch}] {commitMessages}",
			PRDescription:  "myPrSuffix",
			TargetPRLabels: []string{"backport"},
		}
		runner = &fakeRunner{}
		client = &fakeGHClient{}
		progress = &recordingProgress{}
		prompter = &fakePrompter{}
		out = &bytes.Buffer{}
	})

	Describe("BackportToBranch", func() {
		var commits []commit.Commit

		BeforeEach(func() {
			commits = []commit.Commit{
				{SHA: "mySha", OriginalMessage: "My original commit message (#1000)", PullNumber: 1000},
				{SHA: "mySha2", OriginalMessage: "My other commit message (#2000)", PullNumber: 2000},
			}
		})

		It("cherry-picks, pushes and opens a labelled pull request", func() {
			pr, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(pr).To(Equal(commit.TargetPullRequest{Number: 1337, URL: "myHtmlUrl"}))

			Expect(runner.commands).To(Equal([]string{
				"git status --porcelain --untracked-files=no",
				"git rev-parse --abbrev-ref HEAD",
				"git fetch elastic 6.x main",
				"git checkout -B backport/6.x/pr-1000_pr-2000 elastic/6.x --no-track",
				"git rev-list --parents -n 1 mySha",
				"git cherry-pick mySha",
				"git rev-list --parents -n 1 mySha2",
				"git cherry-pick mySha2",
				"git push sqren backport/6.x/pr-1000_pr-2000:backport/6.x/pr-1000_pr-2000 --force",
				"git checkout --force main && git branch -D backport/6.x/pr-1000_pr-2000",
			}))

			Expect(client.createPRInputs).To(HaveLen(1))
			input := client.createPRInputs[0]
			Expect(input.Title).To(Equal("[6.x] My original commit message (#1000) | My other commit message (#2000)"))
			Expect(input.Head).To(Equal("sqren:backport/6.x/pr-1000_pr-2000"))
			Expect(input.Base).To(Equal("6.x"))
			Expect(input.Body).To(Equal("Backports the following commits to 6.x:\n - #1000\n - #2000\n\nmyPrSuffix"))
			Expect(client.labelCalls).To(Equal(map[int][]string{1337: {"backport"}}))

			Expect(out.String()).To(ContainSubstring("\nBackporting to 6.x:\n"))
			Expect(out.String()).To(ContainSubstring("View pull request: myHtmlUrl"))
		})

		It("reports progress labels in order", func() {
			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(progress.labels).To(Equal([]string{
				"Pulling latest changes",
				"Cherry-picking: My original commit message (#1000)",
				"Cherry-picking: My other commit message (#2000)",
				`Pushing branch "sqren:backport/6.x/pr-1000_pr-2000"`,
				"Creating pull request",
				"Adding labels: backport",
			}))
			Expect(progress.results).To(HaveEach("succeeded"))
		})

		It("names the branch after the sha when there is no pull request", func() {
			commits = []commit.Commit{{SHA: "mySha", OriginalMessage: "My original commit message"}}

			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands).To(ContainElement("git checkout -B backport/6.x/commit-mySha elastic/6.x --no-track"))
			Expect(client.createPRInputs[0].Head).To(Equal("sqren:backport/6.x/commit-mySha"))
			Expect(client.createPRInputs[0].Body).To(Equal("Backports the following commits to 6.x:\n - My original commit message (mySha)\n\nmyPrSuffix"))
		})

		It("passes the mainline for merge commits", func() {
			cfg.Mainline = 1
			_, err := newOrchestrator().BackportToBranch(ctx, commits[:1], "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands).To(ContainElement("git cherry-pick --mainline 1 mySha"))
		})

		It("picks merge commits relative to their first parent", func() {
			runner.parents = map[string]int{"mySha": 2}
			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands).To(ContainElement("git cherry-pick --mainline 1 mySha"))
			Expect(runner.commands).To(ContainElement("git cherry-pick mySha2"))
		})

		It("fetches the source branches of the commits alongside the target", func() {
			commits[0].SourceBranch = "7.x"
			commits[1].SourceBranch = "6.x"
			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands).To(ContainElement("git fetch elastic 6.x 7.x"))
		})

		It("fetches only the target without a known source branch", func() {
			cfg.SourceBranch = ""
			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands).To(ContainElement("git fetch elastic 6.x"))
		})

		It("refuses to touch a working tree with uncommitted changes", func() {
			runner.status = " M src/app.go\n"
			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).To(MatchError(git.ErrUncommittedChanges))
			Expect(err.Error()).To(ContainSubstring("src/app.go"))
			Expect(runner.commands).To(Equal([]string{"git status --porcelain --untracked-files=no"}))
			Expect(progress.labels).To(BeEmpty())
			Expect(client.createPRInputs).To(BeEmpty())
		})

		It("returns to the previously checked out branch", func() {
			runner.currentRef = "release-notes"
			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands[len(runner.commands)-1]).To(Equal("git checkout --force release-notes && git branch -D backport/6.x/pr-1000_pr-2000"))
		})

		It("returns to a detached commit", func() {
			runner.currentRef = "HEAD"
			runner.headSHA = "abc123"
			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands).To(ContainElement("git rev-parse HEAD"))
			Expect(runner.commands[len(runner.commands)-1]).To(Equal("git checkout --force abc123 && git branch -D backport/6.x/pr-1000_pr-2000"))
		})

		It("pushes to the upstream remote without a fork", func() {
			cfg.ForkRemote = ""
			cfg.ForkOwner = ""
			_, err := newOrchestrator().BackportToBranch(ctx, commits[:1], "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.commands).To(ContainElement("git push elastic backport/6.x/pr-1000:backport/6.x/pr-1000 --force"))
			Expect(client.createPRInputs[0].Head).To(Equal("backport/6.x/pr-1000"))
		})

		Context("when the cherry-pick conflicts", func() {
			BeforeEach(func() {
				commits = []commit.Commit{{SHA: "mySha", OriginalMessage: "My original commit message", CommittedDate: "2020-08-15T12:00:00Z"}}
				runner.conflictShas = map[string]bool{"mySha": true}
				runner.conflictingFiles = [][]string{
					{"conflicting-file.txt"},
					{"conflicting-file.txt"},
					{"conflicting-file.txt"},
					{},
				}
				runner.unstagedFiles = [][]string{{"conflicting-file.txt"}, {}}
			})

			It("prompts until conflicts and unstaged files are gone, then finalizes", func() {
				_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
				Expect(err).NotTo(HaveOccurred())

				Expect(prompter.messages).To(Equal([]string{conflictPrompt, conflictPrompt, unstagedPrompt}))
				Expect(runner.commands).To(ContainElement("git add --update"))
				Expect(runner.commands).To(ContainElement("git commit --no-edit"))
				Expect(runner.ran("git cherry-pick --abort")).To(BeFalse())
				Expect(runner.commands[len(runner.commands)-1]).To(Equal("git checkout --force main && git branch -D backport/6.x/commit-mySha"))

				Expect(progress.labels).To(Equal([]string{
					"Pulling latest changes",
					"Cherry-picking: My original commit message",
					"Finalizing cherrypick",
					`Pushing branch "sqren:backport/6.x/commit-mySha"`,
					"Creating pull request",
					"Adding labels: backport",
				}))
				Expect(progress.results[1]).To(Equal("failed"))
				Expect(out.String()).To(ContainSubstring("\nThe commit could not be backported due to conflicts\n"))
			})

			It("queries the history of the conflicting files", func() {
				_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
				Expect(err).NotTo(HaveOccurred())
				Expect(client.historyQueries).To(Equal([]gh.CommitsByPathQuery{{
					RepoOwner:    "elastic",
					RepoName:     "kibana",
					SourceBranch: "main",
					CommitPath:   "conflicting-file.txt",
				}}))
			})

			It("lists earlier commits that still need a backport", func() {
				client.history = map[string][]commit.Commit{
					"conflicting-file.txt": {{
						SHA:             "offendingSha",
						OriginalMessage: "First commit (#1)",
						CommittedDate:   "2020-08-15T10:00:00Z",
						PullNumber:      1,
					}},
				}

				_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
				Expect(err).NotTo(HaveOccurred())
				Expect(out.String()).To(ContainSubstring("Please backport the following commits first:\n - First commit (#1)\n"))
			})

			It("aborts and cleans up when the operator declines", func() {
				prompter.answer = func(int) (bool, error) { return false, nil }

				_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
				Expect(err).To(MatchError(orchestrator.ErrAborted))
				Expect(prompter.messages).To(HaveLen(1))
				Expect(runner.ran("git cherry-pick --abort")).To(BeTrue())
				Expect(runner.ran("git checkout --force main && git branch -D backport/6.x/commit-mySha")).To(BeTrue())
				Expect(runner.ran("git push")).To(BeFalse())
				Expect(client.createPRInputs).To(BeEmpty())
			})

			It("still deletes the branch when cancelled while waiting", func() {
				cctx, cancel := context.WithCancel(ctx)
				defer cancel()
				prompter.answer = func(int) (bool, error) {
					cancel()
					return false, cctx.Err()
				}

				_, err := newOrchestrator().BackportToBranch(cctx, commits, "6.x")
				Expect(errors.Is(err, context.Canceled)).To(BeTrue())
				Expect(runner.ran("git checkout --force main && git branch -D backport/6.x/commit-mySha")).To(BeTrue())
			})

			It("fails without a prompter", func() {
				o := orchestrator.New(cfg, client, git.NewRepo("/path/to/repo", runner), nil)
				_, err := o.BackportToBranch(ctx, commits, "6.x")
				Expect(err).To(MatchError(orchestrator.ErrAborted))
				Expect(runner.ran("git checkout --force main && git branch -D backport/6.x/commit-mySha")).To(BeTrue())
			})
		})

		It("fails on cherry-pick errors that are not conflicts", func() {
			runner.failures = map[git.Op]error{
				git.OpCherryPick: &git.ExecError{Cmd: "git cherry-pick mySha", ExitCode: 128, Stderr: "fatal: bad object mySha", Err: errors.New("exit status 128")},
			}

			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("fatal: bad object mySha"))
			Expect(prompter.messages).To(BeEmpty())
			Expect(runner.ran("git checkout --force main && git branch -D")).To(BeTrue())
		})

		It("deletes the feature branch when the push fails", func() {
			runner.failures = map[git.Op]error{
				git.OpPush: &git.ExecError{Cmd: "git push", ExitCode: 128, Stderr: "remote rejected", Err: errors.New("exit status 128")},
			}

			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("remote rejected"))
			Expect(runner.commands[len(runner.commands)-1]).To(Equal("git checkout --force main && git branch -D backport/6.x/pr-1000_pr-2000"))
			Expect(client.createPRInputs).To(BeEmpty())
		})

		It("deletes the feature branch when publishing fails", func() {
			client.createPRErr = errors.New("boom")

			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).To(MatchError(ContainSubstring("boom")))
			Expect(runner.commands[len(runner.commands)-1]).To(Equal("git checkout --force main && git branch -D backport/6.x/pr-1000_pr-2000"))
		})

		It("does not create a branch when fetching fails", func() {
			runner.failures = map[git.Op]error{git.OpFetch: errors.New("network down")}

			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).To(MatchError(ContainSubstring("network down")))
			Expect(runner.commands).To(Equal([]string{
				"git status --porcelain --untracked-files=no",
				"git rev-parse --abbrev-ref HEAD",
				"git fetch elastic 6.x main",
			}))
			Expect(progress.results).To(Equal([]string{"failed"}))
		})

		It("reuses an open pull request for the same head", func() {
			client.createPRErr = fmt.Errorf("create: %w", gh.ErrPullRequestExists)
			client.existingPR = &commit.TargetPullRequest{Number: 7, URL: "https://github.com/elastic/kibana/pull/7"}

			pr, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(pr.Number).To(Equal(7))
			Expect(client.labelCalls[7]).To(Equal([]string{"backport"}))
		})

		It("keeps the pull request when labelling fails", func() {
			client.labelErr = errors.New("label boom")

			pr, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(pr.Number).To(Equal(1337))
			Expect(progress.labels[len(progress.labels)-1]).To(Equal("Adding labels: backport"))
			Expect(progress.results[len(progress.results)-1]).To(Equal("failed"))
		})

		It("adds assignees and labels the source pull requests", func() {
			cfg.Assignees = []string{"sqren"}
			cfg.SourcePRLabels = []string{"backport-done"}

			_, err := newOrchestrator().BackportToBranch(ctx, commits, "6.x")
			Expect(err).NotTo(HaveOccurred())
			Expect(progress.labels).To(ContainElement("Adding assignees: sqren"))
			Expect(client.assigneeCalls).To(Equal(map[int][]string{1337: {"sqren"}}))
			Expect(client.labelCalls[1000]).To(Equal([]string{"backport-done"}))
			Expect(client.labelCalls[2000]).To(Equal([]string{"backport-done"}))
		})
	})

	Describe("CommitsWithoutBackports", func() {
		var (
			current   commit.Commit
			offending commit.Commit
		)

		BeforeEach(func() {
			current = commit.Commit{SHA: "currentSha", OriginalMessage: "Current commit (#2)", CommittedDate: "2020-08-15T12:00:00Z", SourceBranch: "main"}
			offending = commit.Commit{
				SHA:             "offendingSha",
				OriginalMessage: "First commit (#1)",
				CommittedDate:   "2020-08-15T10:00:00Z",
				PullNumber:      1,
				ExpectedTargetPullRequests: []commit.ExpectedTargetPullRequest{
					{Branch: "7.x", State: commit.StateOpen},
				},
			}
			runner.conflictingFiles = [][]string{{"conflicting-file.txt"}}
		})

		missing := func(target string) []string {
			client.history = map[string][]commit.Commit{"conflicting-file.txt": {offending}}
			lines, err := newOrchestrator().CommitsWithoutBackports(ctx, current, target)
			Expect(err).NotTo(HaveOccurred())
			return lines
		}

		It("marks a pending backport to the same branch", func() {
			Expect(missing("7.x")).To(Equal([]string{" - First commit (#1) (backport pending)"}))
			Expect(runner.commands).To(ContainElement("git merge-base --is-ancestor offendingSha elastic/7.x"))
		})

		It("does not mark backports to other branches as pending", func() {
			Expect(missing("8.x")).To(Equal([]string{" - First commit (#1)"}))
		})

		It("treats a merged backport as done", func() {
			offending.ExpectedTargetPullRequests[0].State = commit.StateMerged
			Expect(missing("7.x")).To(BeEmpty())
		})

		It("tolerates several recorded backports for the branch", func() {
			offending.ExpectedTargetPullRequests = append(offending.ExpectedTargetPullRequests,
				commit.ExpectedTargetPullRequest{Branch: "7.x", State: commit.StateMerged})
			Expect(missing("7.x")).To(BeEmpty())
		})

		It("ignores commits that are not older", func() {
			offending.CommittedDate = "2020-08-15T12:00:00Z"
			Expect(missing("7.x")).To(BeEmpty())

			runner.conflictChecks = 0
			offending.CommittedDate = "2020-08-16T10:00:00Z"
			Expect(missing("7.x")).To(BeEmpty())
		})

		It("trusts the branch over the recorded pull request state", func() {
			runner.ancestors = map[string]bool{"offendingSha": true}
			Expect(missing("7.x")).To(BeEmpty())
		})

		It("prints the pull request url for commits without a pull number", func() {
			offending.PullNumber = 0
			offending.PullURL = "https://www.github.com/foo"
			Expect(missing("7.x")).To(Equal([]string{" - First commit (#1) (backport pending)\n   https://www.github.com/foo"}))
		})

		It("prints the pull request url next to the pull number", func() {
			offending.PullURL = "https://github.com/elastic/kibana/pull/1"
			Expect(missing("8.x")).To(Equal([]string{" - First commit (#1)\n   https://github.com/elastic/kibana/pull/1"}))
		})

		It("skips the commit being backported", func() {
			offending.SHA = current.SHA
			Expect(missing("7.x")).To(BeEmpty())
		})

		It("returns nothing without conflicting files", func() {
			runner.conflictingFiles = nil
			Expect(missing("7.x")).To(BeEmpty())
			Expect(client.historyQueries).To(BeEmpty())
		})
	})

	Describe("Run", func() {
		var commits []commit.Commit

		BeforeEach(func() {
			commits = []commit.Commit{{SHA: "mySha", OriginalMessage: "Fix (#1000)", PullNumber: 1000}}
		})

		It("records a status per target", func() {
			client.missingBranches = map[string]bool{"5.x": true}
			commits[0].ExpectedTargetPullRequests = []commit.ExpectedTargetPullRequest{
				{Branch: "7.x", State: commit.StateMerged, Number: 10},
				{Branch: "7.10", State: commit.StateOpen, Number: 11, URL: "https://github.com/elastic/kibana/pull/11"},
			}

			result, err := newOrchestrator().Run(ctx, commits, []string{"5.x", "7.x", "7.10", "6.x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Targets).To(HaveLen(4))

			Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusSkippedNoBranch))
			Expect(result.Targets[1].Status).To(Equal(orchestrator.TargetStatusSkippedBackported))
			Expect(result.Targets[2].Status).To(Equal(orchestrator.TargetStatusSkippedExistingPR))
			Expect(result.Targets[2].ExistingPR).NotTo(BeNil())
			Expect(result.Targets[2].ExistingPR.Number).To(Equal(11))
			Expect(result.Targets[3].Status).To(Equal(orchestrator.TargetStatusSucceeded))
			Expect(result.Targets[3].PullRequest).To(Equal(&commit.TargetPullRequest{Number: 1337, URL: "myHtmlUrl"}))
			Expect(result.Failed()).To(BeFalse())
			Expect(client.createPRInputs).To(HaveLen(1))
		})

		It("keeps going after a failed target", func() {
			client.createPRErr = errors.New("boom")

			result, err := newOrchestrator().Run(ctx, commits, []string{"6.x", "7.x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Targets).To(HaveLen(2))
			Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusFailed))
			Expect(result.Targets[0].Reason).To(ContainSubstring("boom"))
			Expect(result.Targets[1].Status).To(Equal(orchestrator.TargetStatusFailed))
			Expect(result.Failed()).To(BeTrue())
			Expect(client.createPRInputs).To(HaveLen(2))
		})

		It("marks dry runs", func() {
			cfg.DryRun = true
			result, err := newOrchestrator().Run(ctx, commits, []string{"6.x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusDryRun))
		})

		It("fails remaining targets after cancellation", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			result, err := newOrchestrator().Run(cctx, commits, []string{"6.x", "7.x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Targets).To(HaveEach(HaveField("Status", orchestrator.TargetStatusFailed)))
			Expect(runner.commands).To(BeEmpty())
		})

		It("rejects an empty commit list", func() {
			_, err := newOrchestrator().Run(ctx, nil, []string{"6.x"})
			Expect(err).To(HaveOccurred())
		})
	})
})
