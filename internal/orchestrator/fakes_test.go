package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rancher/backport/internal/commit"
	"github.com/rancher/backport/internal/git"
	gh "github.com/rancher/backport/internal/github"
	"github.com/rancher/backport/internal/orchestrator"
)

// fakeRunner answers git commands from scripted state and records their text.
type fakeRunner struct {
	commands []string

	conflictingFiles [][]string
	unstagedFiles    [][]string
	conflictShas     map[string]bool
	ancestors        map[string]bool
	failures         map[git.Op]error
	parents          map[string]int
	status           string
	currentRef       string
	headSHA          string

	conflictChecks int
	unstagedChecks int
}

func (f *fakeRunner) Run(_ context.Context, cmd git.Command) (git.Output, error) {
	if err := cmd.Validate(); err != nil {
		return git.Output{}, err
	}
	f.commands = append(f.commands, cmd.String())

	if err, ok := f.failures[cmd.Op]; ok {
		return git.Output{}, err
	}

	switch cmd.Op {
	case git.OpStatus:
		return git.Output{Stdout: f.status}, nil
	case git.OpCurrentRef:
		if cmd.Steps[0][1] != "--abbrev-ref" {
			return git.Output{Stdout: f.headSHA + "\n"}, nil
		}
		if f.currentRef == "" {
			return git.Output{Stdout: "main\n"}, nil
		}
		return git.Output{Stdout: f.currentRef + "\n"}, nil
	case git.OpListParents:
		sha := cmd.Steps[0][len(cmd.Steps[0])-1]
		n := f.parents[sha]
		if n == 0 {
			n = 1
		}
		fields := []string{sha}
		for i := 0; i < n; i++ {
			fields = append(fields, fmt.Sprintf("parent%d", i))
		}
		return git.Output{Stdout: strings.Join(fields, " ") + "\n"}, nil
	case git.OpCherryPick:
		sha := cmd.Steps[0][len(cmd.Steps[0])-1]
		if f.conflictShas[sha] {
			return git.Output{}, &git.ExecError{Cmd: cmd.String(), ExitCode: 1, Err: errors.New("exit status 1")}
		}
	case git.OpIsAncestor:
		if !f.ancestors[cmd.Steps[0][2]] {
			return git.Output{}, &git.ExecError{Cmd: cmd.String(), ExitCode: 1, Err: errors.New("exit status 1")}
		}
	case git.OpListConflicts:
		files := next(f.conflictingFiles, f.conflictChecks)
		f.conflictChecks++
		if len(files) == 0 {
			return git.Output{}, nil
		}
		var b strings.Builder
		for _, file := range files {
			b.WriteString(file + ":1: leftover conflict marker\n")
			b.WriteString(file + ":3: leftover conflict marker\n")
		}
		return git.Output{}, &git.ExecError{Cmd: cmd.String(), ExitCode: 2, Stdout: b.String(), Err: errors.New("exit status 2")}
	case git.OpListUnstaged:
		files := next(f.unstagedFiles, f.unstagedChecks)
		f.unstagedChecks++
		return git.Output{Stdout: strings.Join(files, "\n")}, nil
	}
	return git.Output{}, nil
}

func (f *fakeRunner) ran(prefix string) bool {
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func next(seq [][]string, i int) []string {
	if i < len(seq) {
		return seq[i]
	}
	return nil
}

type fakeGHClient struct {
	missingBranches map[string]bool
	history         map[string][]commit.Commit
	historyQueries  []gh.CommitsByPathQuery

	createPRInputs []gh.CreatePROptions
	createPRReturn commit.TargetPullRequest
	createPRErr    error
	existingPR     *commit.TargetPullRequest

	labelCalls    map[int][]string
	labelErr      error
	assigneeCalls map[int][]string
}

func (f *fakeGHClient) GetPullRequest(context.Context, string, string, int) (gh.PullRequest, error) {
	return gh.PullRequest{}, errors.New("not implemented")
}

func (f *fakeGHClient) GetCommit(context.Context, string, string, string) (commit.Commit, error) {
	return commit.Commit{}, errors.New("not implemented")
}

func (f *fakeGHClient) CommitsByPath(_ context.Context, query gh.CommitsByPathQuery) ([]commit.Commit, error) {
	f.historyQueries = append(f.historyQueries, query)
	return f.history[query.CommitPath], nil
}

func (f *fakeGHClient) EnsureBranchExists(_ context.Context, _, _ string, branch string) error {
	if f.missingBranches[branch] {
		return gh.ErrBranchNotFound
	}
	return nil
}

func (f *fakeGHClient) CreatePullRequest(_ context.Context, _, _ string, input gh.CreatePROptions) (commit.TargetPullRequest, error) {
	f.createPRInputs = append(f.createPRInputs, input)
	if f.createPRErr != nil {
		return commit.TargetPullRequest{}, f.createPRErr
	}
	if f.createPRReturn.URL == "" {
		return commit.TargetPullRequest{Number: 1337, URL: "myHtmlUrl"}, nil
	}
	return f.createPRReturn, nil
}

func (f *fakeGHClient) FindPullRequest(context.Context, string, string, string, string) (commit.TargetPullRequest, bool, error) {
	if f.existingPR == nil {
		return commit.TargetPullRequest{}, false, nil
	}
	return *f.existingPR, true, nil
}

func (f *fakeGHClient) AddLabels(_ context.Context, _, _ string, number int, labels []string) error {
	if f.labelCalls == nil {
		f.labelCalls = map[int][]string{}
	}
	f.labelCalls[number] = append(f.labelCalls[number], labels...)
	return f.labelErr
}

func (f *fakeGHClient) AddAssignees(_ context.Context, _, _ string, number int, assignees []string) error {
	if f.assigneeCalls == nil {
		f.assigneeCalls = map[int][]string{}
	}
	f.assigneeCalls[number] = append(f.assigneeCalls[number], assignees...)
	return nil
}

func (f *fakeGHClient) CommentOnPullRequest(context.Context, string, string, int, string) error {
	return nil
}

func (f *fakeGHClient) ListPullRequestComments(context.Context, string, string, int) ([]gh.IssueComment, error) {
	return nil, nil
}

func (f *fakeGHClient) UpdateComment(context.Context, string, string, int64, string) error {
	return nil
}

// recordingProgress keeps the label of every started step and how it ended.
type recordingProgress struct {
	labels  []string
	results []string
}

func (p *recordingProgress) Start(label string) orchestrator.Step {
	p.labels = append(p.labels, label)
	p.results = append(p.results, "")
	return &recordingStep{progress: p, index: len(p.labels) - 1}
}

type recordingStep struct {
	progress *recordingProgress
	index    int
}

func (s *recordingStep) Succeed() { s.progress.results[s.index] = "succeeded" }

func (s *recordingStep) Fail(error) { s.progress.results[s.index] = "failed" }

type fakePrompter struct {
	messages []string
	answer   func(n int) (bool, error)
}

func (p *fakePrompter) Confirm(_ context.Context, message string) (bool, error) {
	p.messages = append(p.messages, message)
	if p.answer != nil {
		return p.answer(len(p.messages))
	}
	return true, nil
}
