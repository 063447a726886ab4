package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// File is a path reported by a working tree probe.
type File struct {
	// Relative is the path relative to the repository root, as git prints it.
	Relative string
	// Absolute is Relative joined onto the repository directory.
	Absolute string
}

// Repo wraps a Runner with typed probes and operations on one working tree.
type Repo struct {
	Dir    string
	Runner Runner
}

// NewRepo returns a Repo for the working tree at dir.
func NewRepo(dir string, runner Runner) *Repo {
	return &Repo{Dir: dir, Runner: runner}
}

// ErrUncommittedChanges is returned when the working tree has modifications a
// backport would overwrite or sweep into its commits.
var ErrUncommittedChanges = errors.New("working tree has uncommitted changes")

var conflictMarkerLine = regexp.MustCompile(`^(.+?):\d+: leftover conflict marker`)

// Fetch pulls the latest state of branches from remote.
func (r *Repo) Fetch(ctx context.Context, remote string, branches ...string) error {
	_, err := r.Runner.Run(ctx, Fetch(remote, branches...))
	return err
}

// EnsureClean fails with ErrUncommittedChanges when tracked files are modified or staged.
func (r *Repo) EnsureClean(ctx context.Context) error {
	out, err := r.Runner.Run(ctx, Status())
	if err != nil {
		return fmt.Errorf("check working tree: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(out.Stdout, "\n") {
		if len(line) > 3 {
			paths = append(paths, strings.TrimSpace(line[3:]))
		}
	}
	if len(paths) > 0 {
		return fmt.Errorf("%w: %s", ErrUncommittedChanges, strings.Join(paths, ", "))
	}
	return nil
}

// CurrentRef returns the checked out branch name, or the commit sha when HEAD is
// detached. It is empty when the runner reports nothing.
func (r *Repo) CurrentRef(ctx context.Context) (string, error) {
	out, err := r.Runner.Run(ctx, CurrentRef())
	if err != nil {
		return "", fmt.Errorf("resolve current branch: %w", err)
	}
	ref := strings.TrimSpace(out.Stdout)
	if ref != "HEAD" {
		return ref, nil
	}
	out, err = r.Runner.Run(ctx, HeadSHA())
	if err != nil {
		return "", fmt.Errorf("resolve current commit: %w", err)
	}
	return strings.TrimSpace(out.Stdout), nil
}

// CreateFeatureBranch checks out branch freshly created from remote/from.
func (r *Repo) CreateFeatureBranch(ctx context.Context, branch, remote, from string) error {
	_, err := r.Runner.Run(ctx, CreateBranch(branch, remote, from))
	return err
}

// CherryPick applies sha. A conflict (git exit code 1) is reported through the
// boolean rather than as an error. Without an explicit mainline, merge commits
// are picked relative to their first parent.
func (r *Repo) CherryPick(ctx context.Context, sha string, mainline int) (bool, error) {
	if mainline <= 0 {
		parents, err := r.parentCount(ctx, sha)
		if err != nil {
			return false, err
		}
		if parents > 1 {
			mainline = 1
		}
	}
	_, err := r.Runner.Run(ctx, CherryPick(sha, mainline))
	if err == nil {
		return false, nil
	}
	var execErr *ExecError
	if errors.As(err, &execErr) && execErr.ExitCode == 1 {
		return true, nil
	}
	return false, err
}

func (r *Repo) parentCount(ctx context.Context, sha string) (int, error) {
	out, err := r.Runner.Run(ctx, ListParents(sha))
	if err != nil {
		return 0, fmt.Errorf("list parents of %s: %w", sha, err)
	}
	fields := strings.Fields(out.Stdout)
	if len(fields) == 0 {
		return 0, nil
	}
	return len(fields) - 1, nil
}

// IsCommitInBranch reports whether sha is an ancestor of ref.
func (r *Repo) IsCommitInBranch(ctx context.Context, sha, ref string) (bool, error) {
	_, err := r.Runner.Run(ctx, IsAncestor(sha, ref))
	if err == nil {
		return true, nil
	}
	var execErr *ExecError
	if errors.As(err, &execErr) && execErr.ExitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check ancestry of %s in %s: %w", sha, ref, err)
}

// ConflictingFiles lists files that still contain conflict markers, one entry per
// file in first-seen order.
func (r *Repo) ConflictingFiles(ctx context.Context) ([]File, error) {
	out, err := r.Runner.Run(ctx, ListConflicts())
	stdout := out.Stdout
	if err != nil {
		var execErr *ExecError
		if !errors.As(err, &execErr) || execErr.ExitCode != 2 {
			return nil, fmt.Errorf("list conflicting files: %w", err)
		}
		stdout = execErr.Stdout
	}

	var paths []string
	for _, line := range strings.Split(stdout, "\n") {
		m := conflictMarkerLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		paths = append(paths, m[1])
	}
	return r.files(paths), nil
}

// UnstagedFiles lists files with modifications that are not staged.
func (r *Repo) UnstagedFiles(ctx context.Context) ([]File, error) {
	out, err := r.Runner.Run(ctx, ListUnstaged())
	if err != nil {
		return nil, fmt.Errorf("list unstaged files: %w", err)
	}
	return r.files(strings.Split(out.Stdout, "\n")), nil
}

// StageUpdated stages every modified tracked file.
func (r *Repo) StageUpdated(ctx context.Context) error {
	_, err := r.Runner.Run(ctx, Stage())
	return err
}

// FinalizeCherryPick commits the resolved cherry-pick.
func (r *Repo) FinalizeCherryPick(ctx context.Context) error {
	_, err := r.Runner.Run(ctx, Finalize())
	return err
}

// PushFeatureBranch force-pushes branch to remote.
func (r *Repo) PushFeatureBranch(ctx context.Context, remote, branch string) error {
	_, err := r.Runner.Run(ctx, Push(remote, branch))
	return err
}

// DeleteFeatureBranch checks out restore and removes the local branch.
func (r *Repo) DeleteFeatureBranch(ctx context.Context, branch, restore string) error {
	_, err := r.Runner.Run(ctx, DeleteBranch(branch, restore))
	return err
}

// AbortCherryPick abandons an in-progress cherry-pick. It succeeds when none is in progress.
func (r *Repo) AbortCherryPick(ctx context.Context) error {
	_, err := r.Runner.Run(ctx, AbortCherryPick())
	if err == nil {
		return nil
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		combined := strings.ToLower(execErr.Stdout + execErr.Stderr)
		if strings.Contains(combined, "no cherry-pick") {
			return nil
		}
	}
	return err
}

func (r *Repo) files(paths []string) []File {
	seen := make(map[string]struct{}, len(paths))
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		files = append(files, File{Relative: p, Absolute: filepath.Join(r.Dir, p)})
	}
	return files
}
