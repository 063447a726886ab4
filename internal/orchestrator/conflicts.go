package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rancher/backport/internal/git"
)

// resolveConflicts blocks until the working tree has neither conflict markers nor
// unstaged changes, prompting the operator after every probe that finds either.
// There is no attempt limit; only cancellation of ctx or a declined prompt ends it
// early.
func (o *Orchestrator) resolveConflicts(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conflicting, err := o.repo.ConflictingFiles(ctx)
		if err != nil {
			return err
		}
		if len(conflicting) > 0 {
			if err := o.prompt(ctx, conflictingFilesMessage(conflicting)); err != nil {
				return err
			}
			continue
		}

		if err := o.repo.StageUpdated(ctx); err != nil {
			return fmt.Errorf("stage resolved files: %w", err)
		}

		unstaged, err := o.repo.UnstagedFiles(ctx)
		if err != nil {
			return err
		}
		if len(unstaged) > 0 {
			if err := o.prompt(ctx, unstagedFilesMessage(unstaged)); err != nil {
				return err
			}
			continue
		}

		return nil
	}
}

func (o *Orchestrator) prompt(ctx context.Context, message string) error {
	if o.prompter == nil {
		return fmt.Errorf("%w: conflicts need manual resolution but no prompt is available", ErrAborted)
	}
	ok, err := o.prompter.Confirm(ctx, message)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}

func conflictingFilesMessage(files []git.File) string {
	return "Fix the following conflicts manually\n\n" +
		"Conflicting files:\n" + fileList(files) + "\n\n\n" +
		"Press ENTER when the conflicts are resolved and files are staged"
}

func unstagedFilesMessage(files []git.File) string {
	return "Fix the following conflicts manually\n\n\n" +
		"Unstaged files:\n" + fileList(files) + "\n\n" +
		"Press ENTER when the conflicts are resolved and files are staged"
}

func fileList(files []git.File) string {
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, " - "+f.Absolute)
	}
	return strings.Join(lines, "\n")
}
