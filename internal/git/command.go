package git

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Op identifies one of the git operations the backport engine is allowed to run.
type Op int

const (
	OpFetch Op = iota + 1
	OpCreateBranch
	OpCherryPick
	OpIsAncestor
	OpListConflicts
	OpListUnstaged
	OpStage
	OpFinalize
	OpPush
	OpDeleteBranch
	OpAbortCherryPick
	OpStatus
	OpCurrentRef
	OpListParents
)

var opNames = map[Op]string{
	OpFetch:           "fetch",
	OpCreateBranch:    "create-branch",
	OpCherryPick:      "cherry-pick",
	OpIsAncestor:      "check-ancestry",
	OpListConflicts:   "list-conflicts",
	OpListUnstaged:    "list-unstaged",
	OpStage:           "stage",
	OpFinalize:        "finalize",
	OpPush:            "push",
	OpDeleteBranch:    "delete-branch",
	OpAbortCherryPick: "abort-cherry-pick",
	OpStatus:          "status",
	OpCurrentRef:      "current-ref",
	OpListParents:     "list-parents",
}

// ErrUnknownOperation is returned when a Command carries an op outside the known set.
var ErrUnknownOperation = errors.New("git: unknown operation")

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Network reports whether the op talks to a remote.
func (o Op) Network() bool {
	return o == OpFetch || o == OpPush
}

// ReadOnly reports whether the op only inspects repository state.
func (o Op) ReadOnly() bool {
	switch o {
	case OpIsAncestor, OpListConflicts, OpListUnstaged, OpStatus, OpCurrentRef, OpListParents:
		return true
	default:
		return false
	}
}

// Command is a typed git invocation. Build it with the constructors below; the
// zero value is invalid.
type Command struct {
	Op Op
	// Steps are argv vectors (without the git binary) executed in order.
	Steps [][]string
}

// Validate fails fast for commands that were not built by a constructor.
func (c Command) Validate() error {
	if _, ok := opNames[c.Op]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, c.Op)
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("%w: %s has no arguments", ErrUnknownOperation, c.Op)
	}
	return nil
}

// String renders the command the way it is executed, e.g. "git cherry-pick abc".
func (c Command) String() string {
	parts := make([]string, 0, len(c.Steps))
	for _, step := range c.Steps {
		parts = append(parts, "git "+strings.Join(step, " "))
	}
	return strings.Join(parts, " && ")
}

func newCommand(op Op, steps ...[]string) Command {
	return Command{Op: op, Steps: steps}
}

// Fetch updates the remote-tracking refs of branches in a single round trip.
func Fetch(remote string, branches ...string) Command {
	return newCommand(OpFetch, append([]string{"fetch", remote}, branches...))
}

// CreateBranch (re)creates branch from remote/from without tracking and checks it out.
func CreateBranch(branch, remote, from string) Command {
	return newCommand(OpCreateBranch, []string{"checkout", "-B", branch, remote + "/" + from, "--no-track"})
}

// CherryPick applies sha onto HEAD. A positive mainline selects the parent of a merge commit.
func CherryPick(sha string, mainline int) Command {
	if mainline > 0 {
		return newCommand(OpCherryPick, []string{"cherry-pick", "--mainline", strconv.Itoa(mainline), sha})
	}
	return newCommand(OpCherryPick, []string{"cherry-pick", sha})
}

// IsAncestor checks whether sha is reachable from ref.
func IsAncestor(sha, ref string) Command {
	return newCommand(OpIsAncestor, []string{"merge-base", "--is-ancestor", sha, ref})
}

// ListConflicts reports leftover conflict markers in the working tree.
func ListConflicts() Command {
	return newCommand(OpListConflicts, []string{"--no-pager", "diff", "--check"})
}

// ListUnstaged lists files with unstaged changes.
func ListUnstaged() Command {
	return newCommand(OpListUnstaged, []string{"--no-pager", "diff", "--name-only"})
}

// Stage stages modifications of tracked files.
func Stage() Command {
	return newCommand(OpStage, []string{"add", "--update"})
}

// Finalize commits a resolved cherry-pick with the original message.
func Finalize() Command {
	return newCommand(OpFinalize, []string{"commit", "--no-edit"})
}

// Push force-pushes branch to remote under the same name.
func Push(remote, branch string) Command {
	return newCommand(OpPush, []string{"push", remote, branch + ":" + branch, "--force"})
}

// DeleteBranch checks out restore and deletes the local branch. An empty restore
// detaches HEAD instead.
func DeleteBranch(branch, restore string) Command {
	checkout := []string{"checkout", "--force", "--detach"}
	if restore != "" {
		checkout = []string{"checkout", "--force", restore}
	}
	return newCommand(OpDeleteBranch, checkout, []string{"branch", "-D", branch})
}

// Status lists modified tracked files in porcelain format. Untracked files are
// left out since a cherry-pick never touches them.
func Status() Command {
	return newCommand(OpStatus, []string{"status", "--porcelain", "--untracked-files=no"})
}

// CurrentRef prints the checked out branch, or "HEAD" when detached.
func CurrentRef() Command {
	return newCommand(OpCurrentRef, []string{"rev-parse", "--abbrev-ref", "HEAD"})
}

// HeadSHA prints the commit HEAD points at.
func HeadSHA() Command {
	return newCommand(OpCurrentRef, []string{"rev-parse", "HEAD"})
}

// ListParents prints sha followed by its parent shas.
func ListParents(sha string) Command {
	return newCommand(OpListParents, []string{"rev-list", "--parents", "-n", "1", sha})
}

// AbortCherryPick abandons an in-progress cherry-pick.
func AbortCherryPick() Command {
	return newCommand(OpAbortCherryPick, []string{"cherry-pick", "--abort"})
}
