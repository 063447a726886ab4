package gh

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/rancher/backport/internal/commit"
)

var disallowedBranchChars = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

// BranchNamingOptions controls how backport branch names are generated.
type BranchNamingOptions struct {
	Prefix            string
	MaxLength         int
	HashLength        int
	SanitizeEmptyWith string
}

var defaultBranchNaming = BranchNamingOptions{
	Prefix:            "backport",
	MaxLength:         100,
	HashLength:        8,
	SanitizeEmptyWith: "target",
}

// BranchNameForBackport computes the feature branch for backporting commits to
// targetBranch: backport/<target>/<refs>, where refs joins pr-<number> (or
// commit-<short sha> for commits without a pull request) with underscores. When the
// result exceeds the maximum length the refs segment is shortened with a hash.
func BranchNameForBackport(targetBranch string, commits []commit.Commit, opts ...BranchNamingOptions) string {
	config := defaultBranchNaming
	if len(opts) > 0 {
		o := opts[0]
		if o.Prefix != "" {
			config.Prefix = o.Prefix
		}
		if o.MaxLength > 0 {
			config.MaxLength = o.MaxLength
		}
		if o.HashLength > 0 {
			config.HashLength = o.HashLength
		}
		if o.SanitizeEmptyWith != "" {
			config.SanitizeEmptyWith = o.SanitizeEmptyWith
		}
	}

	target := sanitizeBranchSegment(targetBranch, config)
	refs := refsSegment(commits)
	branch := fmt.Sprintf("%s/%s/%s", config.Prefix, target, refs)
	if len(branch) <= config.MaxLength {
		return branch
	}

	available := config.MaxLength - len(config.Prefix) - 1 - len(target) - 1
	return fmt.Sprintf("%s/%s/%s", config.Prefix, target, shortenSegment(refs, available, config))
}

// PullRequestHead returns the head reference for a pull request opened from branch,
// qualified with the fork owner when there is one.
func PullRequestHead(forkOwner, branch string) string {
	if forkOwner == "" {
		return branch
	}
	return forkOwner + ":" + branch
}

func refsSegment(commits []commit.Commit) string {
	refs := make([]string, 0, len(commits))
	for _, c := range commits {
		if c.PullNumber != 0 {
			refs = append(refs, fmt.Sprintf("pr-%d", c.PullNumber))
			continue
		}
		refs = append(refs, "commit-"+c.ShortSHA())
	}
	return strings.Join(refs, "_")
}

func sanitizeBranchSegment(segment string, config BranchNamingOptions) string {
	segment = strings.TrimSpace(segment)
	segment = strings.ReplaceAll(segment, " ", "-")
	segment = disallowedBranchChars.ReplaceAllString(segment, "-")
	segment = strings.ReplaceAll(segment, "-/-", "/")
	for strings.Contains(segment, "//") {
		segment = strings.ReplaceAll(segment, "//", "/")
	}
	for strings.Contains(segment, "--") {
		segment = strings.ReplaceAll(segment, "--", "-")
	}
	segment = strings.Trim(segment, "-/.")

	if segment == "" {
		return config.SanitizeEmptyWith
	}
	return segment
}

// shortenSegment keeps as much of segment as fits in available and appends an FNV
// hash of the full segment so distinct inputs keep distinct names.
func shortenSegment(segment string, available int, config BranchNamingOptions) string {
	if len(segment) <= available {
		return segment
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(segment))
	hex := fmt.Sprintf("%0*x", config.HashLength, h.Sum32())

	if available <= len(hex)+1 {
		if available < 1 {
			return hex
		}
		if len(hex) > available {
			return hex[:available]
		}
		return hex
	}

	base := strings.TrimRight(segment[:available-len(hex)-1], "-_./")
	if base == "" {
		return hex
	}
	return base + "-" + hex
}
