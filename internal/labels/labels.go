// Package labels derives backport target branches from pull request labels and
// explicitly requested branches.
package labels

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Target is a branch to backport to and where it was requested.
type Target struct {
	// Source is the label name, or "input:<branch>" for explicitly requested branches.
	Source string
	Branch string
}

// Mapping turns labels matching Pattern into a branch. Branch may reference capture
// groups of Pattern ($1, ${name}).
type Mapping struct {
	Pattern string
	Branch  string
}

var errEmptyPrefix = errors.New("label prefix cannot be empty")

// CollectTargets extracts the branch suffix of every label starting with prefix
// (case-insensitive) and returns unique targets in first-seen order.
func CollectTargets(labelNames []string, prefix string) ([]Target, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errEmptyPrefix
	}

	var targets []Target
	seen := make(map[string]struct{})
	for _, name := range labelNames {
		name = strings.TrimSpace(name)
		if len(name) < len(prefix) || !strings.EqualFold(name[:len(prefix)], prefix) {
			continue
		}
		targets = appendUnique(targets, seen, Target{Source: name, Branch: NormalizeBranch(name[len(prefix):])})
	}
	return targets, nil
}

// CollectMappedTargets applies mappings to each label in order; the first mapping
// whose pattern matches decides the branch. The first match in the label is
// replaced by the expanded branch, so anchored patterns yield exactly the branch.
func CollectMappedTargets(labelNames []string, mappings []Mapping) ([]Target, error) {
	compiled := make([]*regexp.Regexp, len(mappings))
	for i, m := range mappings {
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid branch label pattern %q: %w", m.Pattern, err)
		}
		compiled[i] = re
	}

	var targets []Target
	seen := make(map[string]struct{})
	for _, name := range labelNames {
		name = strings.TrimSpace(name)
		for i, re := range compiled {
			loc := re.FindStringSubmatchIndex(name)
			if loc == nil {
				continue
			}
			expanded := re.ExpandString(nil, mappings[i].Branch, name, loc)
			branch := name[:loc[0]] + string(expanded) + name[loc[1]:]
			targets = appendUnique(targets, seen, Target{Source: name, Branch: NormalizeBranch(branch)})
			break
		}
	}
	return targets, nil
}

// FromBranches wraps explicitly requested branches as targets.
func FromBranches(branches []string) []Target {
	var targets []Target
	seen := make(map[string]struct{})
	for _, b := range branches {
		targets = appendUnique(targets, seen, Target{Source: "input:" + strings.TrimSpace(b), Branch: NormalizeBranch(b)})
	}
	return targets
}

func appendUnique(targets []Target, seen map[string]struct{}, t Target) []Target {
	if t.Branch == "" {
		return targets
	}
	if _, ok := seen[t.Branch]; ok {
		return targets
	}
	seen[t.Branch] = struct{}{}
	return append(targets, t)
}

// ValidateTargets ensures each target branch conforms to simple safety checks.
func ValidateTargets(targets []Target) error {
	for _, t := range targets {
		if err := validateBranchName(t.Branch); err != nil {
			return fmt.Errorf("invalid branch %q from %q: %w", t.Branch, t.Source, err)
		}
	}
	return nil
}

func validateBranchName(branch string) error {
	switch {
	case branch == "":
		return errors.New("branch cannot be empty")
	case strings.ContainsAny(branch, " \t\n\r"):
		return errors.New("branch cannot contain whitespace")
	case strings.Contains(branch, ".."):
		return errors.New("branch cannot contain '..'")
	case strings.ContainsAny(branch, "~^:?*[]@{\\"):
		return errors.New("branch contains forbidden git characters")
	case strings.HasPrefix(branch, "-"):
		return errors.New("branch cannot start with '-'")
	}
	return nil
}

// MergeTargets merges groups of targets preserving order and removing duplicate branches.
func MergeTargets(groups ...[]Target) []Target {
	var result []Target
	seen := make(map[string]struct{})
	for _, group := range groups {
		for _, t := range group {
			result = appendUnique(result, seen, t)
		}
	}
	return result
}

// Branches returns the branch names of targets in order.
func Branches(targets []Target) []string {
	branches := make([]string, 0, len(targets))
	for _, t := range targets {
		branches = append(branches, t.Branch)
	}
	return branches
}

// NormalizeBranch trims whitespace and surrounding slashes and strips a refs/heads/
// prefix. It returns an empty string when nothing is left.
func NormalizeBranch(branch string) string {
	const refsHeads = "refs/heads/"

	branch = strings.Trim(strings.TrimSpace(branch), "/")
	if len(branch) >= len(refsHeads) && strings.EqualFold(branch[:len(refsHeads)], refsHeads) {
		branch = branch[len(refsHeads):]
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(branch), "/"))
}
