package domain

import (
	"context"
	"fmt"
	"strings"
)

// Group is a capability group: the tools of one external service family,
// enabled or disabled together.
type Group string

const (
	GroupJira       Group = "jira"       // issue tracking
	GroupConfluence Group = "confluence" // wiki
	GroupGitHub     Group = "github"     // source hosting
	GroupGitLab     Group = "gitlab"     // source hosting
	GroupScripting  Group = "scripting"  // local command execution
)

// AllGroups lists every group in canonical order.
var AllGroups = []Group{GroupJira, GroupConfluence, GroupGitHub, GroupGitLab, GroupScripting}

// ParseGroup converts a configuration name into a Group.
func ParseGroup(s string) (Group, error) {
	name := Group(strings.ToLower(strings.TrimSpace(s)))
	for _, g := range AllGroups {
		if g == name {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown tool group %q", s)
}

// HandlerFunc executes one tool against its collaborator.
// It receives arguments that already passed schema validation and returns
// a payload that is serialized into the success envelope.
type HandlerFunc func(ctx context.Context, args Arguments) (interface{}, error)
