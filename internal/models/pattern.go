package models

import "strings"

// Pattern is one include or exclude glob rule with an optional comment.
type Pattern struct {
	Include bool
	Pattern string
	Comment string
}

// IsWildcard reports whether the glob contains any wildcard character.
func (p Pattern) IsWildcard() bool {
	return strings.ContainsAny(p.Pattern, "*?[")
}

// IsRootAgnostic reports whether the glob applies regardless of filesystem
// root, i.e. starts with the universal double-wildcard prefix.
func (p Pattern) IsRootAgnostic() bool {
	return strings.HasPrefix(p.Pattern, "**")
}
