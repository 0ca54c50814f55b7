package model

import "strings"

// MatchAny is the wildcard filter value that matches every type or subject.
const MatchAny = "*"

// MatchTypeFilter reports whether a dotted glob pattern matches an event
// type. The grammar is segment-wise: the pattern and the type are split on
// "." and compared segment by segment, where "*" matches exactly one
// arbitrary segment. A pattern consisting of a single "*" matches any type.
//
//	MatchTypeFilter("a.*", "a.b")    // true
//	MatchTypeFilter("a.*", "a.b.c")  // false (segment counts differ)
//	MatchTypeFilter("*", "a.b.c")    // true
func MatchTypeFilter(pattern, eventType string) bool {
	if pattern == MatchAny {
		return true
	}

	patSegs := strings.Split(pattern, ".")
	typSegs := strings.Split(eventType, ".")
	if len(patSegs) != len(typSegs) {
		return false
	}

	for i, seg := range patSegs {
		if seg == MatchAny {
			continue
		}
		if seg != typSegs[i] {
			return false
		}
	}
	return true
}

// MatchSubjectFilter reports whether a subject filter matches an event
// subject. Subjects are opaque correlation keys, so the filter is either the
// wildcard "*" or an exact string match.
func MatchSubjectFilter(pattern, subject string) bool {
	return pattern == MatchAny || pattern == subject
}

// ValidTypeFilter reports whether a pattern conforms to the dotted glob
// grammar: one or more non-empty segments separated by dots, each segment
// either a literal or the "*" wildcard.
func ValidTypeFilter(pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, seg := range strings.Split(pattern, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}
