// Package keymatch implements the small colon-segmented pattern matcher
// described in spec §9: "a small custom matcher over the colon-segmented
// key grammar, not a general regex engine; avoids catastrophic backtracking
// and keeps semantics exact." A '*' segment matches exactly one segment of
// the key; there is no recursive/"**" wildcard and no partial-segment glob.
package keymatch

import "strings"

// Match reports whether key matches pattern under the colon-segmented
// grammar: literal segments separated by ':', with '*' matching a full
// segment. The segment counts must be equal.
func Match(pattern, key string) bool {
	patSegs := strings.Split(pattern, ":")
	keySegs := strings.Split(key, ":")

	if len(patSegs) != len(keySegs) {
		return false
	}
	for i, p := range patSegs {
		if p == "*" {
			continue
		}
		if p != keySegs[i] {
			return false
		}
	}
	return true
}

// HasWildcard reports whether pattern contains at least one '*' segment,
// useful for callers that want to short-circuit exact-match lookups.
func HasWildcard(pattern string) bool {
	for _, seg := range strings.Split(pattern, ":") {
		if seg == "*" {
			return true
		}
	}
	return false
}
