// Package exclude decides which entry names are skipped during a scan.
package exclude

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Matcher tests entry names against a whole-name regular expression.
// A nil Matcher excludes nothing.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// DefaultPatterns are names a sync should normally leave alone.
func DefaultPatterns() []string {
	return []string{
		`\.DS_Store`,
		`\._.*`,
		`\.pullsync-.*\.tmp`,
	}
}

// New compiles pattern so that it must match an entire name. An empty pattern
// yields a nil Matcher.
func New(pattern string) (*Matcher, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// Combine joins several patterns into a single alternation.
func Combine(patterns []string) string {
	var parts []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts = append(parts, "(?:"+p+")")
	}
	return strings.Join(parts, "|")
}

// Pattern returns the pattern as given to New.
func (m *Matcher) Pattern() string {
	if m == nil {
		return ""
	}
	return m.pattern
}

// MatchName reports whether a single path element is excluded.
func (m *Matcher) MatchName(name string) bool {
	if m == nil {
		return false
	}
	return m.re.MatchString(name)
}

// IsExcluded reports whether relPath or any of its parent directories is excluded.
func (m *Matcher) IsExcluded(relPath string) bool {
	if m == nil {
		return false
	}
	relPath = strings.Trim(path.Clean("/"+strings.ReplaceAll(relPath, "\\", "/")), "/")
	if relPath == "" {
		return false
	}
	for _, part := range strings.Split(relPath, "/") {
		if m.re.MatchString(part) {
			return true
		}
	}
	return false
}
