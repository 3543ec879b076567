package walker

import (
	"strings"

	"github.com/ryanuber/go-glob"
)

// patternKind distinguishes an include rule, which re-admits a path an
// earlier exclude rejected, from a plain exclude.
type patternKind int

const (
	kindExclude patternKind = iota
	kindInclude
)

type rule struct {
	kind    patternKind
	pattern string
}

// PatternMatcher implements Matcher over an ordered list of shell-glob
// patterns, borgbackup-style: `!pattern` is an include carve-out, a
// bare pattern is an exclude, and rules are evaluated in order with
// the last matching rule winning. A path matches a pattern either
// directly or via any of its parent directories, so excluding a
// directory excludes everything beneath it.
type PatternMatcher struct {
	rules []rule
}

// NewPatternMatcher parses patterns in the order given. A leading '!'
// marks an include; a leading '\!' is an escaped literal '!'.
func NewPatternMatcher(patterns []string) *PatternMatcher {
	pm := &PatternMatcher{}
	for _, p := range patterns {
		switch {
		case strings.HasPrefix(p, "!"):
			pm.rules = append(pm.rules, rule{kind: kindInclude, pattern: p[1:]})
		case strings.HasPrefix(p, `\!`):
			pm.rules = append(pm.rules, rule{kind: kindExclude, pattern: p[1:]})
		default:
			pm.rules = append(pm.rules, rule{kind: kindExclude, pattern: p})
		}
	}
	return pm
}

// Match reports whether path should be included.
func (pm *PatternMatcher) Match(path string) bool {
	included := true
	for _, r := range pm.rules {
		if !pathMatches(r.pattern, path) {
			continue
		}
		included = r.kind == kindInclude
	}
	return included
}

func pathMatches(pattern, path string) bool {
	if glob.Glob(pattern, path) {
		return true
	}
	segments := strings.Split(path, "/")
	for i := range segments {
		if glob.Glob(pattern, strings.Join(segments[:i+1], "/")) {
			return true
		}
	}
	return false
}
