// Package walker recursively enumerates a filesystem tree, handing
// each entry to an injected Matcher before it is archived.
package walker

import (
	"io/fs"
	"path/filepath"

	"github.com/coldvault/coldvault/internal/itemtype"
)

// Matcher decides whether path (relative to the walk root, forward-
// slash separated) should be included. Pattern syntax is the
// Matcher's business; the walker only calls Match.
type Matcher interface {
	Match(path string) bool
}

// MatcherFunc adapts a function to a Matcher.
type MatcherFunc func(path string) bool

func (f MatcherFunc) Match(path string) bool { return f(path) }

// AlwaysMatch includes every path.
var AlwaysMatch Matcher = MatcherFunc(func(string) bool { return true })

// Entry is one filesystem object discovered by Walk.
type Entry struct {
	// Path is relative to the walk root, forward-slash separated, with
	// no leading separator; the root itself is "".
	Path string
	Abs  string
	Info fs.FileInfo
	Kind itemtype.Kind
	Err  error
}

// Visit is called once per Entry, in a deterministic, depth-first,
// lexically-sorted order (the order fs.WalkDir itself guarantees).
// Returning an error from Visit aborts the walk and is propagated out
// of Walk, except fs.SkipDir/fs.SkipAll which behave as in WalkDir.
type Visit func(Entry) error

// Walk enumerates root's tree. Entries excluded by matcher are never
// passed to visit; an excluded directory is not descended into.
func Walk(root string, matcher Matcher, visit Visit) error {
	if matcher == nil {
		matcher = AlwaysMatch
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			rel = ""
		}

		if err != nil {
			return visit(Entry{Path: rel, Abs: path, Err: err})
		}

		if rel != "" && !matcher.Match(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return visit(Entry{Path: rel, Abs: path, Err: infoErr})
		}

		return visit(Entry{
			Path: rel,
			Abs:  path,
			Info: info,
			Kind: itemtype.Decide(info.Mode()),
		})
	})
}
