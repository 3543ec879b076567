package walker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWalkVisitsAllInLexicalOrder(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"), "a")
	mustWriteFile(t, filepath.Join(root, "b", "c.txt"), "c")
	mustWriteFile(t, filepath.Join(root, "b", "d.txt"), "d")

	var paths []string
	err := Walk(root, AlwaysMatch, func(e Entry) error {
		if e.Err != nil {
			t.Fatalf("unexpected entry error: %v", e.Err)
		}
		if e.Path != "" {
			paths = append(paths, e.Path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() failed: %v", err)
	}

	want := []string{"a.txt", "b", "b/c.txt", "b/d.txt"}
	if len(paths) != len(want) {
		t.Fatalf("got %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("got %v, want %v", paths, want)
		}
	}
}

func TestWalkExcludesMatchedDirectoryEntirely(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "keep.txt"), "k")
	mustWriteFile(t, filepath.Join(root, "cache", "temp.bin"), "t")

	matcher := NewPatternMatcher([]string{"cache"})

	var paths []string
	err := Walk(root, matcher, func(e Entry) error {
		if e.Path != "" {
			paths = append(paths, e.Path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() failed: %v", err)
	}
	for _, p := range paths {
		if p == "cache" || p == "cache/temp.bin" {
			t.Fatalf("expected cache/ excluded, got %v", paths)
		}
	}
}

func TestPatternMatcherIncludeCarveOut(t *testing.T) {
	matcher := NewPatternMatcher([]string{"*.log", "!important.log"})
	if matcher.Match("debug.log") {
		t.Error("debug.log should be excluded")
	}
	if !matcher.Match("important.log") {
		t.Error("important.log should be included via carve-out")
	}
	if !matcher.Match("notes.txt") {
		t.Error("notes.txt should be included (no matching rule)")
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
}
