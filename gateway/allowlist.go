package gateway

import (
	"path/filepath"
	"sync"
)

// AllowList is the insert-only set of files the UI has been granted.
type AllowList struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

func NewAllowList() *AllowList {
	return &AllowList{paths: make(map[string]struct{})}
}

// Allow registers path. It must be called before the path is referenced by
// the gateway or an export.
func (a *AllowList) Allow(path string) {
	key := canonical(path)
	a.mu.Lock()
	a.paths[key] = struct{}{}
	a.mu.Unlock()
}

func (a *AllowList) IsAllowed(path string) bool {
	if path == "" {
		return false
	}
	key := canonical(path)
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.paths[key]
	return ok
}

func (a *AllowList) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.paths)
}

// canonical normalizes path so lexically different spellings of the same
// file compare equal. Symlinks are resolved when the file exists.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// within reports whether target lies strictly inside dir. Both must already
// be canonical.
func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !hasParentPrefix(rel)
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && rel[2] == filepath.Separator
}
