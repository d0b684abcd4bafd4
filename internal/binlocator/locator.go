// Package binlocator resolves orchestrator executables (the "claude",
// "codex", or other CLI binaries the adapters drive) across PATH, the
// user's login shell, and a fallback list of well-known install locations,
// caching hits for a short TTL so repeated spawns don't re-shell-out.
package binlocator

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const defaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	path       string
	resolvedAt time.Time
}

var (
	mu       sync.Mutex
	cache    = make(map[string]cacheEntry)
	cacheTTL = defaultCacheTTL
)

// Locator resolves a named executable given an ordered list of candidate
// names and a list of fallback absolute paths, trying shell-native lookup,
// then a manual PATH scan, then the fallback list, in that order.
type Locator struct{}

// New returns a Locator. It carries no state of its own — results are
// cached in a package-level table shared across Locators.
func New() *Locator { return &Locator{} }

// Resolve returns the absolute path to the first candidate name that
// resolves via any strategy, or a *BinaryNotFound listing every candidate
// tried. The result is cached for five minutes keyed by candidates[0].
func (l *Locator) Resolve(candidates []string, fallbacks []string) (string, error) {
	if len(candidates) == 0 {
		return "", &BinaryNotFound{Candidates: candidates}
	}
	key := candidates[0]

	if path, ok := cachedPath(key); ok {
		return path, nil
	}

	for _, name := range candidates {
		if path, ok := shellLookup(name); ok {
			store(key, path)
			return path, nil
		}
	}

	for _, name := range candidates {
		if path, ok := manualPathScan(name); ok {
			store(key, path)
			return path, nil
		}
	}

	for _, path := range fallbacks {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			store(key, path)
			return path, nil
		}
	}

	return "", &BinaryNotFound{Candidates: candidates}
}

// cachedPath returns a cached resolution for key if present and either
// still within TTL or still pointing at a file that exists (existence
// check revalidates an expired-but-still-correct entry instead of
// unconditionally evicting it).
func cachedPath(key string) (string, bool) {
	mu.Lock()
	entry, ok := cache[key]
	mu.Unlock()
	if !ok {
		return "", false
	}

	if time.Since(entry.resolvedAt) < cacheTTL {
		return entry.path, true
	}

	if info, err := os.Stat(entry.path); err == nil && !info.IsDir() {
		store(key, entry.path)
		return entry.path, true
	}

	mu.Lock()
	delete(cache, key)
	mu.Unlock()
	return "", false
}

func store(key, path string) {
	mu.Lock()
	cache[key] = cacheEntry{path: path, resolvedAt: time.Now()}
	mu.Unlock()
}

// ClearCache empties the resolution cache. Intended for tests.
func ClearCache() {
	mu.Lock()
	defer mu.Unlock()
	cache = make(map[string]cacheEntry)
}

// SetCacheTTL overrides the cache TTL. Intended for tests; production code
// should rely on the default five-minute window.
func SetCacheTTL(ttl time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	cacheTTL = ttl
}

// manualPathScan walks a PATH looking for an executable file named name,
// trying Windows' PATHEXT suffixes when applicable. It prefers the login
// shell's PATH (which may carry entries from .zshrc/.bashrc the process
// never inherited) and falls back to the process's own. When stdout is
// itself a terminal the process was launched from an interactive shell and
// its PATH is already shell-equivalent, so the login-shell exec is skipped.
func manualPathScan(name string) (string, bool) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		if pathEnv, ok := loginShellPath(); ok {
			if path, found := lookupOnPath(name, pathEnv); found {
				return path, true
			}
		}
	}
	return lookupOnPath(name, os.Getenv("PATH"))
}

func lookupOnPath(name, pathEnv string) (string, bool) {
	if pathEnv == "" {
		return "", false
	}

	suffixes := []string{""}
	if runtime.GOOS == "windows" {
		suffixes = windowsExecSuffixes()
	}

	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		for _, suffix := range suffixes {
			candidate := filepath.Join(dir, name+suffix)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}

func windowsExecSuffixes() []string {
	pathext := os.Getenv("PATHEXT")
	if pathext == "" {
		return []string{".exe", ".cmd", ".bat"}
	}
	return strings.Split(pathext, ";")
}

func lastNonEmptyLine(s string) (string, bool) {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line, true
		}
	}
	return "", false
}
