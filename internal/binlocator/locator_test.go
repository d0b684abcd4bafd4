package binlocator

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestResolveViaFallback(t *testing.T) {
	ClearCache()

	dir := t.TempDir()
	fallback := filepath.Join(dir, "mytool")
	if err := os.WriteFile(fallback, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write fallback binary: %v", err)
	}

	l := New()
	path, err := l.Resolve([]string{"definitely-not-a-real-binary-xyz"}, []string{fallback})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if path != fallback {
		t.Errorf("path = %q, want %q", path, fallback)
	}
}

func TestResolveNotFound(t *testing.T) {
	ClearCache()

	l := New()
	_, err := l.Resolve([]string{"definitely-not-a-real-binary-xyz"}, nil)
	if err == nil {
		t.Fatal("expected BinaryNotFound error")
	}
	var notFound *BinaryNotFound
	if !asBinaryNotFound(err, &notFound) {
		t.Fatalf("error = %v, want *BinaryNotFound", err)
	}
}

func asBinaryNotFound(err error, target **BinaryNotFound) bool {
	if bnf, ok := err.(*BinaryNotFound); ok {
		*target = bnf
		return true
	}
	return false
}

func TestResolveCachesResult(t *testing.T) {
	ClearCache()

	dir := t.TempDir()
	fallback := filepath.Join(dir, "cachedtool")
	if err := os.WriteFile(fallback, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write fallback binary: %v", err)
	}

	l := New()
	first, err := l.Resolve([]string{"cachedtool-candidate"}, []string{fallback})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Remove the fallback; a cached hit should still resolve without
	// re-checking the filesystem until the TTL elapses.
	if err := os.Remove(fallback); err != nil {
		t.Fatalf("remove fallback: %v", err)
	}

	second, err := l.Resolve([]string{"cachedtool-candidate"}, []string{fallback})
	if err != nil {
		t.Fatalf("Resolve (cached) failed: %v", err)
	}
	if second != first {
		t.Errorf("cached path = %q, want %q", second, first)
	}
}

func TestClearCache(t *testing.T) {
	ClearCache()

	dir := t.TempDir()
	fallback := filepath.Join(dir, "cleartool")
	if err := os.WriteFile(fallback, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write fallback binary: %v", err)
	}

	l := New()
	if _, err := l.Resolve([]string{"cleartool-candidate"}, []string{fallback}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if err := os.Remove(fallback); err != nil {
		t.Fatalf("remove fallback: %v", err)
	}
	ClearCache()

	if _, err := l.Resolve([]string{"cleartool-candidate"}, []string{fallback}); err == nil {
		t.Error("expected resolution to fail after ClearCache and removing the binary")
	}
}

func TestCacheExpiresAndRevalidates(t *testing.T) {
	ClearCache()
	SetCacheTTL(10 * time.Millisecond)
	defer SetCacheTTL(5 * time.Minute)

	dir := t.TempDir()
	fallback := filepath.Join(dir, "ttltool")
	if err := os.WriteFile(fallback, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write fallback binary: %v", err)
	}

	l := New()
	if _, err := l.Resolve([]string{"ttltool-candidate"}, []string{fallback}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	// Still exists on disk: an expired-but-valid entry revalidates instead
	// of requiring a full re-resolution.
	path, err := l.Resolve([]string{"ttltool-candidate"}, []string{fallback})
	if err != nil {
		t.Fatalf("Resolve after TTL expiry failed: %v", err)
	}
	if path != fallback {
		t.Errorf("path = %q, want %q", path, fallback)
	}
}

func TestWindowsExecSuffixesDefault(t *testing.T) {
	if runtime.GOOS != "windows" {
		t.Skip("windows-specific suffix default")
	}
	suffixes := windowsExecSuffixes()
	if len(suffixes) == 0 {
		t.Error("expected non-empty default suffix list")
	}
}
