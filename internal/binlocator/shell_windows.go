//go:build windows
// +build windows

package binlocator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// shellLookup uses the system "where" resolver, which honors PATH, PATHEXT,
// and App-Paths registrations without needing a login shell.
func shellLookup(name string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "where", name)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", false
	}

	// "where" lists matches best-first; there are no init banners to skip.
	for _, line := range strings.Split(out.String(), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}

// loginShellPath has no Windows equivalent: "where" already honors the full
// system PATH, so the manual scan falls straight back to the process PATH.
func loginShellPath() (string, bool) { return "", false }
