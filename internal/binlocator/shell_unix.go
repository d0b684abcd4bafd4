//go:build !windows
// +build !windows

package binlocator

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"time"
)

// shellLookup invokes the user's login shell interactively to run
// "which <name>" and takes the last non-empty line of stdout, since shell
// init files (.bashrc, .zshrc) may print banners ahead of the actual
// result.
func shellLookup(name string) (string, bool) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell, "-i", "-c", "which "+name)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", false
	}

	return lastNonEmptyLine(out.String())
}

var (
	loginPathOnce  sync.Once
	loginPathValue string
	loginPathOK    bool
)

// loginShellPath asks the user's login shell for its effective PATH, once
// per process. Shell init may print banners, so only the last non-empty
// line is taken.
func loginShellPath() (string, bool) {
	loginPathOnce.Do(func() {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cmd := exec.CommandContext(ctx, shell, "-i", "-c", "echo $PATH")
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return
		}
		loginPathValue, loginPathOK = lastNonEmptyLine(out.String())
	})
	return loginPathValue, loginPathOK
}
