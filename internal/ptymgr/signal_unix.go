//go:build !windows
// +build !windows

package ptymgr

import (
	"os"
	"syscall"
)

func terminateSignal() os.Signal { return syscall.SIGTERM }
