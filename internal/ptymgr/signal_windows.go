//go:build windows
// +build windows

package ptymgr

import "os"

// terminateSignal is unused on windows (GracefulKill skips straight from
// the quit-sequence grace window to ForceKill), but kept for signature
// symmetry with signal_unix.go.
func terminateSignal() os.Signal { return os.Kill }
