//go:build windows

package infrastructure

import "os/exec"

// setProcessGroup keeps the default cancellation, which kills the shell
// process only.
func setProcessGroup(cmd *exec.Cmd) {}
