// SPDX-License-Identifier: MIT

// Package procgroup starts subprocesses in their own process group and
// tears the whole group down on cancellation, so a killed ffmpeg cannot
// leave decoder children behind.
package procgroup

import (
	"os/exec"
	"time"
)

// Set configures cmd to start in a new process group. Required for
// KillGroup to reach the children.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates the process group led by pid: SIGTERM, then
// SIGKILL once grace has elapsed. The process must have been spawned
// with Set.
func KillGroup(pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	return killGroup(pid, grace)
}
