// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"time"
)

func set(cmd *exec.Cmd) {
	// Process groups as used on unix do not exist here; the direct kill
	// below is the best available fallback.
}

func killGroup(pid int, _ time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
