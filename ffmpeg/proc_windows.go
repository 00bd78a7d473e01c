//go:build windows

package ffmpeg

import (
	"os/exec"
	"syscall"
	"time"
)

const createNoWindow = 0x08000000

func hideWindow(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
	cmd.SysProcAttr.CreationFlags |= createNoWindow
}

// Windows has no SIGINT for child processes; the default Kill is used.
func interruptOnCancel(cmd *exec.Cmd) {
	cmd.WaitDelay = 5 * time.Second
}
