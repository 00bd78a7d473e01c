//go:build !windows

package ffmpeg

import (
	"os"
	"os/exec"
	"time"
)

func hideWindow(cmd *exec.Cmd) {}

// interruptOnCancel lets ffmpeg finalize its output on SIGINT before the
// process is killed.
func interruptOnCancel(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 5 * time.Second
}
