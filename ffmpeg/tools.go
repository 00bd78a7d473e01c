package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const (
	ffmpegName  = "ffmpeg"
	ffprobeName = "ffprobe"
)

// Tools resolves the ffmpeg and ffprobe binaries. An explicit override wins,
// then the managed copy under Dir, then whatever is on PATH.
type Tools struct {
	Dir             string
	FFmpegOverride  string
	FFprobeOverride string
}

func executableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// ManagedPath is where an installed copy of the named tool lives.
func (t *Tools) ManagedPath(name string) string {
	return filepath.Join(t.Dir, executableName(name))
}

func (t *Tools) FFmpegPath() string {
	return t.resolve(ffmpegName, t.FFmpegOverride)
}

func (t *Tools) FFprobePath() string {
	return t.resolve(ffprobeName, t.FFprobeOverride)
}

func (t *Tools) resolve(name, override string) string {
	if override != "" {
		return override
	}
	managed := t.ManagedPath(name)
	if info, err := os.Stat(managed); err == nil && !info.IsDir() {
		return managed
	}
	return name
}

// FFmpegInstalled reports whether the resolved ffmpeg answers -version.
func (t *Tools) FFmpegInstalled(ctx context.Context) bool {
	return callable(ctx, t.FFmpegPath())
}

func (t *Tools) FFprobeInstalled(ctx context.Context) bool {
	return callable(ctx, t.FFprobePath())
}

func callable(ctx context.Context, binary string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "-version")
	hideWindow(cmd)
	return cmd.Run() == nil
}
