package tempdir

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJanitor(dir string, lifetime time.Duration) *Janitor {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewJanitor(dir, lifetime, log)
}

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "audio_old_2.m4a")
	fresh := filepath.Join(dir, "audio_new_2.m4a")
	nested := filepath.Join(dir, "keep")
	touch(t, stale, 2*time.Hour)
	touch(t, fresh, time.Minute)
	require.NoError(t, os.Mkdir(nested, 0o755))
	touch(t, filepath.Join(nested, "old.m4a"), 2*time.Hour)

	j := newJanitor(dir, time.Hour)
	n, err := j.Cleanup()
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, filepath.Join(nested, "old.m4a"))
}

func TestCleanupMissingDir(t *testing.T) {
	j := newJanitor(filepath.Join(t.TempDir(), "absent"), time.Hour)
	n, err := j.Cleanup()
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunSweepsAtStartup(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "audio_old_1.m4a")
	touch(t, stale, 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newJanitor(dir, time.Hour).Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRunWithTinyLifetime(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "audio_old_3.m4a")
	touch(t, stale, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newJanitor(dir, 3*time.Nanosecond).Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRunDisabled(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "audio_old_4.m4a")
	touch(t, stale, 2*time.Hour)

	assert.NoError(t, newJanitor(dir, 0).Run(context.Background()))
	assert.FileExists(t, stale)
}
