// Package tempdir removes stale extracted audio from the app's temp directory.
package tempdir

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

type Janitor struct {
	dir      string
	lifetime time.Duration
	log      *logrus.Entry
	now      func() time.Time
}

func NewJanitor(dir string, lifetime time.Duration, logger *logrus.Logger) *Janitor {
	return &Janitor{
		dir:      dir,
		lifetime: lifetime,
		log:      logger.WithField("component", "tempdir"),
		now:      time.Now,
	}
}

// Cleanup deletes regular files in the directory last modified before the
// lifetime cutoff. Subdirectories are left alone and a missing directory is
// not an error. It returns the number of files removed.
func (j *Janitor) Cleanup() (int, error) {
	entries, err := os.ReadDir(j.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-j.lifetime)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, entry.Name())
		// Individual failures must not stop the sweep.
		if err := os.Remove(path); err != nil {
			j.log.WithError(err).Debugf("Could not remove %s", path)
			continue
		}
		removed++
	}
	return removed, nil
}

const minSweepInterval = time.Second

// Run sweeps once immediately and then four times per lifetime until ctx
// is canceled.
func (j *Janitor) Run(ctx context.Context) error {
	if j.lifetime <= 0 {
		return nil
	}
	j.sweep()

	ticker := time.NewTicker(max(j.lifetime/4, minSweepInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Debug("Cleanup loop shutting down")
			return nil
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	n, err := j.Cleanup()
	if err != nil {
		j.log.WithError(err).Warn("Temp cleanup failed")
		return
	}
	if n > 0 {
		j.log.Infof("Removed %d stale temp files from %s", n, j.dir)
	}
}
