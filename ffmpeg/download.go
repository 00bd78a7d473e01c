package ffmpeg

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/ulikunitz/xz"
	"golang.org/x/time/rate"
)

// ErrInstallInProgress is returned when another process holds the tools
// directory install lock.
var ErrInstallInProgress = errors.New("another process is installing ffmpeg")

// DownloadResult is set on a finished tool installation.
type DownloadResult struct {
	AlreadyInstalled bool `json:"alreadyInstalled"`
}

// downloadSources lists the archives that together provide ffmpeg and
// ffprobe for a platform.
func downloadSources(goos, goarch string) ([]string, error) {
	switch goos + "/" + goarch {
	case "linux/amd64":
		return []string{"https://johnvansickle.com/ffmpeg/releases/ffmpeg-release-amd64-static.tar.xz"}, nil
	case "linux/arm64":
		return []string{"https://johnvansickle.com/ffmpeg/releases/ffmpeg-release-arm64-static.tar.xz"}, nil
	case "windows/amd64":
		return []string{"https://www.gyan.dev/ffmpeg/builds/ffmpeg-release-essentials.zip"}, nil
	case "darwin/amd64":
		return []string{
			"https://evermeet.cx/ffmpeg/getrelease/zip",
			"https://evermeet.cx/ffmpeg/getrelease/ffprobe/zip",
		}, nil
	case "darwin/arm64":
		return []string{
			"https://www.osxexperts.net/ffmpeg7arm.zip",
			"https://www.osxexperts.net/ffprobe7arm.zip",
		}, nil
	}
	return nil, fmt.Errorf("no ffmpeg build available for %s/%s", goos, goarch)
}

// DownloadTool installs ffmpeg and ffprobe into the managed tools directory
// unless a managed or overridden ffmpeg is already callable.
func (r *Runner) DownloadTool(ctx context.Context, progress ProgressFunc) (DownloadResult, error) {
	if progress == nil {
		progress = func(float64) {}
	}

	installed := r.tools.FFmpegInstalled(ctx)
	r.log.Infof("FFmpeg is installed: %t (ffmpeg path: %s)", installed, r.tools.FFmpegPath())
	if installed && r.tools.FFmpegPath() != ffmpegName {
		return DownloadResult{AlreadyInstalled: true}, nil
	}

	sources := []string{r.cfg.DownloadURL}
	if r.cfg.DownloadURL == "" {
		var err error
		if sources, err = downloadSources(runtime.GOOS, runtime.GOARCH); err != nil {
			return DownloadResult{}, err
		}
	}

	if err := os.MkdirAll(r.tools.Dir, 0o755); err != nil {
		return DownloadResult{}, fmt.Errorf("create tools dir: %w", err)
	}

	lock := flock.New(filepath.Join(r.tools.Dir, ".install.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return DownloadResult{}, fmt.Errorf("lock tools dir: %w", err)
	}
	if !locked {
		return DownloadResult{}, ErrInstallInProgress
	}
	defer lock.Unlock()

	r.log.Info("Downloading ffmpeg...")
	progress(0)

	for i, src := range sources {
		part := float64(i)
		count := float64(len(sources))
		archive, err := r.fetch(ctx, src, func(done, total int64) {
			if total > 0 {
				progress((part + float64(done)/float64(total)) / count)
			}
		})
		if err != nil {
			return DownloadResult{}, err
		}

		progress(0)
		err = unpackArchive(archive, archiveKind(src), r.tools.Dir)
		os.Remove(archive)
		if err != nil {
			return DownloadResult{}, fmt.Errorf("unpack %s: %w", src, err)
		}
	}
	progress(1)

	if !r.tools.FFmpegInstalled(ctx) {
		return DownloadResult{}, errors.New("ffmpeg failed to install, please install manually")
	}
	r.log.Infof("FFmpeg downloaded successfully (%s)", r.tools.FFmpegPath())
	return DownloadResult{AlreadyInstalled: false}, nil
}

// fetch streams url into the tools directory. Progress callbacks are sampled
// at the configured interval, not once per chunk.
func (r *Runner) fetch(ctx context.Context, url string, onProgress func(done, total int64)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download ffmpeg: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download ffmpeg, status: %s", resp.Status)
	}

	file, err := os.CreateTemp(r.tools.Dir, "download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file for ffmpeg download: %w", err)
	}
	defer file.Close()

	pr := &progressReader{
		inner:    resp.Body,
		total:    resp.ContentLength,
		sampler:  &rate.Sometimes{Interval: r.cfg.DownloadProgressInterval},
		callback: onProgress,
		log: func(done, total int64) {
			r.log.Debugf("FFmpeg downloading... %s/%s", humanize.Bytes(uint64(done)), humanize.Bytes(uint64(max(total, 0))))
		},
	}
	if _, err := io.Copy(file, pr); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write ffmpeg download to file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

type progressReader struct {
	inner    io.Reader
	total    int64
	done     int64
	sampler  *rate.Sometimes
	callback func(done, total int64)
	log      func(done, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.inner.Read(buf)
	p.done += int64(n)
	p.sampler.Do(func() {
		p.callback(p.done, p.total)
		p.log(p.done, p.total)
	})
	return n, err
}

func archiveKind(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".tar.xz"):
		return "tar.xz"
	case strings.HasSuffix(lower, "zip"):
		return "zip"
	}
	return ""
}

// toolName maps an archive entry to the managed binary it provides, if any.
func toolName(entry string) (string, bool) {
	base := strings.ToLower(path.Base(filepath.ToSlash(entry)))
	base = strings.TrimSuffix(base, ".exe")
	switch base {
	case ffmpegName, ffprobeName:
		return executableName(base), true
	}
	return "", false
}

// unpackArchive copies the ffmpeg and ffprobe binaries found anywhere in the
// archive flat into dest.
func unpackArchive(archive, kind, dest string) error {
	var found int
	var err error
	switch kind {
	case "zip":
		found, err = unpackZip(archive, dest)
	case "tar.xz":
		found, err = unpackTarXz(archive, dest)
	default:
		return fmt.Errorf("unsupported archive type for %s", archive)
	}
	if err != nil {
		return err
	}
	if found == 0 {
		return errors.New("archive contains no ffmpeg binaries")
	}
	return nil
}

func unpackZip(archive, dest string) (int, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	found := 0
	for _, f := range zr.File {
		name, ok := toolName(f.Name)
		if !ok || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return found, err
		}
		err = writeExecutable(filepath.Join(dest, name), rc)
		rc.Close()
		if err != nil {
			return found, err
		}
		found++
	}
	return found, nil
}

func unpackTarXz(archive, dest string) (int, error) {
	f, err := os.Open(archive)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	xr, err := xz.NewReader(bufio.NewReader(f))
	if err != nil {
		return 0, err
	}
	tr := tar.NewReader(xr)

	found := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return found, nil
		}
		if err != nil {
			return found, err
		}
		name, ok := toolName(hdr.Name)
		if !ok || hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := writeExecutable(filepath.Join(dest, name), tr); err != nil {
			return found, err
		}
		found++
	}
}

func writeExecutable(target string, src io.Reader) error {
	tmp := target + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}
