package ffmpeg

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"qwcat/config"
)

type fakeProber struct {
	audio ProbeInfo
	video ProbeInfo
	err   error
}

func (f *fakeProber) AudioStreams(ctx context.Context, path string) (ProbeInfo, error) {
	return f.audio, f.err
}

func (f *fakeProber) VideoStreams(ctx context.Context, path string) (ProbeInfo, error) {
	return f.video, f.err
}

type allowSet map[string]bool

func (a allowSet) IsAllowed(path string) bool { return a[path] }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestRunner(t *testing.T, ffmpegBin string, prober MediaProber, allow PathChecker) *Runner {
	t.Helper()
	cfg := &config.Config{
		TempDir:                  t.TempDir(),
		ExportPreset:             "medium",
		DownloadProgressInterval: time.Millisecond,
	}
	tools := &Tools{Dir: t.TempDir(), FFmpegOverride: ffmpegBin}
	r, err := NewRunner(cfg, tools, allow, quietLogger())
	require.NoError(t, err)
	r.prober = prober
	return r
}

// fakeFFmpeg writes a shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a unix shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) record(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressLog) all() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.values...)
}

func TestExtractAudio(t *testing.T) {
	t.Run("primary stream only never spawns ffmpeg", func(t *testing.T) {
		prober := &fakeProber{audio: ProbeInfo{Streams: []StreamInfo{{Index: 1, CodecName: "aac"}}, Duration: 60}}
		r := newTestRunner(t, filepath.Join(t.TempDir(), "missing-ffmpeg"), prober, allowSet{})

		result, err := r.ExtractAudio(context.Background(), "/videos/in.mkv", nil)
		require.NoError(t, err)
		assert.Empty(t, result.AudioStreams)
	})

	t.Run("probe failure fails the extraction", func(t *testing.T) {
		prober := &fakeProber{err: ErrToolUnavailable}
		r := newTestRunner(t, "ffmpeg", prober, allowSet{})

		_, err := r.ExtractAudio(context.Background(), "/videos/in.mkv", nil)
		assert.ErrorIs(t, err, ErrToolUnavailable)
	})

	t.Run("missing ffmpeg is reported as unavailable", func(t *testing.T) {
		prober := &fakeProber{audio: ProbeInfo{Streams: []StreamInfo{{Index: 1}, {Index: 2}}, Duration: 10}}
		r := newTestRunner(t, filepath.Join(t.TempDir(), "missing-ffmpeg"), prober, allowSet{})

		_, err := r.ExtractAudio(context.Background(), "/videos/in.mkv", nil)
		assert.ErrorIs(t, err, ErrToolUnavailable)
	})

	t.Run("progress is relative to container duration", func(t *testing.T) {
		bin := fakeFFmpeg(t, `printf 'frame=1 time=00:00:02.50 speed=1x\rframe=2 time=00:00:05.00 speed=1x\n' >&2`)
		prober := &fakeProber{audio: ProbeInfo{Streams: []StreamInfo{{Index: 1}, {Index: 2}}, Duration: 10}}
		r := newTestRunner(t, bin, prober, allowSet{})

		var got progressLog
		result, err := r.ExtractAudio(context.Background(), "/videos/in.mkv", got.record)
		require.NoError(t, err)
		require.Len(t, result.AudioStreams, 1)
		assert.Equal(t, 2, result.AudioStreams[0].Index)
		assert.Equal(t, []float64{0.25, 0.5}, got.all())
	})
}

func TestExportVideo(t *testing.T) {
	opts := ExportOptions{StartTime: 0, EndTime: 4, InputPath: "/videos/in.mp4", OutputPath: filepath.Join(t.TempDir(), "out.mp4")}

	t.Run("input outside the allow-list fails before probing", func(t *testing.T) {
		prober := &fakeProber{err: ErrMalformedProbe}
		r := newTestRunner(t, "ffmpeg", prober, allowSet{})

		_, err := r.ExportVideo(context.Background(), opts, nil)
		assert.ErrorIs(t, err, ErrPathNotAllowed)
	})

	t.Run("probe failure fails the export", func(t *testing.T) {
		prober := &fakeProber{err: ErrMalformedProbe}
		r := newTestRunner(t, "ffmpeg", prober, allowSet{opts.InputPath: true})

		_, err := r.ExportVideo(context.Background(), opts, nil)
		assert.ErrorIs(t, err, ErrMalformedProbe)
	})

	t.Run("successful export reports the output path", func(t *testing.T) {
		bin := fakeFFmpeg(t, `printf 'frame=1 time=00:00:01.00\r' >&2`)
		prober := &fakeProber{video: ProbeInfo{Streams: []StreamInfo{{Index: 0, CodecName: "h264"}}}}
		r := newTestRunner(t, bin, prober, allowSet{opts.InputPath: true})

		var got progressLog
		result, err := r.ExportVideo(context.Background(), opts, got.record)
		require.NoError(t, err)
		assert.Equal(t, opts.OutputPath, result.OutputPath)
		assert.Equal(t, []float64{0.25}, got.all())
	})

	t.Run("non-zero exit fails with the last output", func(t *testing.T) {
		bin := fakeFFmpeg(t, `echo "Unknown encoder 'nope'" >&2; exit 1`)
		prober := &fakeProber{video: ProbeInfo{Streams: []StreamInfo{{Index: 0, CodecName: "h264"}}}}
		r := newTestRunner(t, bin, prober, allowSet{opts.InputPath: true})

		_, err := r.ExportVideo(context.Background(), opts, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unknown encoder")
	})

	t.Run("cancel interrupts the process", func(t *testing.T) {
		bin := fakeFFmpeg(t, `exec sleep 30`)
		prober := &fakeProber{video: ProbeInfo{Streams: []StreamInfo{{Index: 0, CodecName: "h264"}}}}
		r := newTestRunner(t, bin, prober, allowSet{opts.InputPath: true})

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		start := time.Now()
		_, err := r.ExportVideo(ctx, opts, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 10*time.Second)
	})
}

func zipWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestDownloadTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("installed stand-in is a shell script")
	}
	archive := zipWith(t, map[string]string{
		"ffmpeg-7.0/bin/ffmpeg":  "#!/bin/sh\nexit 0\n",
		"ffmpeg-7.0/bin/ffprobe": "#!/bin/sh\nexit 0\n",
		"ffmpeg-7.0/README.txt":  "docs",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	cfg := &config.Config{
		TempDir:                  t.TempDir(),
		DownloadURL:              srv.URL + "/ffmpeg-release.zip",
		DownloadProgressInterval: time.Millisecond,
	}
	tools := &Tools{Dir: t.TempDir()}
	r, err := NewRunner(cfg, tools, allowSet{}, quietLogger())
	require.NoError(t, err)

	var got progressLog
	result, err := r.DownloadTool(context.Background(), got.record)
	require.NoError(t, err)
	assert.False(t, result.AlreadyInstalled)
	assert.FileExists(t, tools.ManagedPath("ffmpeg"))
	assert.FileExists(t, tools.ManagedPath("ffprobe"))
	assert.NoFileExists(t, filepath.Join(tools.Dir, "README.txt"))

	values := got.all()
	require.NotEmpty(t, values)
	assert.Equal(t, 0.0, values[0])
	assert.Equal(t, 1.0, values[len(values)-1])

	again, err := r.DownloadTool(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, again.AlreadyInstalled)
}

func tarXzWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "ffmpeg-7.0-amd64-static/", Typeflag: tar.TypeDir, Mode: 0o755}))
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o755,
			Size:     int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

func TestUnpackTarXz(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg-release-amd64-static.tar.xz")
	require.NoError(t, os.WriteFile(path, tarXzWith(t, map[string]string{
		"ffmpeg-7.0-amd64-static/ffmpeg":       "ffmpeg-binary",
		"ffmpeg-7.0-amd64-static/ffprobe":      "ffprobe-binary",
		"ffmpeg-7.0-amd64-static/qt-faststart": "other",
		"ffmpeg-7.0-amd64-static/readme.txt":   "docs",
	}), 0o644))

	dest := t.TempDir()
	require.NoError(t, unpackArchive(path, archiveKind(path), dest))

	for name, want := range map[string]string{"ffmpeg": "ffmpeg-binary", "ffprobe": "ffprobe-binary"} {
		target := filepath.Join(dest, executableName(name))
		got, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))

		if runtime.GOOS != "windows" {
			info, err := os.Stat(target)
			require.NoError(t, err)
			assert.NotZero(t, info.Mode().Perm()&0o100, "%s is executable", name)
		}
	}
	assert.NoFileExists(t, filepath.Join(dest, "qt-faststart"))
	assert.NoFileExists(t, filepath.Join(dest, "readme.txt"))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDownloadToolRejectsConcurrentInstall(t *testing.T) {
	cfg := &config.Config{
		TempDir:                  t.TempDir(),
		DownloadURL:              "http://127.0.0.1:1/ffmpeg-release.zip",
		DownloadProgressInterval: time.Millisecond,
	}
	tools := &Tools{Dir: t.TempDir()}
	r, err := NewRunner(cfg, tools, allowSet{}, quietLogger())
	require.NoError(t, err)

	held := flock.New(filepath.Join(tools.Dir, ".install.lock"))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = r.DownloadTool(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInstallInProgress)
}

func TestUnpackArchiveWithoutBinaries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.zip")
	require.NoError(t, os.WriteFile(path, zipWith(t, map[string]string{"readme": "x"}), 0o644))

	err := unpackArchive(path, "zip", t.TempDir())
	assert.ErrorContains(t, err, "no ffmpeg binaries")
}

func TestDownloadSources(t *testing.T) {
	urls, err := downloadSources("darwin", "arm64")
	require.NoError(t, err)
	assert.Len(t, urls, 2)

	_, err = downloadSources("plan9", "386")
	assert.Error(t, err)

	assert.Equal(t, "tar.xz", archiveKind("https://x/ffmpeg-release-amd64-static.tar.xz"))
	assert.Equal(t, "zip", archiveKind("https://evermeet.cx/ffmpeg/getrelease/zip"))
}
