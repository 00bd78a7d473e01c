package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"qwcat/config"
)

var (
	// ErrPathNotAllowed means the export input was never registered by the UI.
	ErrPathNotAllowed = errors.New("input path is not on the allow-list")
	// ErrInsufficientResources means a preflight disk or memory check failed.
	ErrInsufficientResources = errors.New("insufficient system resources")
)

// PathChecker reports whether a path was granted to the application.
type PathChecker interface {
	IsAllowed(path string) bool
}

// MediaProber is the subset of Prober the runner depends on.
type MediaProber interface {
	AudioStreams(ctx context.Context, path string) (ProbeInfo, error)
	VideoStreams(ctx context.Context, path string) (ProbeInfo, error)
}

type Runner struct {
	cfg        *config.Config
	tools      *Tools
	prober     MediaProber
	allow      PathChecker
	extraArgs  []string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewRunner(cfg *config.Config, tools *Tools, allow PathChecker, logger *logrus.Logger) (*Runner, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create temp directory: %w", err)
	}

	extra, err := ParseExtraArgs(cfg.ExportExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("EXPORT_EXTRA_ARGS: %w", err)
	}

	log := logger.WithField("component", "ffmpeg")
	log.Infof("Using temporary directory: %s", cfg.TempDir)

	return &Runner{
		cfg:        cfg,
		tools:      tools,
		prober:     NewProber(tools),
		allow:      allow,
		extraArgs:  extra,
		httpClient: http.DefaultClient,
		log:        log,
	}, nil
}

// Prober exposes the runner's media inspector for callers outside the queue.
func (r *Runner) Prober() MediaProber {
	return r.prober
}

// ExtractAudio writes every secondary audio stream of source to its own file.
// A source with a single audio stream finishes immediately without ffmpeg.
func (r *Runner) ExtractAudio(ctx context.Context, source string, progress ProgressFunc) (ExtractResult, error) {
	info, err := r.prober.AudioStreams(ctx, source)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("probe audio streams: %w", err)
	}

	plan := PlanAudioExtraction(r.cfg.TempDir, source, info.Streams)
	if len(plan.AudioStreams) == 0 {
		return plan, nil
	}

	if err := r.checkResources(r.cfg.TempDir); err != nil {
		return ExtractResult{}, err
	}

	// Progress is measured against the whole container duration.
	if err := r.run(ctx, BuildExtractArgs(source, plan), info.Duration, progress); err != nil {
		return ExtractResult{}, err
	}
	return plan, nil
}

// ExportVideo trims and re-encodes opts.InputPath to opts.OutputPath.
func (r *Runner) ExportVideo(ctx context.Context, opts ExportOptions, progress ProgressFunc) (ExportResult, error) {
	if !r.allow.IsAllowed(opts.InputPath) {
		return ExportResult{}, fmt.Errorf("%w: %s", ErrPathNotAllowed, opts.InputPath)
	}
	if err := opts.Validate(); err != nil {
		return ExportResult{}, err
	}

	info, err := r.prober.VideoStreams(ctx, opts.InputPath)
	if err != nil {
		return ExportResult{}, fmt.Errorf("probe video streams: %w", err)
	}
	var inputCodec string
	if len(info.Streams) > 0 {
		inputCodec = info.Streams[0].CodecName
	}

	if err := r.checkResources(filepath.Dir(opts.OutputPath)); err != nil {
		return ExportResult{}, err
	}

	args := BuildExportArgs(opts, inputCodec, r.cfg.ExportPreset, r.extraArgs)
	if err := r.run(ctx, args, opts.Duration(), progress); err != nil {
		return ExportResult{}, err
	}
	return ExportResult{OutputPath: opts.OutputPath}, nil
}

// run executes ffmpeg, reporting progress parsed from its stats output.
// Canceling ctx interrupts the process, which then surfaces as an error.
func (r *Runner) run(ctx context.Context, args []string, total float64, progress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, r.tools.FFmpegPath(), args...)
	hideWindow(cmd)
	interruptOnCancel(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe stderr: %w", err)
	}

	r.log.Debugf("Executing: %s %s", cmd.Path, strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	last := &tail{n: 20}
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if fraction, ok := ProgressFromLine(line, total); ok {
			if progress != nil {
				progress(fraction)
			}
			continue
		}
		last.add(line)
		if strings.Contains(line, "Error") || strings.Contains(line, "error") {
			r.log.Errorf("ffmpeg: %s", line)
		} else {
			r.log.Debugf("ffmpeg: %s", line)
		}
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("ffmpeg execution failed: %w (last output: %s)", err, last.String())
	}
	return nil
}

// checkResources verifies that dir has room for output and the system has
// enough free memory. A zero threshold disables the check.
func (r *Runner) checkResources(dir string) error {
	if r.cfg.MinFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.log.Warnf("could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.MinFreeMem) {
			return fmt.Errorf("%w: available memory %d, required %d", ErrInsufficientResources, vm.Available, r.cfg.MinFreeMem)
		}
	}

	if r.cfg.MinFreeDisk > 0 {
		d, err := disk.Usage(dir)
		if err != nil {
			r.log.Warnf("could not get disk usage for %s: %v", dir, err)
		} else if d.Free < uint64(r.cfg.MinFreeDisk) {
			return fmt.Errorf("%w: free disk in %s %d, required %d", ErrInsufficientResources, dir, d.Free, r.cfg.MinFreeDisk)
		}
	}
	return nil
}
