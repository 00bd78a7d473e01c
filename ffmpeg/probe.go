package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var (
	// ErrToolUnavailable means ffmpeg or ffprobe is missing or not executable.
	ErrToolUnavailable = errors.New("media tool unavailable")
	// ErrMalformedProbe means ffprobe ran but its output was not the expected JSON.
	ErrMalformedProbe = errors.New("malformed ffprobe output")
)

// StreamInfo is one stream reported by ffprobe. Index is the absolute stream
// index inside the container, usable with -map 0:<index>.
type StreamInfo struct {
	Index     int    `json:"index"`
	CodecName string `json:"codecName"`
}

// ProbeInfo holds the streams of one type plus the container duration in seconds.
type ProbeInfo struct {
	Streams  []StreamInfo `json:"streams"`
	Duration float64      `json:"duration"`
}

// EmptyProbeInfo is what callers fall back to when metadata is unavailable.
func EmptyProbeInfo() ProbeInfo {
	return ProbeInfo{Streams: []StreamInfo{}}
}

type ffprobeOutput struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format *struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Prober runs ffprobe. It is not cached; each call inspects the file afresh.
type Prober struct {
	tools *Tools
}

func NewProber(tools *Tools) *Prober {
	return &Prober{tools: tools}
}

// AudioStreams returns the audio streams of path and the container duration.
func (p *Prober) AudioStreams(ctx context.Context, path string) (ProbeInfo, error) {
	return p.probe(ctx, path, "a")
}

// VideoStreams returns the video streams of path and the container duration.
func (p *Prober) VideoStreams(ctx context.Context, path string) (ProbeInfo, error) {
	return p.probe(ctx, path, "v")
}

func (p *Prober) probe(ctx context.Context, path, selector string) (ProbeInfo, error) {
	if !p.tools.FFprobeInstalled(ctx) {
		return ProbeInfo{}, fmt.Errorf("%w: %s", ErrToolUnavailable, p.tools.FFprobePath())
	}

	cmd := exec.CommandContext(ctx, p.tools.FFprobePath(),
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", selector,
		"-show_format",
		"-show_streams",
		path,
	)
	hideWindow(cmd)

	// A non-zero exit leaves stdout empty, which then fails to parse.
	output, err := cmd.Output()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return ProbeInfo{}, fmt.Errorf("%w: run ffprobe: %v", ErrToolUnavailable, err)
	}

	return parseProbeOutput(output)
}

func parseProbeOutput(data []byte) (ProbeInfo, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return ProbeInfo{}, fmt.Errorf("%w: %v", ErrMalformedProbe, err)
	}
	if raw.Format == nil {
		return ProbeInfo{}, fmt.Errorf("%w: missing format section", ErrMalformedProbe)
	}

	info := ProbeInfo{Streams: make([]StreamInfo, 0, len(raw.Streams))}
	for _, s := range raw.Streams {
		info.Streams = append(info.Streams, StreamInfo{Index: s.Index, CodecName: s.CodecName})
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64); err == nil {
		info.Duration = d
	}
	return info, nil
}
