package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// GPUAcceleration names a hardware decode/scale path.
type GPUAcceleration string

const GPUNvidia GPUAcceleration = "nvidia"

// ExportAudioStream selects an input audio stream and its volume multiplier.
type ExportAudioStream struct {
	Index int     `json:"index"`
	Gain  float64 `json:"gain"`
}

// ExportOptions describes one trim/re-encode of a source video.
type ExportOptions struct {
	StartTime          float64             `json:"startTime"`
	EndTime            float64             `json:"endTime"`
	InputPath          string              `json:"inputPath" binding:"required"`
	OutputPath         string              `json:"outputPath" binding:"required"`
	Resolution         string              `json:"resolution,omitempty"`
	Bitrate            string              `json:"bitrate,omitempty"`
	VideoCodec         string              `json:"videoCodec,omitempty"`
	FrameRate          float64             `json:"frameRate,omitempty"`
	ActiveAudioStreams []ExportAudioStream `json:"activeAudioStreams"`
	GPUAcceleration    GPUAcceleration     `json:"gpuAcceleration,omitempty"`
}

// ExportResult is set on a finished export.
type ExportResult struct {
	OutputPath string `json:"outputPath"`
}

func (o ExportOptions) Validate() error {
	if o.InputPath == "" || o.OutputPath == "" {
		return errors.New("input and output paths are required")
	}
	if o.StartTime < 0 {
		return fmt.Errorf("start time %v is negative", o.StartTime)
	}
	if o.StartTime >= o.EndTime {
		return fmt.Errorf("start time %v must be before end time %v", o.StartTime, o.EndTime)
	}
	if o.FrameRate < 0 {
		return fmt.Errorf("frame rate %v is negative", o.FrameRate)
	}
	if o.GPUAcceleration != "" && o.GPUAcceleration != GPUNvidia {
		return fmt.Errorf("unknown gpu acceleration %q", o.GPUAcceleration)
	}
	return nil
}

// Duration is the length of the exported range in seconds.
func (o ExportOptions) Duration() float64 {
	return o.EndTime - o.StartTime
}

type gpuProfile struct {
	hwaccelArgs []string
	decoder     string
	scaleFilter string
}

var nvidiaDecoders = map[string]string{
	"h264": "h264_cuvid",
	"hevc": "hevc_cuvid",
	"av1":  "av1_cuvid",
}

// selectGPU returns a profile only when the hint is set and the input codec
// has a matching hardware decoder.
func selectGPU(hint GPUAcceleration, inputCodec string) (gpuProfile, bool) {
	if hint != GPUNvidia {
		return gpuProfile{}, false
	}
	decoder, ok := nvidiaDecoders[inputCodec]
	if !ok {
		return gpuProfile{}, false
	}
	return gpuProfile{
		hwaccelArgs: []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"},
		decoder:     decoder,
		scaleFilter: "scale_cuda",
	}, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func videoFilter(resolution, scaleFilter string) string {
	var b strings.Builder
	b.WriteString("[0:v]setpts=PTS-STARTPTS")
	if resolution != "" {
		fmt.Fprintf(&b, ",%s=%s", scaleFilter, resolution)
	}
	b.WriteString("[v]")
	return b.String()
}

// audioFilter mixes the active streams, or synthesizes silence of the export
// length so the output always carries an audio track.
func audioFilter(opts ExportOptions) string {
	if len(opts.ActiveAudioStreams) == 0 {
		return fmt.Sprintf("aevalsrc=0:d=%s[a]", formatFloat(opts.Duration()))
	}

	var chains, labels strings.Builder
	for _, s := range opts.ActiveAudioStreams {
		fmt.Fprintf(&chains, "[0:%d]volume=%s,asetpts=PTS-STARTPTS[a%d];", s.Index, formatFloat(s.Gain), s.Index)
		fmt.Fprintf(&labels, "[a%d]", s.Index)
	}
	return fmt.Sprintf("%s%samix=inputs=%d[a]", chains.String(), labels.String(), len(opts.ActiveAudioStreams))
}

// FilterGraph returns the complete -filter_complex value.
func FilterGraph(opts ExportOptions, inputCodec string) string {
	scale := "scale"
	if gpu, ok := selectGPU(opts.GPUAcceleration, inputCodec); ok {
		scale = gpu.scaleFilter
	}
	return videoFilter(opts.Resolution, scale) + ";" + audioFilter(opts)
}

// BuildExportArgs assembles the ffmpeg invocation for an export. inputCodec is
// the codec of the first video stream, used to decide on GPU decoding.
func BuildExportArgs(opts ExportOptions, inputCodec, preset string, extra []string) []string {
	args := []string{"-hide_banner", "-nostdin"}

	if gpu, ok := selectGPU(opts.GPUAcceleration, inputCodec); ok {
		args = append(args, gpu.hwaccelArgs...)
		args = append(args, "-c:v", gpu.decoder)
	}

	args = append(args,
		"-ss", formatFloat(opts.StartTime),
		"-to", formatFloat(opts.EndTime),
		"-i", opts.InputPath,
		"-y",
		"-filter_complex", FilterGraph(opts, inputCodec),
		"-map", "[v]",
		"-map", "[a]",
	)

	if opts.VideoCodec != "" {
		args = append(args, "-c:v", opts.VideoCodec)
	}
	if opts.Bitrate != "" {
		args = append(args, "-b:v", opts.Bitrate)
	}
	if opts.FrameRate > 0 {
		args = append(args, "-r", formatFloat(opts.FrameRate))
	}
	args = append(args, extra...)
	if preset != "" {
		args = append(args, "-preset", preset)
	}
	return append(args, opts.OutputPath)
}
