package ffmpeg

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanAudioExtraction(t *testing.T) {
	tmp := "/tmp/qw-cat"

	t.Run("primary stream only yields nothing", func(t *testing.T) {
		plan := PlanAudioExtraction(tmp, "/videos/a.mkv", []StreamInfo{{Index: 1, CodecName: "aac"}})
		assert.Empty(t, plan.AudioStreams)
		assert.NotNil(t, plan.AudioStreams)
	})

	t.Run("secondary streams map to deterministic files", func(t *testing.T) {
		streams := []StreamInfo{{Index: 1}, {Index: 2}, {Index: 4}}
		plan := PlanAudioExtraction(tmp, "/videos/a.mkv", streams)

		require.Len(t, plan.AudioStreams, 2)
		assert.Equal(t, 2, plan.AudioStreams[0].Index)
		assert.Equal(t, 4, plan.AudioStreams[1].Index)
		assert.Equal(t, AudioFilePath(tmp, "/videos/a.mkv", 2, "m4a"), plan.AudioStreams[0].Path)

		again := PlanAudioExtraction(tmp, "/videos/a.mkv", streams)
		assert.Equal(t, plan, again)
	})

	t.Run("file names stay inside the temp dir", func(t *testing.T) {
		p := AudioFilePath(tmp, "/some/deep/path/with/slashes.mp4", 3, "m4a")
		assert.Equal(t, tmp, filepath.Dir(p))
		assert.True(t, strings.HasSuffix(p, "_3.m4a"))
		assert.NotEqual(t, p, AudioFilePath(tmp, "/other.mp4", 3, "m4a"))
	})
}

func TestBuildExtractArgs(t *testing.T) {
	plan := ExtractResult{AudioStreams: []AudioStreamFile{
		{Index: 2, Path: "/tmp/qw-cat/a_2.m4a"},
		{Index: 3, Path: "/tmp/qw-cat/a_3.m4a"},
	}}

	args := BuildExtractArgs("/videos/in.mkv", plan)
	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-i", "/videos/in.mkv", "-y",
		"-map", "0:2", "-c:a", "aac", "-b:a", "192k", "/tmp/qw-cat/a_2.m4a",
		"-map", "0:3", "-c:a", "aac", "-b:a", "192k", "/tmp/qw-cat/a_3.m4a",
	}, args)
}

func baseExport() ExportOptions {
	return ExportOptions{
		StartTime:  1.5,
		EndTime:    10,
		InputPath:  "/videos/in.mp4",
		OutputPath: "/videos/out.mp4",
	}
}

func TestFilterGraph(t *testing.T) {
	t.Run("no audio synthesizes silence of the export length", func(t *testing.T) {
		graph := FilterGraph(baseExport(), "h264")
		assert.Equal(t, "[0:v]setpts=PTS-STARTPTS[v];aevalsrc=0:d=8.5[a]", graph)
	})

	t.Run("active streams are gained and mixed", func(t *testing.T) {
		opts := baseExport()
		opts.ActiveAudioStreams = []ExportAudioStream{{Index: 1, Gain: 1}, {Index: 3, Gain: 0.5}}

		graph := FilterGraph(opts, "h264")
		assert.Equal(t,
			"[0:v]setpts=PTS-STARTPTS[v];"+
				"[0:1]volume=1,asetpts=PTS-STARTPTS[a1];[0:3]volume=0.5,asetpts=PTS-STARTPTS[a3];"+
				"[a1][a3]amix=inputs=2[a]",
			graph)
	})

	t.Run("resolution uses the software scaler", func(t *testing.T) {
		opts := baseExport()
		opts.Resolution = "1280:720"
		assert.True(t, strings.HasPrefix(FilterGraph(opts, "h264"), "[0:v]setpts=PTS-STARTPTS,scale=1280:720[v];"))
	})

	t.Run("resolution with gpu uses scale_cuda", func(t *testing.T) {
		opts := baseExport()
		opts.Resolution = "1280:720"
		opts.GPUAcceleration = GPUNvidia
		assert.True(t, strings.HasPrefix(FilterGraph(opts, "hevc"), "[0:v]setpts=PTS-STARTPTS,scale_cuda=1280:720[v];"))
	})
}

func TestBuildExportArgs(t *testing.T) {
	t.Run("cpu defaults", func(t *testing.T) {
		args := BuildExportArgs(baseExport(), "h264", "medium", nil)
		assert.Equal(t, []string{
			"-hide_banner", "-nostdin",
			"-ss", "1.5", "-to", "10", "-i", "/videos/in.mp4", "-y",
			"-filter_complex", "[0:v]setpts=PTS-STARTPTS[v];aevalsrc=0:d=8.5[a]",
			"-map", "[v]", "-map", "[a]",
			"-preset", "medium",
			"/videos/out.mp4",
		}, args)
	})

	t.Run("gpu path for supported codec", func(t *testing.T) {
		opts := baseExport()
		opts.GPUAcceleration = GPUNvidia
		args := BuildExportArgs(opts, "av1", "medium", nil)
		assert.Equal(t, []string{"-hide_banner", "-nostdin", "-hwaccel", "cuda", "-hwaccel_output_format", "cuda", "-c:v", "av1_cuvid", "-ss"}, args[:9])
	})

	t.Run("gpu hint falls back to cpu for unsupported codec", func(t *testing.T) {
		opts := baseExport()
		opts.GPUAcceleration = GPUNvidia
		opts.Resolution = "640:360"
		args := BuildExportArgs(opts, "vp9", "medium", nil)
		assert.NotContains(t, args, "-hwaccel")
		assert.Contains(t, args, "[0:v]setpts=PTS-STARTPTS,scale=640:360[v];aevalsrc=0:d=8.5[a]")
	})

	t.Run("user encoder settings and extra args", func(t *testing.T) {
		opts := baseExport()
		opts.VideoCodec = "libx265"
		opts.Bitrate = "4M"
		opts.FrameRate = 29.97
		args := BuildExportArgs(opts, "h264", "fast", []string{"-movflags", "+faststart"})

		tail := args[len(args)-12:]
		assert.Equal(t, []string{
			"-c:v", "libx265", "-b:v", "4M", "-r", "29.97",
			"-movflags", "+faststart", "-preset", "fast", "/videos/out.mp4",
		}, tail[1:])
	})
}

func TestExportOptionsValidate(t *testing.T) {
	assert.NoError(t, baseExport().Validate())

	inverted := baseExport()
	inverted.StartTime, inverted.EndTime = 10, 10
	assert.ErrorContains(t, inverted.Validate(), "must be before end time")

	noInput := baseExport()
	noInput.InputPath = ""
	assert.Error(t, noInput.Validate())

	badGPU := baseExport()
	badGPU.GPUAcceleration = "amd"
	assert.ErrorContains(t, badGPU.Validate(), "unknown gpu acceleration")
}
