package ffmpeg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
)

const (
	extractAudioCodec   = "aac"
	extractAudioBitrate = "192k"
	extractAudioExt     = "m4a"
)

// AudioStreamFile is one extracted secondary audio stream on disk.
type AudioStreamFile struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

// ExtractResult lists the files written by an audio extraction.
type ExtractResult struct {
	AudioStreams []AudioStreamFile `json:"audioStreams"`
}

// AudioFilePath returns the deterministic location for stream index of source.
func AudioFilePath(tempDir, source string, index int, ext string) string {
	sum := sha256.Sum256([]byte(source))
	name := fmt.Sprintf("audio_%s_%d.%s", hex.EncodeToString(sum[:16]), index, ext)
	return filepath.Join(tempDir, name)
}

// PlanAudioExtraction maps every audio stream except the first to an output
// file. The first stream plays muxed with the video and is never extracted.
func PlanAudioExtraction(tempDir, source string, streams []StreamInfo) ExtractResult {
	result := ExtractResult{AudioStreams: []AudioStreamFile{}}
	if len(streams) < 2 {
		return result
	}
	for _, s := range streams[1:] {
		result.AudioStreams = append(result.AudioStreams, AudioStreamFile{
			Index: s.Index,
			Path:  AudioFilePath(tempDir, source, s.Index, extractAudioExt),
		})
	}
	return result
}

// BuildExtractArgs re-encodes each planned stream into its own output file.
func BuildExtractArgs(source string, plan ExtractResult) []string {
	args := []string{"-hide_banner", "-nostdin", "-i", source, "-y"}
	for _, s := range plan.AudioStreams {
		args = append(args,
			"-map", "0:"+strconv.Itoa(s.Index),
			"-c:a", extractAudioCodec,
			"-b:a", extractAudioBitrate,
			s.Path,
		)
	}
	return args
}
