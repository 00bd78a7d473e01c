package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"qwcat/ffmpeg"
)

// Select-file event variants, carried in the "event" field.
const (
	fileEventPicked       = "videoFilePicked"
	fileEventInfoReady    = "videoFileInfoReady"
	fileEventStreamsReady = "videoAudioStreamsReady"
)

// SelectedFile is returned as soon as a file is registered. Extracted audio
// arrives later as a videoAudioStreamsReady event.
type SelectedFile struct {
	Path         string           `json:"path"`
	AudioStreams ffmpeg.ProbeInfo `json:"audioStreams"`
	TaskID       string           `json:"taskId"`
}

type selectFileEvent struct {
	Event        string                   `json:"event"`
	VideoFile    any                      `json:"videoFile,omitempty"`
	AudioStreams []ffmpeg.AudioStreamFile `json:"audioStreams,omitempty"`
}

// SelectFile registers path with the gateway, inspects its audio streams and
// queues extraction of the secondary ones. Metadata failures degrade to an
// empty stream list.
func (h *Handler) SelectFile(ctx context.Context, path string) (SelectedFile, error) {
	h.publishFileEvent(selectFileEvent{Event: fileEventPicked})

	abs, err := filepath.Abs(path)
	if err != nil {
		return SelectedFile{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		h.publishFileEvent(selectFileEvent{Event: fileEventInfoReady})
		return SelectedFile{}, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.Mode().IsRegular() {
		h.publishFileEvent(selectFileEvent{Event: fileEventInfoReady})
		return SelectedFile{}, fmt.Errorf("%s is not a regular file", abs)
	}

	h.allow.Allow(abs)

	streams, err := h.prober.AudioStreams(ctx, abs)
	if err != nil {
		h.log.WithError(err).WithField("path", abs).Warn("Audio stream metadata unavailable")
		streams = ffmpeg.EmptyProbeInfo()
	}

	id, done := h.tasks.EnqueueExtractAudio(abs)
	selected := SelectedFile{Path: abs, AudioStreams: streams, TaskID: id}
	h.publishFileEvent(selectFileEvent{Event: fileEventInfoReady, VideoFile: selected})

	go h.awaitExtraction(abs, id, done)
	return selected, nil
}

func (h *Handler) awaitExtraction(path, id string, done <-chan ffmpeg.ExtractResult) {
	result, ok := <-done
	if !ok {
		h.log.WithFields(logrus.Fields{"task_id": id, "path": path}).Debug("Extraction ended without a result")
		return
	}
	h.publishFileEvent(selectFileEvent{
		Event:        fileEventStreamsReady,
		VideoFile:    path,
		AudioStreams: result.AudioStreams,
	})
}

func (h *Handler) publishFileEvent(e selectFileEvent) {
	if h.events == nil {
		return
	}
	h.events.Publish(Event{Type: EventSelectNewVideoFile, Payload: e})
}
