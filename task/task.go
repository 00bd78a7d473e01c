package task

import (
	"context"
	"sync"
	"time"

	"qwcat/ffmpeg"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "inProgress"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

type Kind string

const (
	KindExtractAudio Kind = "extractAudio"
	KindExportVideo  Kind = "exportVideo"
	KindDownloadTool Kind = "downloadTool"
)

// Snapshot is the broadcastable copy of a task. It never carries the
// completion channel of an extraction.
type Snapshot struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	SourcePath    string                `json:"sourcePath,omitempty"`
	ExportOptions *ffmpeg.ExportOptions `json:"exportOptions,omitempty"`

	ExtractResult  *ffmpeg.ExtractResult  `json:"extractResult,omitempty"`
	ExportResult   *ffmpeg.ExportResult   `json:"exportResult,omitempty"`
	DownloadResult *ffmpeg.DownloadResult `json:"downloadResult,omitempty"`
}

// task is the execution record owned by the Manager. Its state is guarded by
// mu so broadcasters can read while the executor writes.
type task struct {
	id        string
	kind      Kind
	createdAt time.Time

	sourcePath string
	export     ffmpeg.ExportOptions

	mu          sync.RWMutex
	status      Status
	progress    float64
	err         string
	startedAt   time.Time
	completedAt time.Time
	cancel      context.CancelFunc

	extractResult  *ffmpeg.ExtractResult
	exportResult   *ffmpeg.ExportResult
	downloadResult *ffmpeg.DownloadResult

	// done is resolved at most once, then set to nil.
	done chan ffmpeg.ExtractResult
}

func (t *task) getStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *task) snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		ID:             t.id,
		Kind:           t.kind,
		Status:         t.status,
		Progress:       t.progress,
		Error:          t.err,
		CreatedAt:      t.createdAt,
		SourcePath:     t.sourcePath,
		ExtractResult:  t.extractResult,
		ExportResult:   t.exportResult,
		DownloadResult: t.downloadResult,
	}
	if t.kind == KindExportVideo {
		opts := t.export
		opts.ActiveAudioStreams = append([]ffmpeg.ExportAudioStream(nil), t.export.ActiveAudioStreams...)
		s.ExportOptions = &opts
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		s.StartedAt = &started
	}
	if !t.completedAt.IsZero() {
		completed := t.completedAt
		s.CompletedAt = &completed
	}
	return s
}

// start must be called with the queue lock held.
func (t *task) start(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusInProgress
	t.progress = 0
	t.startedAt = time.Now()
	t.cancel = cancel
}

// setProgress ignores updates that arrive after the task left InProgress.
func (t *task) setProgress(fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusInProgress {
		return
	}
	t.progress = fraction
}

func (t *task) finishExtract(result ffmpeg.ExtractResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusFinished
	t.progress = 1
	t.completedAt = time.Now()
	t.extractResult = &result
	if t.done != nil {
		t.done <- result
		close(t.done)
		t.done = nil
	}
}

func (t *task) finishExport(result ffmpeg.ExportResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusFinished
	t.progress = 1
	t.completedAt = time.Now()
	t.exportResult = &result
}

func (t *task) finishDownload(result ffmpeg.DownloadResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusFinished
	t.progress = 1
	t.completedAt = time.Now()
	t.downloadResult = &result
}

func (t *task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusFailed
	t.err = err.Error()
	t.completedAt = time.Now()
	t.closeDoneLocked()
}

// closeDoneLocked releases a waiter without a result.
func (t *task) closeDoneLocked() {
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}
