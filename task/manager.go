package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"

	"qwcat/ffmpeg"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskFinished = errors.New("task already finished")
	errCanceled     = errors.New("task canceled")
)

// Runner performs the external work behind each task kind.
type Runner interface {
	ExtractAudio(ctx context.Context, source string, progress ffmpeg.ProgressFunc) (ffmpeg.ExtractResult, error)
	ExportVideo(ctx context.Context, opts ffmpeg.ExportOptions, progress ffmpeg.ProgressFunc) (ffmpeg.ExportResult, error)
	DownloadTool(ctx context.Context, progress ffmpeg.ProgressFunc) (ffmpeg.DownloadResult, error)
}

// Manager holds the ordered task queue and runs at most one task at a time.
// Tasks are kept for the lifetime of the process.
type Manager struct {
	runner      Runner
	broadcaster Broadcaster
	log         *logrus.Entry

	mu    sync.Mutex // guards tasks; held only for push, remove and scan
	tasks []*task

	// bmu serializes snapshot+send so broadcasts never go backwards.
	bmu sync.Mutex

	wake chan struct{}
	wg   sync.WaitGroup
}

func NewManager(runner Runner, broadcaster Broadcaster, logger *logrus.Logger) *Manager {
	if broadcaster == nil {
		broadcaster = BroadcasterFunc(func(Update) {})
	}
	return &Manager{
		runner:      runner,
		broadcaster: broadcaster,
		log:         logger.WithField("component", "scheduler"),
		wake:        make(chan struct{}, 1),
	}
}

// Run is the coordination loop. It wakes on every enqueue and completion and
// promotes the next queued task when nothing is running. On shutdown it
// cancels the running task and waits for it to finish.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("Task scheduler started")
	defer m.wg.Wait()

	m.notify()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Task scheduler shutting down")
			return nil
		case <-m.wake:
			m.runNext(ctx)
		}
	}
}

func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// runNext scans in insertion order. Any InProgress task blocks promotion.
// The scan and the Queued->InProgress transition happen under one lock.
func (m *Manager) runNext(ctx context.Context) {
	m.mu.Lock()
	var next *task
	for _, t := range m.tasks {
		switch t.getStatus() {
		case StatusInProgress:
			m.mu.Unlock()
			return
		case StatusQueued:
			if next == nil {
				next = t
			}
		}
	}
	if next == nil {
		m.mu.Unlock()
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	next.start(cancel)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.execute(taskCtx, cancel, next)
}

func (m *Manager) execute(ctx context.Context, cancel context.CancelFunc, t *task) {
	defer m.wg.Done()
	defer cancel()

	log := m.log.WithFields(logrus.Fields{"task_id": t.id, "kind": t.kind})
	log.Info("Processing task")
	m.broadcast()

	progress := func(fraction float64) {
		t.setProgress(fraction)
		m.broadcast()
	}

	started := time.Now()
	err := m.dispatch(ctx, t, progress)
	taskDuration.WithLabelValues(string(t.kind)).Observe(time.Since(started).Seconds())

	if err != nil {
		t.fail(err)
		tasksTotal.WithLabelValues(string(t.kind), string(StatusFailed)).Inc()
		log.WithError(err).Warn("Task failed")
	} else {
		tasksTotal.WithLabelValues(string(t.kind), string(StatusFinished)).Inc()
		log.Info("Task completed successfully")
	}

	m.broadcast()
	m.notify()
}

// dispatch runs the kind-specific work and records the result. A task whose
// context was canceled fails even if the runner reported success.
func (m *Manager) dispatch(ctx context.Context, t *task, progress ffmpeg.ProgressFunc) error {
	switch t.kind {
	case KindExtractAudio:
		result, err := m.runner.ExtractAudio(ctx, t.sourcePath, progress)
		if err = settle(ctx, err); err != nil {
			return err
		}
		t.finishExtract(result)
	case KindExportVideo:
		result, err := m.runner.ExportVideo(ctx, t.export, progress)
		if err = settle(ctx, err); err != nil {
			return err
		}
		t.finishExport(result)
	case KindDownloadTool:
		result, err := m.runner.DownloadTool(ctx, progress)
		if err = settle(ctx, err); err != nil {
			return err
		}
		t.finishDownload(result)
	default:
		return fmt.Errorf("unknown task kind %q", t.kind)
	}
	return nil
}

func settle(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errCanceled
	}
	return nil
}

func (m *Manager) enqueue(t *task) {
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"task_id": t.id, "kind": t.kind}).Info("Task submitted to queue")
	m.broadcast()
	m.notify()
}

func newTask(kind Kind) *task {
	return &task{
		id:        fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		kind:      kind,
		createdAt: time.Now(),
		status:    StatusQueued,
	}
}

// EnqueueExtractAudio queues extraction of the secondary audio streams of
// path. The returned channel receives the result once if the task finishes
// and is closed either way; callers that do not care may ignore it.
func (m *Manager) EnqueueExtractAudio(path string) (string, <-chan ffmpeg.ExtractResult) {
	t := newTask(KindExtractAudio)
	t.sourcePath = path
	t.done = make(chan ffmpeg.ExtractResult, 1)
	done := t.done
	m.enqueue(t)
	return t.id, done
}

// EnqueueExportVideo queues an export. Options are validated up front; the
// allow-list check happens when the task runs.
func (m *Manager) EnqueueExportVideo(opts ffmpeg.ExportOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	t := newTask(KindExportVideo)
	t.export = opts
	t.export.ActiveAudioStreams = append([]ffmpeg.ExportAudioStream(nil), opts.ActiveAudioStreams...)
	m.enqueue(t)
	return t.id, nil
}

func (m *Manager) EnqueueDownloadTool() string {
	t := newTask(KindDownloadTool)
	m.enqueue(t)
	return t.id
}

// Cancel removes a queued task or interrupts the running one. The running
// task then resolves to Failed through the normal completion path.
func (m *Manager) Cancel(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.tasks) {
		m.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrTaskNotFound, index)
	}

	t := m.tasks[index]
	t.mu.Lock()
	status := t.status
	switch status {
	case StatusQueued:
		m.tasks = append(m.tasks[:index], m.tasks[index+1:]...)
		t.closeDoneLocked()
	case StatusInProgress:
		if t.cancel != nil {
			t.cancel()
		}
	}
	t.mu.Unlock()
	m.mu.Unlock()

	log := m.log.WithFields(logrus.Fields{"task_id": t.id, "kind": t.kind})
	switch status {
	case StatusQueued:
		log.Info("Task removed from queue")
		m.broadcast()
	case StatusInProgress:
		log.Info("Cancellation signal sent to running task")
	default:
		return fmt.Errorf("%w: cannot cancel task in state: %s", ErrTaskFinished, status)
	}
	return nil
}

// List returns a snapshot of every task in queue order.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	tasks := append([]*task(nil), m.tasks...)
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.snapshot())
	}
	return out
}

// Current returns what the next broadcast would carry.
func (m *Manager) Current() Update {
	tasks := m.List()
	return Update{Tasks: tasks, Progress: progressBarFor(tasks)}
}

func (m *Manager) broadcast() {
	m.bmu.Lock()
	defer m.bmu.Unlock()

	update := m.Current()
	observeQueue(update.Tasks)
	m.broadcaster.BroadcastQueue(update)
}
