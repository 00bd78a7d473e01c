package task

import "math"

// ProgressState is the tri-state of the OS taskbar/dock indicator.
type ProgressState string

const (
	ProgressNone          ProgressState = "none"
	ProgressIndeterminate ProgressState = "indeterminate"
	ProgressNormal        ProgressState = "normal"
)

// ProgressBar is the side-channel value emitted alongside each queue update.
type ProgressBar struct {
	State   ProgressState `json:"state"`
	Percent int           `json:"percent,omitempty"`
}

// Update is one status broadcast: the whole queue plus the progress indicator.
type Update struct {
	Tasks    []Snapshot  `json:"tasks"`
	Progress ProgressBar `json:"progress"`
}

// Broadcaster receives every queue update in causal order.
type Broadcaster interface {
	BroadcastQueue(update Update)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(Update)

func (f BroadcasterFunc) BroadcastQueue(u Update) { f(u) }

func progressBarFor(tasks []Snapshot) ProgressBar {
	for _, t := range tasks {
		if t.Status != StatusInProgress {
			continue
		}
		if t.Progress <= 0 || math.IsNaN(t.Progress) {
			return ProgressBar{State: ProgressIndeterminate}
		}
		return ProgressBar{State: ProgressNormal, Percent: int(math.Min(t.Progress, 1) * 100)}
	}
	return ProgressBar{State: ProgressNone}
}
