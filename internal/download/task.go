package download

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a task.
type State string

const (
	StateScheduled   State = "scheduled"
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"

	// StateInterrupted marks work dropped because the manager shut down.
	StateInterrupted State = "interrupted"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed, StateInterrupted:
		return true
	}
	return false
}

// Status strings passed to ProgressFunc.
const (
	StatusScheduled   = "Scheduled"
	StatusQueued      = "Queued"
	StatusDownloading = "Downloading"
	StatusProcessing  = "Processing"
	StatusFinalizing  = "Finalizing"
	StatusCompleted   = "Completed"
	StatusPaused      = "Paused"
	StatusCancelled   = "Cancelled"
	StatusInterrupted = "Interrupted"

	// PercentError is the percent value reported with a failure message.
	PercentError = "Error"
)

// ProgressFunc receives "NN.N%" (or "" when no percentage applies) and a status.
type ProgressFunc func(percent, status string)

// OnStartFunc is called with the downloader handle once a task leaves the queue.
type OnStartFunc func(h Handle)

// Handle controls a running download.
type Handle interface {
	Cancel()
	Pause()
	Params() Params
	PID() int
}

// Request describes a download to enqueue or schedule.
type Request struct {
	URL            string
	FormatID       string
	Title          string
	Ext            string
	ForceOverwrite bool
	Progress       ProgressFunc
	OnStart        OnStartFunc
}

// Params are the inputs of a single yt-dlp run.
type Params struct {
	URL            string `json:"url"`
	FormatID       string `json:"format_id"`
	Title          string `json:"title"`
	Ext            string `json:"ext"`
	ForceOverwrite bool   `json:"force_overwrite"`
}

// Task is one unit of queued work.
type Task struct {
	ID             string
	URL            string
	FormatID       string
	Title          string
	Ext            string
	ForceOverwrite bool
	Progress       ProgressFunc
	OnStart        OnStartFunc
	ScheduledAt    time.Time
	CreatedAt      time.Time
}

func newTask(req Request, at time.Time, now time.Time) *Task {
	return &Task{
		ID:             uuid.NewString(),
		URL:            strings.TrimSpace(req.URL),
		FormatID:       strings.TrimSpace(req.FormatID),
		Title:          req.Title,
		Ext:            strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Ext), ".")),
		ForceOverwrite: req.ForceOverwrite,
		Progress:       req.Progress,
		OnStart:        req.OnStart,
		ScheduledAt:    at,
		CreatedAt:      now,
	}
}

// Params returns the yt-dlp inputs of t.
func (t *Task) Params() Params {
	return Params{URL: t.URL, FormatID: t.FormatID, Title: t.Title, Ext: t.Ext, ForceOverwrite: t.ForceOverwrite}
}

// Item is the externally visible view of a task.
type Item struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title,omitempty"`
	FormatID    string     `json:"format_id,omitempty"`
	Ext         string     `json:"ext,omitempty"`
	State       State      `json:"state"`
	Progress    float64    `json:"progress"` // 0-100
	Percent     string     `json:"percent,omitempty"`
	Status      string     `json:"status,omitempty"`
	Error       string     `json:"error,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// parsePercent converts "45.3%" into 45.3. It returns -1 for anything else.
func parsePercent(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return -1
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return -1
	}
	if v > 100 {
		v = 100
	}
	return v
}
