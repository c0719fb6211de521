package history

import (
	"path/filepath"

	"bigtube/internal/download"
	"bigtube/internal/logging"
	"bigtube/internal/validate"
)

// Tracker mirrors manager transitions into the download history.
// Cancelled tasks are removed; everything else, including tasks interrupted
// by shutdown, is kept with its last status.
type Tracker struct {
	downloads *Downloads
	outputDir string
}

// NewTracker returns hooks writing to d. outputDir is used to predict the
// file path until yt-dlp reports the real one.
func NewTracker(d *Downloads, outputDir string) *Tracker {
	return &Tracker{downloads: d, outputDir: outputDir}
}

// OnProgress is a no-op; history is only written on transitions.
func (t *Tracker) OnProgress(string, float64) {}

// OnStateChange records item's new state.
func (t *Tracker) OnStateChange(item download.Item) {
	var err error
	switch item.State {
	case download.StateScheduled, download.StateQueued:
		var found bool
		found, err = t.downloads.Update(item.ID, func(e *Entry) { e.Status = StatusPending })
		if err == nil && !found {
			_, err = t.downloads.Add(Entry{
				ID:       item.ID,
				Title:    item.Title,
				URL:      item.URL,
				FilePath: t.expectedPath(item),
				FormatID: item.FormatID,
				Ext:      item.Ext,
				Status:   StatusPending,
			})
		}
	case download.StateCancelled:
		_, err = t.downloads.RemoveID(item.ID)
	default:
		_, err = t.downloads.Update(item.ID, func(e *Entry) {
			e.Status = statusFor(item.State)
			e.Progress = item.Progress
			if item.Filename != "" {
				e.FilePath = item.Filename
			}
		})
	}
	if err != nil {
		logging.LogDBOperation("history_"+string(item.State), item.ID, err)
	}
}

func (t *Tracker) expectedPath(item download.Item) string {
	name := validate.SafeTitle(item.Title, item.FormatID)
	if item.Ext != "" {
		name += "." + item.Ext
	}
	return filepath.Join(t.outputDir, name)
}

func statusFor(s download.State) string {
	switch s {
	case download.StateDownloading:
		return StatusDownloading
	case download.StatePaused:
		return StatusPaused
	case download.StateCompleted:
		return StatusCompleted
	case download.StateFailed:
		return StatusError
	case download.StateCancelled:
		return StatusCancelled
	case download.StateInterrupted:
		return StatusInterrupted
	}
	return StatusPending
}
