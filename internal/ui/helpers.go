//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.977 generate

package ui

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"bigtube/internal/download"
)

// ShortID trims a long task ID for display in the dashboard table.
// Counts runes, not bytes.
func ShortID(id string) string {
	const maxLen = 8
	if utf8.RuneCountInString(id) <= maxLen {
		return id
	}
	count := 0
	for i := range id {
		if count >= maxLen {
			return id[:i]
		}
		count++
	}
	return id
}

// ProgressWidth renders an inline CSS width for a 0-100 progress value.
func ProgressWidth(p float64) string {
	if math.IsNaN(p) || p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return fmt.Sprintf("width:%d%%", int(math.Floor(p)))
}

// StateClass maps a task state to a badge class.
func StateClass(s download.State) string {
	switch s {
	case download.StateDownloading:
		return "badge badge-active"
	case download.StateCompleted:
		return "badge badge-done"
	case download.StateFailed:
		return "badge badge-error"
	case download.StatePaused, download.StateScheduled:
		return "badge badge-wait"
	case download.StateCancelled, download.StateInterrupted:
		return "badge badge-muted"
	default:
		return "badge"
	}
}

// RowStatus is the status cell text: the error for failures and the live
// yt-dlp status while downloading.
func RowStatus(it *download.Item) string {
	switch {
	case it.State == download.StateFailed && it.Error != "":
		return string(it.State) + ": " + it.Error
	case it.State == download.StateDownloading && it.Status != "":
		return strings.ToLower(it.Status)
	default:
		return string(it.State)
	}
}

// DisplayTitle prefers the title and falls back to the URL.
func DisplayTitle(it *download.Item) string {
	if it.Title != "" {
		return TruncateWithEllipsis(it.Title, 80)
	}
	return TruncateWithEllipsis(it.URL, 80)
}

// Ago formats t relative to now, or "-" for the zero time.
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
