package logging

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// Logger is the global structured logger instance
	Logger *slog.Logger
)

// Init initializes the global structured logger
func Init(level slog.Level) {
	InitWriter(os.Stdout, level)
}

// InitWriter initializes the global logger writing JSON lines to w.
func InitWriter(w io.Writer, level slog.Level) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Format time as ISO8601
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(w, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactURL removes secrets from URL logs while retaining debugging value.
// It strips userinfo and masks query parameter values.
func RedactURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed == nil {
		return rawURL
	}

	parsed.User = nil

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			query.Set(key, "***")
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// LogTaskQueued logs a task entering the pending queue
func LogTaskQueued(taskID, url, title string, queueLen int) {
	if Logger == nil {
		return
	}
	Logger.Info("download queued",
		"event", "task_queued",
		"task_id", taskID,
		"url", RedactURL(url),
		"title", title,
		"queue_len", queueLen)
}

// LogTaskScheduled logs a task parked until its scheduled time
func LogTaskScheduled(taskID, title string, at time.Time) {
	if Logger == nil {
		return
	}
	Logger.Info("download scheduled",
		"event", "task_scheduled",
		"task_id", taskID,
		"title", title,
		"scheduled_at", at.Format(time.RFC3339))
}

// LogTaskDue logs a scheduled task promoted into the pending queue
func LogTaskDue(taskID, title string) {
	if Logger == nil {
		return
	}
	Logger.Info("scheduled download due",
		"event", "task_due",
		"task_id", taskID,
		"title", title)
}

// LogDownloadStart logs the start of a download
func LogDownloadStart(taskID, url string, active, limit int) {
	if Logger == nil {
		return
	}
	Logger.Info("download started",
		"event", "download_start",
		"task_id", taskID,
		"url", RedactURL(url),
		"active", active,
		"max_concurrent", limit)
}

// LogDownloadProgress logs download progress updates
func LogDownloadProgress(taskID string, progress float64) {
	if Logger == nil {
		return
	}
	Logger.Debug("download progress",
		"event", "download_progress",
		"task_id", taskID,
		"progress", progress)
}

// LogDownloadComplete logs successful download completion
func LogDownloadComplete(taskID, title string, elapsed time.Duration) {
	if Logger == nil {
		return
	}
	Logger.Info("download complete",
		"event", "download_complete",
		"task_id", taskID,
		"title", title,
		"elapsed_ms", elapsed.Milliseconds())
}

// LogDownloadError logs download failures
func LogDownloadError(taskID, msg string, err error) {
	if Logger == nil {
		return
	}
	Logger.Error(msg,
		"event", "download_error",
		"task_id", taskID,
		"error", err)
}

// LogStateChange logs task state transitions
func LogStateChange(taskID, url, state string) {
	if Logger == nil {
		return
	}
	Logger.Info("download state changed",
		"event", "download_state_change",
		"task_id", taskID,
		"url", RedactURL(url),
		"state", state)
}

// LogYTDLPCommand logs yt-dlp command execution
func LogYTDLPCommand(taskID, url, output string, success bool) {
	if Logger == nil {
		return
	}
	if success {
		Logger.Info("yt-dlp command success",
			"event", "ytdlp_success",
			"task_id", taskID,
			"url", RedactURL(url),
			"output", output)
	} else {
		Logger.Info("yt-dlp command started",
			"event", "ytdlp_start",
			"task_id", taskID,
			"url", RedactURL(url),
			"output", output)
	}
}

// LogProgressScanError logs progress scanning errors
func LogProgressScanError(taskID string, err error) {
	if Logger == nil {
		return
	}
	Logger.Warn("progress scan error",
		"event", "progress_scan_error",
		"task_id", taskID,
		"error", err)
}

// LogMetadataFetch logs metadata fetching operations
func LogMetadataFetch(url string, cached bool, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("metadata fetch failed",
			"event", "metadata_fetch_error",
			"url", RedactURL(url),
			"error", err)
	} else {
		Logger.Info("metadata fetched",
			"event", "metadata_fetch",
			"url", RedactURL(url),
			"cached", cached)
	}
}

// LogConversion logs ffmpeg conversion start and end
func LogConversion(input, output string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("conversion failed",
			"event", "conversion_error",
			"input", input,
			"output", output,
			"error", err)
	} else {
		Logger.Info("conversion finished",
			"event", "conversion_done",
			"input", input,
			"output", output)
	}
}

// LogDBOperation logs database operations
func LogDBOperation(operation, id string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("database operation failed",
			"event", "db_operation_error",
			"operation", operation,
			"id", id,
			"error", err)
	} else {
		Logger.Info("database operation",
			"event", "db_operation",
			"operation", operation,
			"id", id)
	}
}

// LogDBUpdate logs database updates
func LogDBUpdate(operation, id string, fields map[string]any) {
	if Logger == nil {
		return
	}
	attrs := []any{
		"event", "db_update",
		"operation", operation,
		"id", id,
	}
	for k, v := range fields {
		if strings.EqualFold(k, "url") {
			if urlValue, ok := v.(string); ok {
				v = RedactURL(urlValue)
			}
		}
		attrs = append(attrs, k, v)
	}
	Logger.Debug("database updated", attrs...)
}

// LogHTTPRequest logs HTTP request handling
func LogHTTPRequest(method, path, remoteAddr string, duration time.Duration, status, responseBytes int) {
	if Logger == nil {
		return
	}
	Logger.Info("http request",
		"event", "http_request",
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"duration_ms", duration.Milliseconds(),
		"status", status,
		"response_bytes", responseBytes)
}

// LogServerStart logs server startup
func LogServerStart(addr string, config map[string]any) {
	if Logger == nil {
		return
	}
	attrs := []any{
		"event", "server_start",
		"addr", addr,
	}
	for k, v := range config {
		attrs = append(attrs, k, v)
	}
	Logger.Info("server started", attrs...)
}

// LogServerShutdown logs server shutdown events
func LogServerShutdown(msg string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error(msg,
			"event", "server_shutdown_error",
			"error", err)
	} else {
		Logger.Info(msg,
			"event", "server_shutdown")
	}
}

// With returns a logger with additional context
func With(ctx context.Context, attrs ...any) *slog.Logger {
	if Logger == nil {
		return slog.Default()
	}
	return Logger.With(attrs...)
}
