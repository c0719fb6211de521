package download

import "errors"

var (
	// ErrShuttingDown indicates the manager is no longer accepting new downloads
	ErrShuttingDown = errors.New("shutting_down")

	// ErrEmptyURL rejects requests without a URL
	ErrEmptyURL = errors.New("empty_url")

	// ErrNotFound indicates no task with the given id is known
	ErrNotFound = errors.New("not_found")

	// ErrNoMediaInfo indicates metadata extraction produced no results
	ErrNoMediaInfo = errors.New("no_media_info")

	// ErrYTDLPNotFound indicates the yt-dlp binary could not be resolved
	ErrYTDLPNotFound = errors.New("yt_dlp_not_found")
)

// Failure causes derived from yt-dlp output.
var (
	ErrFFmpegMissing    = errors.New("ffmpeg_missing")
	ErrSignatureBlocked = errors.New("signature_blocked")
	ErrPrivateVideo     = errors.New("private_video")
	ErrNoSpace          = errors.New("no_space")
	ErrFormatMerge      = errors.New("format_merge")
	ErrUnknown          = errors.New("unknown_error")
)

var failureMessages = map[error]string{
	ErrFFmpegMissing:    "FFmpeg is not installed",
	ErrSignatureBlocked: "Blocked by the site (signature check)",
	ErrPrivateVideo:     "Video is private",
	ErrNoSpace:          "No space left on device",
	ErrFormatMerge:      "Internal format merge error",
	ErrUnknown:          "Unknown error",
	ErrYTDLPNotFound:    "yt-dlp is not installed",
}

// FailureMessage returns the user-facing text for a classified failure.
func FailureMessage(err error) string {
	for cause, msg := range failureMessages {
		if errors.Is(err, cause) {
			return msg
		}
	}
	if err == nil {
		return ""
	}
	return failureMessages[ErrUnknown]
}
