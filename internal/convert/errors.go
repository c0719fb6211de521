package convert

import "errors"

var (
	// ErrFFmpegNotFound indicates ffmpeg or ffprobe could not be resolved
	ErrFFmpegNotFound = errors.New("ffmpeg_not_found")

	// ErrInputNotFound indicates the source file does not exist
	ErrInputNotFound = errors.New("input_not_found")

	// ErrEmptyFormat rejects conversions without a target extension
	ErrEmptyFormat = errors.New("empty_format")

	// ErrCancelled indicates the conversion was stopped before ffmpeg finished
	ErrCancelled = errors.New("conversion_cancelled")
)
