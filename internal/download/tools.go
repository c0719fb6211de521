package download

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CheckYTDLP ensures the yt-dlp binary resolves and runs.
func CheckYTDLP(bin string) error {
	if bin == "" {
		bin = "yt-dlp"
	}
	p, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrYTDLPNotFound, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, p, "--version").CombinedOutput(); err != nil {
		return fmt.Errorf("yt-dlp not runnable: %w: %s", err, tailString(string(out), 256))
	}
	return nil
}

// FFmpegAvailable reports whether the ffmpeg binary resolves on PATH.
func FFmpegAvailable(bin string) bool {
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	_, err := exec.LookPath(bin)
	return err == nil
}
