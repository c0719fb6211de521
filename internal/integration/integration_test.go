//go:build integration

package integration

import (
	"net/http"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"bigtube/internal/download"
)

// TestEndToEnd_RealYTDLP downloads INTEGRATION_URL with the yt-dlp on PATH.
// Progress must be observed mid-flight and never hit 100 before completion.
func TestEndToEnd_RealYTDLP(t *testing.T) {
	bin, err := exec.LookPath("yt-dlp")
	if err != nil {
		t.Skip("yt-dlp not found in PATH; skipping integration test")
	}
	url := os.Getenv("INTEGRATION_URL")
	if url == "" {
		url = "https://www.youtube.com/watch?v=zGDzdps75ns"
	}
	s := newStack(t, bin)

	code, body := s.post(t, "/api/download", map[string]any{"url": url, "title": "integration"})
	if code != http.StatusOK {
		t.Fatalf("enqueue status=%d body=%v", code, body)
	}
	id, _ := body["id"].(string)

	deadline := time.Now().Add(3 * time.Minute)
	sawMid := false
	var last download.Item
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		it, ok := s.status(id)
		if !ok {
			continue
		}
		last = it
		if it.State == download.StateFailed {
			if strings.Contains(it.Error, "Requested format is not available") ||
				strings.Contains(it.Error, "HTTP Error 403") {
				t.Skipf("skipping due to provider restrictions: %s", it.Error)
			}
			t.Fatalf("failed: %s", it.Error)
		}
		if it.State == download.StateCompleted {
			break
		}
		if it.Progress >= 100 {
			t.Fatalf("progress reached 100%% before completion; state=%s", it.State)
		}
		if it.Progress > 0 {
			sawMid = true
		}
	}
	if last.State != download.StateCompleted {
		t.Fatalf("timeout waiting for completion; last=%+v", last)
	}
	if _, err := os.Stat(last.Filename); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if !sawMid {
		t.Fatal("did not observe mid-progress before completion")
	}
}
