package download

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		line    string
		ok      bool
		percent string
		status  string
	}{
		{"[download]  42.3% of ~10.00MiB at 1.00MiB/s ETA 00:05", true, "42.3%", StatusDownloading},
		{"[download] 100% of 10.00MiB in 00:00:03", true, "100%", StatusDownloading},
		{"[download]   7% of 3MiB", true, "7%", StatusDownloading},
		{"[download] Destination: /tmp/x.mp4", false, "", ""},
		{"[Merger] Merging formats into \"x.mp4\"", true, "99%", StatusProcessing},
		{"[ExtractAudio] Destination: x.mp3", true, "99%", StatusProcessing},
		{"[FixupM3u8] Fixing MPEG-TS in MP4 container", true, "99%", StatusFinalizing},
		{"[youtube] abc: Downloading webpage 100%", false, "", ""},
		{"", false, "", ""},
	}
	for _, tc := range cases {
		rep, ok := parseLine(tc.line)
		if ok != tc.ok {
			t.Fatalf("parseLine(%q) ok=%v want %v", tc.line, ok, tc.ok)
		}
		if rep.percent != tc.percent || rep.status != tc.status {
			t.Fatalf("parseLine(%q)=%+v want %q/%q", tc.line, rep, tc.percent, tc.status)
		}
	}
}

func TestParsePercent(t *testing.T) {
	cases := map[string]float64{
		"42.5%": 42.5,
		"100%":  100,
		" 7% ":  7,
		"150%":  100,
		"Error": -1,
		"":      -1,
		"-3%":   -1,
	}
	for in, want := range cases {
		if got := parsePercent(in); got != want {
			t.Fatalf("parsePercent(%q)=%v want %v", in, got, want)
		}
	}
}

func TestLineRing(t *testing.T) {
	r := newLineRing(3)
	if len(r.Lines()) != 0 {
		t.Fatal("expected empty ring")
	}
	r.add("a")
	r.add("b")
	if got := strings.Join(r.Lines(), ","); got != "a,b" {
		t.Fatalf("got %q", got)
	}
	r.add("c")
	r.add("d")
	r.add("e")
	if got := strings.Join(r.Lines(), ","); got != "c,d,e" {
		t.Fatalf("expected last three lines, got %q", got)
	}
}

func TestLineRing_KeepsLastFifty(t *testing.T) {
	r := newLineRing(0)
	for i := 0; i < 120; i++ {
		r.add(fmt.Sprintf("line %d", i))
	}
	lines := r.Lines()
	if len(lines) != 50 || lines[0] != "line 70" || lines[49] != "line 119" {
		t.Fatalf("unexpected ring contents: first=%q last=%q n=%d", lines[0], lines[len(lines)-1], len(lines))
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		lines []string
		want  error
	}{
		{[]string{"ERROR: Postprocessing: ffprobe and ffmpeg not found"}, ErrFFmpegMissing},
		{[]string{"WARNING: Signature extraction failed"}, ErrSignatureBlocked},
		{[]string{"ERROR: [youtube] abc: Private video. Sign in if you've been granted access"}, ErrSignatureBlocked},
		{[]string{"ERROR: [youtube] abc: Private video"}, ErrPrivateVideo},
		{[]string{"ERROR: unable to write data: No space left on device"}, ErrNoSpace},
		{[]string{"ERROR: Invalid merge output format"}, ErrFormatMerge},
		{[]string{"ERROR: HTTP Error 404"}, ErrUnknown},
		{nil, ErrUnknown},
	}
	for _, tc := range cases {
		if got := classifyFailure(tc.lines); !errors.Is(got, tc.want) {
			t.Fatalf("classifyFailure(%q)=%v want %v", tc.lines, got, tc.want)
		}
	}
}

func TestFailureMessage(t *testing.T) {
	wrapped := fmt.Errorf("yt-dlp: %w: tail", ErrNoSpace)
	if got := FailureMessage(wrapped); got != "No space left on device" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := FailureMessage(errors.New("other")); got != "Unknown error" {
		t.Fatalf("unexpected message %q", got)
	}
	if FailureMessage(nil) != "" {
		t.Fatal("nil error has no message")
	}
}

// Carriage-return-delimited progress updates must be split into lines.
func TestScanCRorLF(t *testing.T) {
	stream := "[download]  10.0%\r[download]  25.0%\r\n[download]  50.0%\nlast"
	sc := bufio.NewScanner(strings.NewReader(stream))
	sc.Split(scanCRorLF)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	want := []string{"[download]  10.0%", "[download]  25.0%", "[download]  50.0%", "last"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestTailString(t *testing.T) {
	if tailString("abc", 0) != "" {
		t.Fatal("n=0 must be empty")
	}
	if got := tailString("  short  ", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := tailString("0123456789", 4); got != "6789" {
		t.Fatalf("got %q", got)
	}
}
