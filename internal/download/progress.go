package download

import (
	"path/filepath"
	"regexp"
	"strings"
)

var percentRe = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// lineReport is what a single yt-dlp output line means for progress.
type lineReport struct {
	percent string
	status  string
}

// parseLine maps a yt-dlp output line to a progress report.
func parseLine(line string) (lineReport, bool) {
	switch {
	case strings.Contains(line, "[download]") && strings.Contains(line, "%"):
		m := percentRe.FindStringSubmatch(line)
		if m == nil {
			return lineReport{}, false
		}
		return lineReport{percent: m[1] + "%", status: StatusDownloading}, true
	case strings.Contains(line, "[Merger]") || strings.Contains(line, "[ExtractAudio]"):
		return lineReport{percent: "99%", status: StatusProcessing}, true
	case strings.Contains(line, "[Fixup"):
		return lineReport{percent: "99%", status: StatusFinalizing}, true
	}
	return lineReport{}, false
}

// isDiagnostic reports whether a line carries yt-dlp error or warning text.
func isDiagnostic(line string) bool {
	return strings.Contains(line, "ERROR:") || strings.Contains(line, "WARNING:")
}

// lineRing keeps the last n lines.
type lineRing struct {
	lines []string
	next  int
	full  bool
}

func newLineRing(n int) *lineRing {
	if n <= 0 {
		n = 50
	}
	return &lineRing{lines: make([]string, n)}
}

func (r *lineRing) add(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns the retained lines oldest first.
func (r *lineRing) Lines() []string {
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// classifyFailure picks the failure cause from recent diagnostic lines.
// Checks run in priority order; the first matching cause wins.
func classifyFailure(lines []string) error {
	joined := strings.ToLower(strings.Join(lines, "\n"))
	switch {
	case strings.Contains(joined, "ffmpeg"):
		return ErrFFmpegMissing
	case strings.Contains(joined, "sign"):
		return ErrSignatureBlocked
	case strings.Contains(joined, "private video"):
		return ErrPrivateVideo
	case strings.Contains(joined, "space"):
		return ErrNoSpace
	case strings.Contains(joined, "invalid merge"):
		return ErrFormatMerge
	}
	return ErrUnknown
}

// extractFilename extracts the downloaded filename from yt-dlp output
func extractFilename(lines []string) string {
	var (
		mergedName      string
		extractedName   string
		alreadyDLName   string
		lastDestination string
	)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Prefer explicit final filename from merger stage
		if strings.Contains(line, "Merging formats into") {
			if name := quoted(line); name != "" {
				mergedName = name
				continue
			}
		}
		if strings.HasPrefix(line, "[ExtractAudio]") && strings.Contains(line, "Destination:") {
			parts := strings.SplitN(line, "Destination:", 2)
			extractedName = strings.TrimSpace(parts[1])
			continue
		}
		// Format: [download] Title.mp4 has already been downloaded
		if strings.HasPrefix(line, "[download]") && strings.Contains(line, "has already been downloaded") {
			if i := strings.Index(line, "] "); i != -1 {
				rest := line[i+2:]
				if j := strings.Index(rest, " has already been downloaded"); j != -1 {
					alreadyDLName = strings.TrimSpace(rest[:j])
					continue
				}
			}
		}
		// Destination lines may be intermediate fXXX selections
		if strings.Contains(line, "Destination:") {
			parts := strings.SplitN(line, "Destination:", 2)
			lastDestination = strings.TrimSpace(parts[1])
		}
	}
	switch {
	case mergedName != "":
		return mergedName
	case extractedName != "":
		return extractedName
	case alreadyDLName != "":
		return alreadyDLName
	default:
		return lastDestination
	}
}

// quoted returns the first single- or double-quoted segment of line.
func quoted(line string) string {
	start := strings.IndexAny(line, "'\"")
	if start == -1 {
		return ""
	}
	quote := line[start]
	rest := line[start+1:]
	if end := strings.IndexByte(rest, quote); end != -1 {
		return rest[:end]
	}
	return ""
}

// resolveOutput joins a reported filename onto dir unless it is already absolute.
func resolveOutput(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	if filepath.Dir(name) != "." {
		return name
	}
	return filepath.Join(dir, name)
}

// scanCRorLF is like bufio.ScanLines but treats a bare '\r' as a line
// terminator as well. It also handles CRLF and strips a trailing CR.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	// If at EOF and no data, return no token
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	// Search for newline or carriage return
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if data[i] == '\r' {
			// If CRLF, consume both; else just CR
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			// A CR at the end of the buffer may be the first half of CRLF
			if i+1 == len(data) && !atEOF {
				return 0, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	// If at EOF, return the remaining data.
	if atEOF {
		return len(data), data, nil
	}
	// Request more data.
	return 0, nil, nil
}

// tailString returns the last at most n bytes from s (by rune boundary best-effort).
func tailString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
