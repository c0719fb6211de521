// Package validate holds input sanitation shared by the CLI, the HTTP API and
// the downloader.
package validate

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// MaxURLLength caps accepted URLs.
const MaxURLLength = 2048

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	queryDropRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.,!?'"()&]`)
	filenameDropRe = regexp.MustCompile(`[^\p{L}\p{N}_\s\-().\[\]]`)
	dotsRe         = regexp.MustCompile(`\.+`)
)

// IsValidURL reports whether u is an absolute http(s) URL with a host.
func IsValidURL(u string) bool {
	u = strings.TrimSpace(u)
	if len(u) == 0 || len(u) > MaxURLLength {
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed == nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// SanitizeURL trims whitespace and adds https:// to bare www. hosts.
func SanitizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "www.") {
		u = "https://" + u
	}
	return whitespaceRe.ReplaceAllString(u, "")
}

// SanitizeSearchQuery strips characters outside letters, digits, whitespace
// and common punctuation, collapses spaces and truncates to max runes.
func SanitizeSearchQuery(q string, max int) string {
	if max <= 0 {
		max = 200
	}
	q = strings.TrimSpace(q)
	q = queryDropRe.ReplaceAllString(q, "")
	q = whitespaceRe.ReplaceAllString(q, " ")
	q = truncateRunes(q, max)
	return strings.TrimSpace(q)
}

// SanitizeFilename returns a filesystem-safe base name, never empty.
func SanitizeFilename(name string, max int) string {
	if max <= 0 {
		max = 200
	}
	if name == "" {
		return "untitled"
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = filenameDropRe.ReplaceAllString(name, "")
	name = strings.Trim(name, ". ")
	name = whitespaceRe.ReplaceAllString(name, " ")
	name = dotsRe.ReplaceAllString(name, ".")

	if len([]rune(name)) > max {
		base, ext := name, ""
		if i := strings.LastIndex(name, "."); i > 0 {
			base, ext = name[:i], name[i+1:]
		}
		if ext != "" {
			keep := max - len([]rune(ext)) - 1
			if keep < 1 {
				keep = 1
			}
			name = truncateRunes(base, keep) + "." + ext
		} else {
			name = truncateRunes(name, max)
		}
	}
	if name == "" || name == "." {
		return "untitled"
	}
	return name
}

// SafeTitle keeps letters, digits and " -_()." from title. An empty result
// falls back to video_<formatID>.
func SafeTitle(title, formatID string) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" -_().", r) {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "video_" + formatID
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
