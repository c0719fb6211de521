package download

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"bigtube/internal/logging"
	"bigtube/internal/validate"
)

// Format is one selectable download option.
type Format struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Ext        string  `json:"ext"`
	Size       string  `json:"size"`
	SizeMB     float64 `json:"size_mb"`
	Type       string  `json:"type"` // audio|video
	Resolution int     `json:"resolution,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	Quality    float64 `json:"quality,omitempty"` // audio bitrate (kbps)
	Codec      string  `json:"codec"`
}

// VideoInfo is the metadata and format listing of a URL.
type VideoInfo struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Duration  float64  `json:"duration"`
	Videos    []Format `json:"videos"`
	Audios    []Format `json:"audios"`
}

// SearchResult is one entry of a yt-dlp search.
type SearchResult struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Uploader  string `json:"uploader,omitempty"`
}

// rawInfo mirrors the subset of yt-dlp --dump-single-json we read.
type rawInfo struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	WebpageURL string      `json:"webpage_url"`
	URL        string      `json:"url"`
	Thumbnail  string      `json:"thumbnail"`
	Thumbnails []rawThumb  `json:"thumbnails"`
	Duration   float64     `json:"duration"`
	Formats    []rawFormat `json:"formats"`
	Entries    []rawEntry  `json:"entries"`
}

type rawThumb struct {
	URL string `json:"url"`
}

type rawFormat struct {
	FormatID       string   `json:"format_id"`
	FormatNote     string   `json:"format_note"`
	Protocol       string   `json:"protocol"`
	Ext            string   `json:"ext"`
	VCodec         *string  `json:"vcodec"`
	ACodec         *string  `json:"acodec"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	TBR            *float64 `json:"tbr"`
	ABR            *float64 `json:"abr"`
	Height         *int     `json:"height"`
	FPS            *float64 `json:"fps"`
	DynamicRange   string   `json:"dynamic_range"`
}

type rawEntry struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	WebpageURL     string     `json:"webpage_url"`
	URL            string     `json:"url"`
	Thumbnail      string     `json:"thumbnail"`
	Thumbnails     []rawThumb `json:"thumbnails"`
	DurationString string     `json:"duration_string"`
	Duration       float64    `json:"duration"`
	Uploader       string     `json:"uploader"`
	Channel        string     `json:"channel"`
}

// runner executes a command and returns its stdout.
type runner func(ctx context.Context, bin string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, validate.Permanent(fmt.Errorf("%w: %v", ErrYTDLPNotFound, err))
		}
		if tail := tailString(stderr.String(), 512); tail != "" {
			return nil, fmt.Errorf("yt-dlp: %w: %s", err, tail)
		}
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}
	return stdout.Bytes(), nil
}

// InfoFetcher runs yt-dlp metadata queries with an expiring LRU in front.
type InfoFetcher struct {
	bin     string
	cache   *expirable.LRU[string, *VideoInfo]
	retry   validate.RetryConfig
	timeout time.Duration
	run     runner
}

// NewInfoFetcher creates a fetcher caching up to size results for ttl.
func NewInfoFetcher(bin string, size int, ttl time.Duration) *InfoFetcher {
	if bin == "" {
		bin = "yt-dlp"
	}
	if size < 1 {
		size = 64
	}
	return &InfoFetcher{
		bin:     bin,
		cache:   expirable.NewLRU[string, *VideoInfo](size, nil, ttl),
		retry:   validate.DefaultRetry,
		timeout: 60 * time.Second,
		run:     execRunner,
	}
}

// FetchVideoInfo returns the title and format listing of url.
func (f *InfoFetcher) FetchVideoInfo(ctx context.Context, url string) (*VideoInfo, error) {
	url = validate.SanitizeURL(url)
	if cached, ok := f.cache.Get(url); ok {
		logging.LogMetadataFetch(url, true, nil)
		cp := *cached
		return &cp, nil
	}

	var out []byte
	err := validate.Retry(ctx, f.retry, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		var err error
		out, err = f.run(cctx, f.bin,
			"--dump-single-json",
			"--no-warnings",
			"--no-playlist",
			url)
		return err
	})
	if err != nil {
		logging.LogMetadataFetch(url, false, err)
		return nil, err
	}

	var raw rawInfo
	if err := json.Unmarshal(out, &raw); err != nil {
		logging.LogMetadataFetch(url, false, err)
		return nil, fmt.Errorf("%w: %v", ErrNoMediaInfo, err)
	}
	info := parseFormats(raw)
	if info.URL == "" {
		info.URL = url
	}
	if info.Title == "" {
		info.Title = url
	}
	f.cache.Add(url, info)
	logging.LogMetadataFetch(url, false, nil)
	cp := *info
	return &cp, nil
}

// Search runs a ytsearchN query and returns up to n results.
func (f *InfoFetcher) Search(ctx context.Context, query string, n int) ([]SearchResult, error) {
	query = validate.SanitizeSearchQuery(query, 200)
	if query == "" {
		return []SearchResult{}, nil
	}
	if n < 1 || n > 50 {
		n = 10
	}
	cctx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	out, err := f.run(cctx, f.bin,
		fmt.Sprintf("ytsearch%d:%s", n, query),
		"--flat-playlist",
		"--dump-single-json",
		"--no-warnings")
	if err != nil {
		return nil, err
	}
	var raw rawInfo
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	results := make([]SearchResult, 0, len(raw.Entries))
	for _, e := range raw.Entries {
		r := SearchResult{
			Title:     e.Title,
			URL:       e.WebpageURL,
			Thumbnail: e.Thumbnail,
			Duration:  e.DurationString,
			Uploader:  e.Uploader,
		}
		if r.URL == "" {
			if strings.HasPrefix(e.URL, "http") {
				r.URL = e.URL
			} else if e.ID != "" {
				r.URL = "https://www.youtube.com/watch?v=" + e.ID
			}
		}
		if r.Thumbnail == "" && len(e.Thumbnails) > 0 {
			r.Thumbnail = e.Thumbnails[len(e.Thumbnails)-1].URL
		}
		if r.Duration == "" && e.Duration > 0 {
			r.Duration = formatClock(e.Duration)
		}
		if r.Uploader == "" {
			r.Uploader = e.Channel
		}
		results = append(results, r)
	}
	return results, nil
}

// parseFormats splits raw formats into deduplicated, sorted audio and video lists.
func parseFormats(raw rawInfo) *VideoInfo {
	info := &VideoInfo{
		ID:        raw.ID,
		Title:     raw.Title,
		URL:       raw.WebpageURL,
		Thumbnail: raw.Thumbnail,
		Duration:  raw.Duration,
		Videos:    []Format{},
		Audios:    []Format{},
	}
	if info.URL == "" {
		info.URL = raw.URL
	}
	if info.Thumbnail == "" && len(raw.Thumbnails) > 0 {
		info.Thumbnail = raw.Thumbnails[len(raw.Thumbnails)-1].URL
	}

	for _, rf := range raw.Formats {
		if strings.Contains(rf.FormatNote, "storyboard") || rf.Protocol == "http_dash_segments" {
			continue
		}
		vcodec := codecName(rf.VCodec)
		acodec := codecName(rf.ACodec)

		size := formatSize(rf, raw.Duration)
		sizeMB := size / 1024 / 1024
		sizeLabel := "? MB"
		if size > 0 {
			sizeLabel = humanize.IBytes(uint64(size))
		}

		height := 0
		if rf.Height != nil {
			height = *rf.Height
		}

		switch {
		case vcodec == "none" && acodec != "none":
			abr := deref(rf.ABR)
			info.Audios = append(info.Audios, Format{
				ID:      rf.FormatID,
				Label:   fmt.Sprintf("Audio %s - %dkbps", strings.ToUpper(rf.Ext), int(abr)),
				Ext:     rf.Ext,
				Size:    sizeLabel,
				SizeMB:  sizeMB,
				Type:    "audio",
				Quality: abr,
				Codec:   acodec,
			})
		case height > 0:
			fps := deref(rf.FPS)
			info.Videos = append(info.Videos, Format{
				ID:         rf.FormatID,
				Label:      videoLabel(height, fps, rf.Ext, vcodec, rf.DynamicRange),
				Ext:        rf.Ext,
				Size:       sizeLabel,
				SizeMB:     sizeMB,
				Type:       "video",
				Resolution: height,
				FPS:        fps,
				Codec:      strings.ToLower(vcodec),
			})
		}
	}

	sort.SliceStable(info.Audios, func(i, j int) bool {
		a, b := info.Audios[i], info.Audios[j]
		if a.Quality != b.Quality {
			return a.Quality > b.Quality
		}
		return a.SizeMB > b.SizeMB
	})
	info.Audios = dedupeFormats(info.Audios)

	sort.SliceStable(info.Videos, func(i, j int) bool {
		a, b := info.Videos[i], info.Videos[j]
		if a.Resolution != b.Resolution {
			return a.Resolution > b.Resolution
		}
		if a.FPS != b.FPS {
			return a.FPS > b.FPS
		}
		return a.SizeMB > b.SizeMB
	})
	info.Videos = dedupeFormats(info.Videos)
	return info
}

// formatSize returns bytes from filesize, filesize_approx or tbr*duration.
func formatSize(rf rawFormat, duration float64) float64 {
	if v := deref(rf.Filesize); v > 0 {
		return v
	}
	if v := deref(rf.FilesizeApprox); v > 0 {
		return v
	}
	if tbr := deref(rf.TBR); tbr > 0 && duration > 0 {
		return tbr * 1024 / 8 * duration
	}
	return 0
}

func videoLabel(height int, fps float64, ext, vcodec, dynamicRange string) string {
	parts := []string{fmt.Sprintf("%dp", height)}
	if fps > 30 {
		parts = append(parts, fmt.Sprintf("%dfps", int(fps)))
	}
	parts = append(parts, "("+ext+")")

	vc := strings.ToLower(vcodec)
	switch {
	case strings.Contains(vc, "av01"):
		parts = append(parts, "[AV1]")
	case strings.Contains(vc, "vp9"), strings.Contains(vc, "vp09"):
		parts = append(parts, "[VP9]")
	case strings.Contains(vc, "avc1"), strings.Contains(vc, "h264"):
		parts = append(parts, "[H.264]")
	default:
		parts = append(parts, "["+strings.ToUpper(vc)+"]")
	}
	if dynamicRange == "HDR" {
		parts = append(parts, "HDR")
	}
	return strings.Join(parts, " ")
}

// dedupeFormats keeps the first format per (label, ext, whole MB); callers
// sort best first so the kept entry is the highest ranked.
func dedupeFormats(in []Format) []Format {
	type key struct {
		label, ext string
		mb         int
	}
	seen := make(map[key]bool, len(in))
	out := make([]Format, 0, len(in))
	for _, f := range in {
		k := key{f.Label, f.Ext, int(f.SizeMB)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

// codecName strips the profile suffix ("avc1.64001F" -> "avc1"); null means none.
func codecName(c *string) string {
	if c == nil || *c == "" {
		return "none"
	}
	name, _, _ := strings.Cut(*c, ".")
	return name
}

func deref(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return 0
	}
	return *v
}

func formatClock(seconds float64) string {
	s := int(seconds)
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return strconv.Itoa(h) + ":" + fmt.Sprintf("%02d:%02d", m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
