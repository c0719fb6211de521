package download

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bigtube/internal/validate"
)

const sampleInfoJSON = `{
  "id": "abc123",
  "title": "Sample Clip",
  "webpage_url": "https://www.youtube.com/watch?v=abc123",
  "thumbnail": "https://i.ytimg.com/vi/abc123/hq.jpg",
  "duration": 100,
  "formats": [
    {"format_id": "sb0", "format_note": "storyboard", "ext": "mhtml", "vcodec": "none", "acodec": "none"},
    {"format_id": "dash1", "protocol": "http_dash_segments", "ext": "mp4", "vcodec": "avc1.4d401e", "acodec": "none", "height": 480},
    {"format_id": "139", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.5", "abr": 48.8, "filesize": 600000},
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.5, "filesize": 1600000},
    {"format_id": "251", "ext": "webm", "vcodec": "none", "acodec": "opus", "abr": 129.5, "filesize": 2000000},
    {"format_id": "137", "ext": "mp4", "vcodec": "avc1.640028", "acodec": "none", "height": 1080, "fps": 30, "filesize": 52428800},
    {"format_id": "299", "ext": "mp4", "vcodec": "avc1.64002a", "acodec": "none", "height": 1080, "fps": 60, "tbr": 4000},
    {"format_id": "399", "ext": "mp4", "vcodec": "av01.0.08M.08", "acodec": "none", "height": 1080, "fps": 30, "filesize_approx": 31457280},
    {"format_id": "337", "ext": "webm", "vcodec": "vp09.02.51.10", "acodec": "none", "height": 2160, "fps": 60, "dynamic_range": "HDR"},
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1.42001E", "acodec": "mp4a.40.2", "height": 360, "fps": 25, "filesize": 5242880},
    {"format_id": "18b", "ext": "mp4", "vcodec": "avc1.42001E", "acodec": "mp4a.40.2", "height": 360, "fps": 25, "filesize": 5300000}
  ]
}`

func parseSample(t *testing.T) *VideoInfo {
	t.Helper()
	f := &InfoFetcher{
		cache: NewInfoFetcher("", 4, 0).cache,
		retry: validate.RetryConfig{MaxAttempts: 1},
		run: func(ctx context.Context, bin string, args ...string) ([]byte, error) {
			return []byte(sampleInfoJSON), nil
		},
		timeout: time.Second,
	}
	info, err := f.FetchVideoInfo(context.Background(), "https://www.youtube.com/watch?v=abc123")
	if err != nil {
		t.Fatalf("FetchVideoInfo: %v", err)
	}
	return info
}

func TestParseFormats_Metadata(t *testing.T) {
	info := parseSample(t)
	if info.ID != "abc123" || info.Title != "Sample Clip" || info.Duration != 100 {
		t.Fatalf("unexpected metadata %+v", info)
	}
	if info.URL != "https://www.youtube.com/watch?v=abc123" {
		t.Fatalf("unexpected url %q", info.URL)
	}
}

func TestParseFormats_Audio(t *testing.T) {
	info := parseSample(t)
	if len(info.Audios) != 3 {
		t.Fatalf("expected 3 audio formats, got %d: %+v", len(info.Audios), info.Audios)
	}
	// (abr, size) descending: 251 (129.5, 2.0MB) before 140 (129.5, 1.6MB) before 139
	order := []string{info.Audios[0].ID, info.Audios[1].ID, info.Audios[2].ID}
	if strings.Join(order, ",") != "251,140,139" {
		t.Fatalf("unexpected audio order %v", order)
	}
	if info.Audios[1].Label != "Audio M4A - 129kbps" {
		t.Fatalf("unexpected label %q", info.Audios[1].Label)
	}
	if info.Audios[0].Codec != "opus" || info.Audios[0].Type != "audio" {
		t.Fatalf("unexpected audio entry %+v", info.Audios[0])
	}
}

func TestParseFormats_Video(t *testing.T) {
	info := parseSample(t)
	ids := make([]string, 0, len(info.Videos))
	for _, v := range info.Videos {
		ids = append(ids, v.ID)
	}
	// storyboard and dash segments skipped; 18 deduped against the larger 18b (same label, ext, whole MB)
	want := "337,299,137,399,18b"
	if strings.Join(ids, ",") != want {
		t.Fatalf("video order = %v, want %s", ids, want)
	}

	labels := map[string]string{}
	for _, v := range info.Videos {
		labels[v.ID] = v.Label
	}
	cases := map[string]string{
		"337": "2160p 60fps (webm) [VP9] HDR",
		"299": "1080p 60fps (mp4) [H.264]",
		"137": "1080p (mp4) [H.264]",
		"399": "1080p (mp4) [AV1]",
		"18b": "360p (mp4) [H.264]",
	}
	for id, want := range cases {
		if labels[id] != want {
			t.Fatalf("label[%s] = %q, want %q", id, labels[id], want)
		}
	}
}

func TestParseFormats_DedupeKeepsBestRanked(t *testing.T) {
	var raw rawInfo
	err := json.Unmarshal([]byte(`{"id": "x", "duration": 10, "formats": [
		{"format_id": "a-low", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 128.1, "filesize": 1048576},
		{"format_id": "a-high", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 128.9, "filesize": 1048576},
		{"format_id": "v-29", "ext": "mp4", "vcodec": "avc1.640028", "acodec": "none", "height": 720, "fps": 25, "filesize": 3145728},
		{"format_id": "v-30", "ext": "mp4", "vcodec": "avc1.640028", "acodec": "none", "height": 720, "fps": 30, "filesize": 3145728}
	]}`), &raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	info := parseFormats(raw)
	if len(info.Audios) != 1 || info.Audios[0].ID != "a-high" {
		t.Fatalf("audio dedupe kept %+v, want a-high", info.Audios)
	}
	if len(info.Videos) != 1 || info.Videos[0].ID != "v-30" {
		t.Fatalf("video dedupe kept %+v, want v-30", info.Videos)
	}
}

func TestParseFormats_SizeFallbacks(t *testing.T) {
	info := parseSample(t)
	byID := map[string]Format{}
	for _, v := range info.Videos {
		byID[v.ID] = v
	}
	// tbr 4000 kbit/s * 100 s
	if got := byID["299"].SizeMB; got < 48.8 || got > 48.9 {
		t.Fatalf("tbr-derived size = %v MB", got)
	}
	if got := byID["399"].SizeMB; got != 30 {
		t.Fatalf("filesize_approx size = %v MB", got)
	}
	if byID["337"].Size != "? MB" {
		t.Fatalf("unknown size label = %q", byID["337"].Size)
	}
	if byID["137"].Size != "50 MiB" {
		t.Fatalf("humanized size label = %q", byID["137"].Size)
	}
}

func TestFetchVideoInfo_CachesAndRetries(t *testing.T) {
	var calls atomic.Int32
	f := NewInfoFetcher("yt-dlp", 4, time.Minute)
	f.retry = validate.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	f.run = func(ctx context.Context, bin string, args ...string) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient network error")
		}
		if args[0] != "--dump-single-json" || args[len(args)-1] != "https://example.com/v" {
			t.Errorf("unexpected args %v", args)
		}
		return []byte(sampleInfoJSON), nil
	}

	if _, err := f.FetchVideoInfo(context.Background(), " https://example.com/v "); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if _, err := f.FetchVideoInfo(context.Background(), "https://example.com/v"); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected one failed and one successful call then a cache hit, got %d calls", got)
	}
}

func TestFetchVideoInfo_BadJSON(t *testing.T) {
	f := NewInfoFetcher("yt-dlp", 4, time.Minute)
	f.retry = validate.RetryConfig{MaxAttempts: 1}
	f.run = func(ctx context.Context, bin string, args ...string) ([]byte, error) {
		return []byte("not json"), nil
	}
	if _, err := f.FetchVideoInfo(context.Background(), "https://example.com/v"); !errors.Is(err, ErrNoMediaInfo) {
		t.Fatalf("expected ErrNoMediaInfo, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	var gotArgs []string
	f := NewInfoFetcher("yt-dlp", 4, time.Minute)
	f.run = func(ctx context.Context, bin string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte(`{"entries": [
			{"id": "a1", "title": "First", "duration": 125, "uploader": "Chan", "thumbnails": [{"url": "small"}, {"url": "big"}]},
			{"id": "b2", "title": "Second", "webpage_url": "https://www.youtube.com/watch?v=b2", "duration_string": "1:02:03", "channel": "Other"}
		]}`), nil
	}

	res, err := f.Search(context.Background(), "lofi; beats", 5)
	if err != nil {
		t.Fatal(err)
	}
	if gotArgs[0] != "ytsearch5:lofi beats" {
		t.Fatalf("unexpected search arg %q", gotArgs[0])
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res))
	}
	if res[0].URL != "https://www.youtube.com/watch?v=a1" || res[0].Duration != "2:05" || res[0].Thumbnail != "big" {
		t.Fatalf("unexpected first result %+v", res[0])
	}
	if res[1].Uploader != "Other" || res[1].Duration != "1:02:03" {
		t.Fatalf("unexpected second result %+v", res[1])
	}

	empty, err := f.Search(context.Background(), "%%%", 5)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result for blank query, got %v %v", empty, err)
	}
}
