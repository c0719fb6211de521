package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"bigtube/internal/download"
	"bigtube/internal/history"
	"bigtube/internal/store"
)

type downloadManager interface {
	AddDownload(req download.Request) (string, error)
	ScheduleDownload(at time.Time, req download.Request) (string, error)
	CancelTask(id string) bool
	PauseTask(id string) bool
	ResumeTask(id string) (bool, error)
	SetMaxConcurrent(n int)
	Snapshot(id string) []*download.Item
	Stats() download.Stats
}

// InfoSource fetches metadata and search results. *download.InfoFetcher satisfies it.
type InfoSource interface {
	FetchVideoInfo(ctx context.Context, url string) (*download.VideoInfo, error)
	Search(ctx context.Context, query string, n int) ([]download.SearchResult, error)
}

// Options wires optional collaborators. A nil field disables the routes that need it.
type Options struct {
	Info     InfoSource
	History  *history.Downloads
	Searches *history.Searches
	Hub      *Hub

	// RateLimit is requests per second per client IP; zero means 10.
	RateLimit float64
	RateBurst int

	Version string
}

// Server is the HTTP front end of the download manager.
type Server struct {
	mgr     downloadManager
	st      *store.Store
	opts    Options
	rl      *ipRateLimiter
	handler http.Handler
}

// New returns a Server with routes and middleware wired.
// A nil store disables the ledger-backed routes.
func New(mgr downloadManager, st *store.Store, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	s := &Server{
		mgr:  mgr,
		st:   st,
		opts: opts,
		rl:   newRateLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
	}
	s.handler = recoverer(logger(s.routes()))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases the rate limiter.
func (s *Server) Close() {
	s.rl.Stop()
}

func (s *Server) routes() *http.ServeMux {
	rl := s.rl
	mux := http.NewServeMux()

	mux.HandleFunc("/api/download", with(rl, s.handleDownload))
	mux.HandleFunc("/api/status", with(rl, s.handleStatus))
	mux.HandleFunc("/api/stats", with(rl, s.handleStats))
	mux.HandleFunc("/api/cancel", with(rl, s.handleTaskAction(actionCancel)))
	mux.HandleFunc("/api/pause", with(rl, s.handleTaskAction(actionPause)))
	mux.HandleFunc("/api/resume", with(rl, s.handleTaskAction(actionResume)))
	mux.HandleFunc("/api/concurrency", with(rl, s.handleConcurrency))

	if s.opts.Info != nil {
		mux.HandleFunc("/api/info", with(rl, s.handleInfo))
		mux.HandleFunc("/api/search", with(rl, s.handleSearch))
	}
	if s.opts.Searches != nil {
		mux.HandleFunc("/api/search/history", with(rl, s.handleSearchHistory))
	}
	if s.opts.History != nil {
		mux.HandleFunc("/api/history", with(rl, s.handleHistory))
	}
	if s.st != nil {
		mux.HandleFunc("/api/downloads", with(rl, s.handleDownloads))
	}
	if s.opts.Hub != nil {
		mux.HandleFunc("/ws", s.handleWS)
	}

	mux.HandleFunc("/", with(rl, s.handleDashboard))
	mux.HandleFunc("/dashboard", with(rl, s.handleDashboard))
	mux.HandleFunc("/dashboard/rows", with(rl, s.handleRows))
	mux.HandleFunc("/dashboard/enqueue", with(rl, s.handleEnqueueForm))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.opts.Hub.serve(w, r, func() []*download.Item { return s.mgr.Snapshot("") })
}

// Utilities

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"status": "error", "message": msg})
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// errorStatus maps domain errors onto HTTP status codes and wire messages.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, download.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, errAlreadyDownloaded):
		return http.StatusConflict, "already_downloaded"
	case errors.Is(err, download.ErrEmptyURL):
		return http.StatusBadRequest, "invalid_url"
	case errors.Is(err, download.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, download.ErrYTDLPNotFound):
		return http.StatusServiceUnavailable, "yt_dlp_not_found"
	case errors.Is(err, download.ErrNoMediaInfo):
		return http.StatusUnprocessableEntity, "no_media_info"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
