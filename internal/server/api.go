package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bigtube/internal/download"
	"bigtube/internal/logging"
	"bigtube/internal/store"
	"bigtube/internal/validate"
)

type downloadRequest struct {
	URL            string     `json:"url"`
	FormatID       string     `json:"format_id"`
	Title          string     `json:"title"`
	Ext            string     `json:"ext"`
	ForceOverwrite bool       `json:"force_overwrite"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req downloadRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	id, scheduled, err := s.enqueue(r.Context(), req)
	if err != nil {
		code, msg := errorStatus(err)
		writeError(w, code, msg)
		return
	}
	msg := "enqueued"
	if scheduled {
		msg = "scheduled"
	}
	writeOK(w, map[string]any{"message": msg, "id": id})
}

// errAlreadyDownloaded rejects a URL the ledger has completed unless overwrite is forced.
var errAlreadyDownloaded = errors.New("already_downloaded")

// enqueue validates req and hands it to the manager, scheduling it when
// scheduled_at lies in the future.
func (s *Server) enqueue(ctx context.Context, req downloadRequest) (string, bool, error) {
	u := validate.SanitizeURL(req.URL)
	if !validate.IsValidURL(u) {
		return "", false, download.ErrEmptyURL
	}
	if s.st != nil && !req.ForceOverwrite {
		done, err := s.st.IsURLCompleted(ctx, u)
		if err != nil {
			logging.LogDBOperation("is_url_completed", "", err)
		} else if done {
			return "", false, errAlreadyDownloaded
		}
	}

	title := strings.TrimSpace(req.Title)
	if title == "" && s.opts.Info != nil {
		ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if info, err := s.opts.Info.FetchVideoInfo(ictx, u); err == nil {
			title = info.Title
		}
		cancel()
	}
	if title == "" {
		title = u
	}

	dr := download.Request{
		URL:            u,
		FormatID:       strings.TrimSpace(req.FormatID),
		Title:          title,
		Ext:            req.Ext,
		ForceOverwrite: req.ForceOverwrite,
	}
	if req.ScheduledAt != nil && req.ScheduledAt.After(time.Now()) {
		id, err := s.mgr.ScheduleDownload(*req.ScheduledAt, dr)
		return id, true, err
	}
	id, err := s.mgr.AddDownload(dr)
	return id, false, err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	items := s.mgr.Snapshot(id)
	if id != "" && len(items) == 0 {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeOK(w, map[string]any{"downloads": items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	fields := map[string]any{"stats": s.mgr.Stats()}
	if s.st != nil {
		counts, err := s.st.CountByStatus(r.Context())
		if err != nil {
			logging.LogDBOperation("count_by_status", "", err)
		} else {
			fields["ledger"] = counts
		}
	}
	if s.opts.Hub != nil {
		fields["ws_clients"] = s.opts.Hub.Len()
	}
	if s.opts.Version != "" {
		fields["version"] = s.opts.Version
	}
	writeOK(w, fields)
}

type taskAction int

const (
	actionCancel taskAction = iota
	actionPause
	actionResume
)

func (s *Server) handleTaskAction(action taskAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req idRequest
		if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		id := strings.TrimSpace(req.ID)
		var ok bool
		var err error
		switch action {
		case actionCancel:
			ok = s.mgr.CancelTask(id)
		case actionPause:
			ok = s.mgr.PauseTask(id)
		case actionResume:
			ok, err = s.mgr.ResumeTask(id)
		}
		if err != nil {
			code, msg := errorStatus(err)
			writeError(w, code, msg)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeOK(w, map[string]any{"id": id})
	}
}

func (s *Server) handleConcurrency(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeOK(w, map[string]any{"max": s.mgr.Stats().MaxConcurrent})
	case http.MethodPut, http.MethodPost:
		var req struct {
			Max int `json:"max"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		s.mgr.SetMaxConcurrent(req.Max)
		writeOK(w, map[string]any{"max": s.mgr.Stats().MaxConcurrent})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	u := validate.SanitizeURL(r.URL.Query().Get("url"))
	if !validate.IsValidURL(u) {
		writeError(w, http.StatusBadRequest, "invalid_url")
		return
	}
	info, err := s.opts.Info.FetchVideoInfo(r.Context(), u)
	if err != nil {
		code, msg := errorStatus(err)
		if code == http.StatusInternalServerError {
			code, msg = http.StatusBadGateway, "info_unavailable"
		}
		writeError(w, code, msg)
		return
	}
	writeOK(w, map[string]any{"info": info})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := validate.SanitizeSearchQuery(r.URL.Query().Get("q"), 200)
	if q == "" {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	results, err := s.opts.Info.Search(r.Context(), q, n)
	if err != nil {
		code, msg := errorStatus(err)
		if code == http.StatusInternalServerError {
			code, msg = http.StatusBadGateway, "search_failed"
		}
		writeError(w, code, msg)
		return
	}
	if s.opts.Searches != nil {
		if err := s.opts.Searches.Add(q); err != nil {
			logging.LogDBOperation("history_search", "", err)
		}
	}
	writeOK(w, map[string]any{"query": q, "results": results})
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var queries []string
		var err error
		if prefix := r.URL.Query().Get("prefix"); prefix != "" {
			queries, err = s.opts.Searches.Matches(prefix)
		} else {
			queries, err = s.opts.Searches.List()
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeOK(w, map[string]any{"queries": queries})
	case http.MethodDelete:
		if err := s.opts.Searches.Clear(); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeOK(w, nil)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.opts.History.Load()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeOK(w, map[string]any{"history": entries})
	case http.MethodDelete:
		var err error
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			var removed bool
			removed, err = s.opts.History.RemoveID(id)
			if err == nil && !removed {
				writeError(w, http.StatusNotFound, "not_found")
				return
			}
		} else {
			err = s.opts.History.Clear()
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeOK(w, nil)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch r.Method {
	case http.MethodGet:
		f := store.ListFilter{
			Status: q.Get("status"),
			Sort:   q.Get("sort"),
			Order:  q.Get("order"),
		}
		// malformed paging values fall back to the defaults
		f.Limit, _ = strconv.Atoi(q.Get("limit"))
		f.Offset, _ = strconv.Atoi(q.Get("offset"))
		rows, err := s.st.ListDownloads(r.Context(), f)
		if err != nil {
			logging.LogDBOperation("list_downloads", "", err)
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeOK(w, map[string]any{"downloads": rows})
	case http.MethodDelete:
		id := strings.TrimSpace(q.Get("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		if _, found, err := s.st.GetDownload(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		} else if !found {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err := s.st.DeleteDownload(r.Context(), id); err != nil {
			logging.LogDBOperation("delete_download", id, err)
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeOK(w, map[string]any{"id": id})
	default:
		methodNotAllowed(w)
	}
}
