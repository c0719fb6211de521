package server

import (
	"net/http"
	"sort"
	"strings"

	"bigtube/internal/download"
	"bigtube/internal/logging"
	"bigtube/internal/store"
	"bigtube/internal/ui"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/dashboard" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items := s.mgr.Snapshot("")
	sortItems(items, "date", "desc")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = ui.Dashboard(items, s.mgr.Stats()).Render(r.Context(), w)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	status := strings.ToLower(strings.TrimSpace(q.Get("status")))
	sortBy := strings.ToLower(strings.TrimSpace(q.Get("sort")))
	order := strings.ToLower(strings.TrimSpace(q.Get("order")))

	var items []*download.Item
	if s.st != nil {
		items = s.ledgerRows(r, store.ListFilter{Status: status, Sort: sortBy, Order: order})
	} else {
		items = s.mgr.Snapshot("")
		if status != "" {
			filtered := items[:0]
			for _, it := range items {
				if string(it.State) == status {
					filtered = append(filtered, it)
				}
			}
			items = filtered
		}
		sortItems(items, sortBy, order)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = ui.QueueTable(items).Render(r.Context(), w)
}

// ledgerRows lists persisted rows, overlaying live progress for tasks the manager still knows.
func (s *Server) ledgerRows(r *http.Request, f store.ListFilter) []*download.Item {
	rows, err := s.st.ListDownloads(r.Context(), f)
	if err != nil {
		logging.LogDBOperation("list_downloads", "", err)
		return nil
	}
	live := make(map[string]*download.Item)
	for _, it := range s.mgr.Snapshot("") {
		live[it.ID] = it
	}
	items := make([]*download.Item, 0, len(rows))
	for _, d := range rows {
		if it, ok := live[d.ID]; ok {
			items = append(items, it)
			continue
		}
		items = append(items, &download.Item{
			ID:          d.ID,
			URL:         d.URL,
			Title:       d.Title,
			FormatID:    d.FormatID,
			Ext:         d.Ext,
			State:       download.State(d.Status),
			Progress:    d.Progress,
			Error:       d.ErrorMessage,
			Filename:    d.Filename,
			ScheduledAt: d.ScheduledAt,
			CreatedAt:   d.CreatedAt,
			UpdatedAt:   d.UpdatedAt,
		})
	}
	return items
}

// sortItems orders snapshot items in place; unknown keys keep the current order.
func sortItems(items []*download.Item, by, order string) {
	var less func(a, b *download.Item) bool
	switch by {
	case "title":
		less = func(a, b *download.Item) bool {
			return strings.ToLower(ui.DisplayTitle(a)) < strings.ToLower(ui.DisplayTitle(b))
		}
	case "status":
		less = func(a, b *download.Item) bool { return a.State < b.State }
	case "progress":
		less = func(a, b *download.Item) bool { return a.Progress < b.Progress }
	case "date":
		less = func(a, b *download.Item) bool { return a.CreatedAt.Before(b.CreatedAt) }
	default:
		return
	}
	if order == "desc" {
		asc := less
		less = func(a, b *download.Item) bool { return asc(b, a) }
	}
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}

func (s *Server) handleEnqueueForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid form"))
		return
	}
	req := downloadRequest{
		URL:      strings.TrimSpace(r.Form.Get("url")),
		FormatID: r.Form.Get("format_id"),
		Ext:      r.Form.Get("ext"),
	}
	if _, _, err := s.enqueue(r.Context(), req); err != nil {
		code, msg := errorStatus(err)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(strings.ReplaceAll(msg, "_", " ")))
		return
	}
	// Redirect back so the dashboard poll picks up the new row
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}
