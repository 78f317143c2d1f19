package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/casedesk/internal/scheduler"
	"github.com/user/casedesk/internal/state"
	"github.com/user/casedesk/internal/types"
)

// SecretHeader carries the shared secret when one is configured.
const SecretHeader = "X-Casedesk-Secret"

// Server lets the backend (or anything else) push "this case changed"
// instead of waiting for the next scheduled refresh.
type Server struct {
	watches *state.WatchStore
	notices *state.NoticeLog
	refresh scheduler.Handler
	secret  string
	mux     *http.ServeMux
}

// NewServer creates a Server. notices may be nil when notice logging is
// off; secret may be empty to accept unauthenticated hooks.
func NewServer(watches *state.WatchStore, notices *state.NoticeLog, refresh scheduler.Handler, secret string) *Server {
	s := &Server{
		watches: watches,
		notices: notices,
		refresh: refresh,
		secret:  secret,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /hooks/{kind}/{id}", s.authorized(s.handleHook))
	s.mux.HandleFunc("GET /api/watches", s.authorized(s.handleWatches))
	s.mux.HandleFunc("GET /api/notices/{kind}/{id}", s.authorized(s.handleNotices))
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(s.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid secret")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func caseRef(r *http.Request) (types.CaseKind, types.CaseID, bool) {
	kind := types.CaseKind(r.PathValue("kind"))
	id := types.CaseID(r.PathValue("id"))
	return kind, id, kind.Valid() && id != ""
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := caseRef(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown case kind")
		return
	}
	name := state.WatchName(kind, id)

	watch, err := s.watches.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "case is not watched")
		return
	}
	if !watch.Enabled {
		writeError(w, http.StatusForbidden, "watch is disabled")
		return
	}

	err = s.refresh(r.Context(), watch)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"watch": name, "refreshed": true})
	case errors.Is(err, scheduler.ErrSkipped):
		// The caller can retry later; the scheduled refresh will also catch up.
		writeJSON(w, http.StatusAccepted, map[string]any{"watch": name, "refreshed": false, "reason": err.Error()})
	default:
		slog.Error("webhook refresh failed", "watch", name, "error", err)
		writeError(w, http.StatusBadGateway, "refresh failed")
	}
}

func (s *Server) handleWatches(w http.ResponseWriter, r *http.Request) {
	watches, err := s.watches.List()
	if err != nil {
		slog.Error("list watches failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if watches == nil {
		watches = []*state.Watch{}
	}
	writeJSON(w, http.StatusOK, watches)
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	if s.notices == nil {
		writeError(w, http.StatusServiceUnavailable, "notice log not enabled")
		return
	}
	kind, id, ok := caseRef(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown case kind")
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.notices.Tail(r.Context(), kind, id, limit)
	if err != nil {
		slog.Error("tail notices failed", "kind", kind, "case", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []*state.NoticeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
