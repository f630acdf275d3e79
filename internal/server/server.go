// Package server exposes the recall list, preferences and alert log over
// HTTP, with a websocket stream of state changes.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/gidakurdu/internal/compose"
	"github.com/TobiSchelling/gidakurdu/internal/notify"
	"github.com/TobiSchelling/gidakurdu/internal/pipeline"
	"github.com/TobiSchelling/gidakurdu/internal/prefs"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

const dayLayout = "2006-01-02"

// Deps are the components the server reads and drives.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Dispatcher   *notify.Dispatcher
	Prefs        *prefs.Store
	Permissions  *notify.PermissionStore
	Logger       *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	orch   *pipeline.Orchestrator
	disp   *notify.Dispatcher
	prefs  *prefs.Store
	perms  *notify.PermissionStore
	logger *slog.Logger
	page   *template.Template
	router *mux.Router
	now    func() time.Time
}

// New creates a new Server.
func New(deps Deps) (*Server, error) {
	if deps.Orchestrator == nil || deps.Dispatcher == nil || deps.Prefs == nil || deps.Permissions == nil {
		return nil, errors.New("server: orchestrator, dispatcher, preferences and permissions are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"since": func(t time.Time) string {
			if t.IsZero() {
				return "henüz yok"
			}
			return t.Local().Format("02.01.2006 15:04")
		},
	}
	page, err := template.New("index.html").Funcs(funcMap).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parsing index template: %w", err)
	}

	s := &Server{
		orch:   deps.Orchestrator,
		disp:   deps.Dispatcher,
		prefs:  deps.Prefs,
		perms:  deps.Permissions,
		logger: logger,
		page:   page,
		router: mux.NewRouter(),
		now:    time.Now,
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)

	r.HandleFunc("/api/records", s.handleGETRecords).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handlePOSTRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/status", s.handleGETStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/preferences", s.handleGETPreferences).Methods(http.MethodGet)
	r.HandleFunc("/api/preferences", s.handlePUTPreferences).Methods(http.MethodPut)
	r.HandleFunc("/api/permission", s.handlePOSTPermission).Methods(http.MethodPost)
	r.HandleFunc("/api/notifications", s.handleGETNotifications).Methods(http.MethodGet)
	r.HandleFunc("/api/notifications", s.handleDELETENotifications).Methods(http.MethodDelete)
	r.HandleFunc("/api/notifications/{id}/read", s.handlePOSTRead).Methods(http.MethodPost)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries, err := s.disp.Notifications(r.Context())
	if err != nil {
		s.logger.Error("loading notifications", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	snap := s.orch.Snapshot()
	digest := compose.Compose(snap.Records, entries, s.now(), 0)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = s.page.Execute(w, map[string]any{
		"Digest":   digest,
		"Snapshot": snap,
	})
	if err != nil {
		s.logger.Error("rendering index", "error", err)
	}
}

type recordsResponse struct {
	Records    []recall.Record `json:"records"`
	Cities     []string        `json:"cities"`
	Categories []string        `json:"categories"`
}

// handleGETRecords applies city, date and category query filters to the
// published records without touching the orchestrator's own view.
func (s *Server) handleGETRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := recall.View{City: q.Get("city"), Category: q.Get("category")}
	if d := q.Get("date"); d != "" {
		day, err := time.ParseInLocation(dayLayout, d, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		view.Day = day
	}

	all := s.orch.AllRecords()
	records := view.Apply(all)
	if records == nil {
		records = []recall.Record{}
	}
	writeJSON(w, http.StatusOK, recordsResponse{
		Records:    records,
		Cities:     recall.AvailableCities(all),
		Categories: recall.AvailableCategories(all),
	})
}

type stepResponse struct {
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

type outcomeResponse struct {
	Fetched    int            `json:"fetched"`
	Visible    int            `json:"visible"`
	New        int            `json:"new"`
	Notified   int            `json:"notified"`
	Suppressed int            `json:"suppressed"`
	Failed     int            `json:"failed"`
	Watermark  time.Time      `json:"watermark"`
	Steps      []stepResponse `json:"steps"`
}

func newOutcomeResponse(out *pipeline.Outcome) outcomeResponse {
	resp := outcomeResponse{
		Fetched:    out.Fetched,
		Visible:    out.Visible,
		New:        out.New,
		Notified:   out.Notified,
		Suppressed: out.Suppressed,
		Failed:     out.Failed,
		Watermark:  out.Watermark,
		Steps:      []stepResponse{},
	}
	for _, st := range out.Steps {
		sr := stepResponse{Name: st.Name, Summary: st.Summary}
		if st.Err != nil {
			sr.Error = st.Err.Error()
		}
		resp.Steps = append(resp.Steps, sr)
	}
	return resp
}

func (s *Server) handlePOSTRefresh(w http.ResponseWriter, r *http.Request) {
	out, err := s.orch.TriggerManualRefresh(r.Context())
	if errors.Is(err, pipeline.ErrInFlight) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		runErr := pipeline.Categorize(err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": runErr})
		return
	}
	writeJSON(w, http.StatusOK, newOutcomeResponse(out))
}

type statusResponse struct {
	Total     int                `json:"total"`
	Visible   int                `json:"visible"`
	Loading   bool               `json:"loading"`
	LastError *pipeline.RunError `json:"last_error,omitempty"`
	LastSync  time.Time          `json:"last_sync"`
	Unread    int                `json:"unread"`
}

func (s *Server) handleGETStatus(w http.ResponseWriter, r *http.Request) {
	unread, err := s.disp.UnreadCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap := s.orch.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		Total:     snap.Total,
		Visible:   len(snap.Records),
		Loading:   snap.Loading,
		LastError: snap.LastError,
		LastSync:  snap.LastSync,
		Unread:    unread,
	})
}

func (s *Server) handleGETPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.prefs.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePUTPreferences(w http.ResponseWriter, r *http.Request) {
	var p prefs.Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := s.prefs.Update(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handlePOSTPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Permission string `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := notify.ParsePermission(body.Permission)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.perms.Set(r.Context(), perm); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	current, err := s.perms.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"permission": string(current)})
}

func (s *Server) handleGETNotifications(w http.ResponseWriter, r *http.Request) {
	entries, err := s.disp.Notifications(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []notify.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePOSTRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.disp.MarkRead(r.Context(), id)
	if errors.Is(err, notify.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDELETENotifications(w http.ResponseWriter, r *http.Request) {
	if err := s.disp.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on 127.0.0.1:port until ctx ends, then shuts down.
func (s *Server) Serve(ctx context.Context, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "url", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
