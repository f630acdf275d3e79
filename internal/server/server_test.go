package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TobiSchelling/gidakurdu/internal/database"
	"github.com/TobiSchelling/gidakurdu/internal/logging"
	"github.com/TobiSchelling/gidakurdu/internal/notify"
	"github.com/TobiSchelling/gidakurdu/internal/pipeline"
	"github.com/TobiSchelling/gidakurdu/internal/prefs"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
	"github.com/TobiSchelling/gidakurdu/internal/triage"
	"github.com/TobiSchelling/gidakurdu/internal/watermark"
)

var detected = time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)

type staticFeed []recall.Record

func (f staticFeed) Fetch(context.Context, int, int) ([]recall.Record, error) {
	return append([]recall.Record(nil), f...), nil
}

func rec(product, city, group, description string, at time.Time) recall.Record {
	return recall.NewRecord(recall.Fields{
		Announced:    fmt.Sprintf("/Date(%d)/", at.UnixMilli()),
		FirmName:     "Örnek Gıda",
		ProductName:  product,
		Description:  description,
		City:         city,
		ProductGroup: group,
		DetectedAt:   at,
	}, triage.Classify)
}

type testEnv struct {
	srv   *Server
	disp  *notify.Dispatcher
	perms *notify.PermissionStore
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	blobs := database.NewMemory()
	logger := logging.Discard()

	store := prefs.NewStore(blobs, logger)
	p := prefs.Defaults()
	p.NotificationsEnabled = true
	if _, err := store.Update(context.Background(), p); err != nil {
		t.Fatalf("prefs.Update: %v", err)
	}
	perms := notify.NewPermissionStore(blobs, notify.Granted)
	disp := notify.NewDispatcher(blobs, notify.NewLogAlerter(logger), perms, logger)

	feed := staticFeed{
		rec("Süzme bal", "İzmir", "Bal", "toxic substance found", detected),
		rec("Pul biber", "Ankara", "Baharat", "", detected.Add(-48*time.Hour)),
	}
	orch, err := pipeline.New(pipeline.Deps{
		Feed:      feed,
		Prefs:     store,
		Notifier:  disp,
		Watermark: watermark.NewTracker(blobs),
		Logger:    logger,
	}, pipeline.Options{})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	srv, err := New(Deps{
		Orchestrator: orch,
		Dispatcher:   disp,
		Prefs:        store,
		Permissions:  perms,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return &testEnv{srv: srv, disp: disp, perms: perms}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) refresh(t *testing.T) {
	t.Helper()
	if rec := e.do(t, http.MethodPost, "/api/refresh", ""); rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestIndexRoute(t *testing.T) {
	env := newTestServer(t)
	env.refresh(t)

	rec := env.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Gıda Kurdu Özeti") {
		t.Error("expected digest title in response body")
	}
	if !strings.Contains(body, "<table>") {
		t.Error("expected rendered markdown table")
	}
	if strings.Contains(body, "/Date(") || !strings.Contains(body, detected.Format("02.01.2006")) {
		t.Error("expected feed dates rendered as day strings")
	}
}

func TestRefreshRoute(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out outcomeResponse
	decode(t, rec, &out)
	if out.Fetched != 2 || out.Notified != 2 {
		t.Errorf("expected 2 fetched and notified, got %+v", out)
	}
	if len(out.Steps) == 0 {
		t.Error("expected step summaries")
	}
}

func TestRecordsRoute(t *testing.T) {
	env := newTestServer(t)
	env.refresh(t)

	var all recordsResponse
	decode(t, env.do(t, http.MethodGet, "/api/records", ""), &all)
	if len(all.Records) != 2 || len(all.Cities) != 2 || len(all.Categories) != 2 {
		t.Fatalf("unexpected unfiltered response %+v", all)
	}

	q := url.Values{"city": {"İzmir"}}
	var byCity recordsResponse
	decode(t, env.do(t, http.MethodGet, "/api/records?"+q.Encode(), ""), &byCity)
	if len(byCity.Records) != 1 || byCity.Records[0].ProductName != "Süzme bal" {
		t.Errorf("city filter: got %+v", byCity.Records)
	}

	var byDate recordsResponse
	decode(t, env.do(t, http.MethodGet, "/api/records?date="+detected.Format(dayLayout), ""), &byDate)
	if len(byDate.Records) != 1 {
		t.Errorf("date filter: expected 1 record, got %d", len(byDate.Records))
	}

	var byCategory recordsResponse
	decode(t, env.do(t, http.MethodGet, "/api/records?category=Baharat", ""), &byCategory)
	if len(byCategory.Records) != 1 || byCategory.Records[0].ProductGroup != "Baharat" {
		t.Errorf("category filter: got %+v", byCategory.Records)
	}

	if rec := env.do(t, http.MethodGet, "/api/records?date=10.03.2025", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad date, got %d", rec.Code)
	}
}

func TestStatusRoute(t *testing.T) {
	env := newTestServer(t)
	env.refresh(t)

	var st statusResponse
	decode(t, env.do(t, http.MethodGet, "/api/status", ""), &st)
	if st.Total != 2 || st.Unread != 2 || st.Loading || st.LastError != nil {
		t.Errorf("unexpected status %+v", st)
	}
	if st.LastSync.IsZero() {
		t.Error("expected last sync time")
	}
}

func TestPreferencesRoutes(t *testing.T) {
	env := newTestServer(t)

	var p prefs.Preferences
	decode(t, env.do(t, http.MethodGet, "/api/preferences", ""), &p)
	if !p.NotificationsEnabled || p.RefreshInterval != prefs.Hourly {
		t.Errorf("unexpected preferences %+v", p)
	}

	body := `{"notifications_enabled":false,"minimum_risk":"high","refresh_interval":"daily","selected_cities":["İzmir","İzmir"],"theme":"dark"}`
	rec := env.do(t, http.MethodPut, "/api/preferences", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &p)
	if p.MinimumRisk != recall.RiskHigh || len(p.SelectedCities) != 1 || p.Theme != prefs.ThemeDark {
		t.Errorf("unexpected stored preferences %+v", p)
	}

	if rec := env.do(t, http.MethodPut, "/api/preferences", `{"refresh_interval":"monthly"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown interval, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/api/preferences", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", rec.Code)
	}
}

func TestNotificationRoutes(t *testing.T) {
	env := newTestServer(t)
	env.refresh(t)

	var entries []notify.Entry
	decode(t, env.do(t, http.MethodGet, "/api/notifications", ""), &entries)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Record.ProductName != "Süzme bal" {
		t.Errorf("expected newest entry first, got %s", entries[0].Record.ProductName)
	}

	if rec := env.do(t, http.MethodPost, "/api/notifications/"+entries[0].ID+"/read", ""); rec.Code != http.StatusNoContent {
		t.Errorf("mark read: expected 204, got %d", rec.Code)
	}
	if n, _ := env.disp.UnreadCount(context.Background()); n != 1 {
		t.Errorf("expected 1 unread, got %d", n)
	}
	if rec := env.do(t, http.MethodPost, "/api/notifications/missing/read", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown entry: expected 404, got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/api/notifications", ""); rec.Code != http.StatusNoContent {
		t.Errorf("clear: expected 204, got %d", rec.Code)
	}
	decode(t, env.do(t, http.MethodGet, "/api/notifications", ""), &entries)
	if len(entries) != 0 {
		t.Errorf("expected empty log, got %d", len(entries))
	}
}

func TestPermissionRoute(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/permission", `{"permission":"denied"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if p, _ := env.perms.Status(context.Background()); p != notify.Denied {
		t.Errorf("expected denied, got %s", p)
	}
	if rec := env.do(t, http.MethodPost, "/api/permission", `{"permission":"maybe"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestServer(t)
	tests := []struct{ method, path string }{
		{http.MethodGet, "/api/refresh"},
		{http.MethodPost, "/api/status"},
		{http.MethodGet, "/api/notifications/abc/read"},
		{http.MethodPost, "/"},
	}
	for _, tt := range tests {
		rec := env.do(t, tt.method, tt.path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tt.method, tt.path, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodGet, "/api/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown route, got %d", rec.Code)
	}
}

func TestWebsocketStreamsState(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != "state" {
		t.Errorf("expected initial state frame, got %q", first.Type)
	}

	env.refresh(t)

	var sawNotification bool
	for i := 0; i < 20 && !sawNotification; i++ {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		sawNotification = msg.Type == "notification"
	}
	if !sawNotification {
		t.Error("expected a notification frame after refresh")
	}
}
