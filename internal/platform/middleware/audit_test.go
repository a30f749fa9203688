package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func runAudit(t *testing.T, method, path string, p *auth.Principal, status int, rec AuditRecorder) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")

	handler := func(c echo.Context) error {
		return c.NoContent(status)
	}
	if err := Audit(zerolog.New(&buf), rec)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &buf
}

func TestAudit_RecordsAPIAccess(t *testing.T) {
	rec := &mockRecorder{}
	uid := uuid.New()
	apptID := uuid.New()
	p := &auth.Principal{UserID: uid, Role: auth.RoleDoctor}

	buf := runAudit(t, http.MethodPut, "/api/v1/appointments/"+apptID.String()+"/status", p, http.StatusOK, rec)

	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	entry := rec.last()
	if entry.UserID != uid.String() || entry.Role != auth.RoleDoctor {
		t.Errorf("unexpected principal in entry: %+v", entry)
	}
	if entry.Resource != "appointments" || entry.ResourceID != apptID.String() {
		t.Errorf("expected appointments/%s, got %s/%s", apptID, entry.Resource, entry.ResourceID)
	}
	if entry.Action != "update" {
		t.Errorf("expected update, got %s", entry.Action)
	}
	if entry.RequestID != "req-123" || entry.StatusCode != http.StatusOK {
		t.Errorf("unexpected request id or status: %+v", entry)
	}
	if !strings.Contains(buf.String(), `"message":"phi_access"`) {
		t.Errorf("expected phi_access log, got %s", buf.String())
	}
}

func TestAudit_SkipsUnauditedPaths(t *testing.T) {
	for _, path := range []string{"/health", "/api/v1/auth/login", "/uploads/images/a.png"} {
		rec := &mockRecorder{}
		buf := runAudit(t, http.MethodGet, path, nil, http.StatusOK, rec)
		if rec.count() != 0 || buf.Len() != 0 {
			t.Errorf("%s: expected no audit entry", path)
		}
	}
}

func TestAudit_RecorderErrorIsLogged(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	buf := runAudit(t, http.MethodGet, "/api/v1/users", nil, http.StatusOK, rec)
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestAudit_RecorderFunc(t *testing.T) {
	var got AuditEntry
	fn := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})
	runAudit(t, http.MethodDelete, "/api/v1/chat/messages/"+uuid.NewString(), nil, http.StatusOK, fn)
	if got.Action != "delete" || got.Resource != "chat/messages" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestExtractResource(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		path     string
		resource string
		id       string
	}{
		{"/api/v1/appointments", "appointments", ""},
		{"/api/v1/appointments/" + id, "appointments", id},
		{"/api/v1/emr/records/" + id + "/pdf", "emr/records", id},
		{"/api/v1/emr/my-summary", "emr/my-summary", ""},
		{"/api/v1/chat/conversations/" + id + "/read", "chat/conversations", id},
		{"/api/v1/users/doctors", "users", ""},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		res, rid := extractResource(tt.path)
		if res != tt.resource || rid != tt.id {
			t.Errorf("extractResource(%q) = %q, %q; want %q, %q", tt.path, res, rid, tt.resource, tt.id)
		}
	}
}

func TestExtractPatientID(t *testing.T) {
	id := uuid.NewString()
	if got := extractPatientID("/api/v1/emr/patients/" + id + "/history"); got != id {
		t.Errorf("expected %s, got %q", id, got)
	}
	if got := extractPatientID("/api/v1/emr/patients/not-a-uuid/summary"); got != "" {
		t.Errorf("expected empty patient id, got %q", got)
	}
	if got := extractPatientID("/api/v1/appointments/" + id); got != "" {
		t.Errorf("expected empty patient id, got %q", got)
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}
