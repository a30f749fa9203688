package appointments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/validate"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc, validate.MustNew()), f, echo.New()
}

func withPrincipal(req *http.Request, p *auth.Principal) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != code {
		t.Fatalf("expected HTTP %d, got %v", code, err)
	}
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"doctor_id":"` + f.doctor.UserID.String() + `","appointment_date":"` +
		f.now.Add(24*time.Hour).Format(time.RFC3339) + `","duration":45,"symptoms":"headache"}`
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), f.patient)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Appointment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Duration != 45 || got.Status != StatusPending {
		t.Errorf("unexpected appointment %+v", got)
	}
}

func TestHandler_CreateAppointment_SchemaFailure(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"doctor_id":"nope","appointment_date":"tomorrow","duration":5}`
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), f.patient)
	c := e.NewContext(req, httptest.NewRecorder())

	expectStatus(t, h.CreateAppointment(c), http.StatusBadRequest)
}

func TestHandler_CreateAppointment_Conflict(t *testing.T) {
	h, f, e := newTestHandler()
	at := f.now.Add(24 * time.Hour)
	f.book(t, at)

	body := `{"doctor_id":"` + f.doctor.UserID.String() + `","appointment_date":"` + at.Format(time.RFC3339) + `"}`
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), f.patient)
	c := e.NewContext(req, httptest.NewRecorder())

	expectStatus(t, h.CreateAppointment(c), http.StatusConflict)
}

func TestHandler_GetAppointment_Forbidden(t *testing.T) {
	h, f, e := newTestHandler()
	a := f.book(t, f.now.Add(time.Hour))
	stranger := f.dir.add(auth.RoleDoctor, true)

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), stranger)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())

	expectStatus(t, h.GetAppointment(c), http.StatusForbidden)
}

func TestHandler_UpdateStatus(t *testing.T) {
	h, f, e := newTestHandler()
	a := f.book(t, f.now.Add(time.Hour))

	req := withPrincipal(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"rejected"}`)), f.doctor)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	expectStatus(t, h.UpdateStatus(c), http.StatusBadRequest)

	req = withPrincipal(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"rejected","reason":"not my specialty"}`)), f.doctor)
	rec := httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.UpdateStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"cancellation_reason":"not my specialty"`) {
		t.Errorf("expected reason in body, got %s", rec.Body.String())
	}
}

func TestHandler_ListMyAppointments(t *testing.T) {
	h, f, e := newTestHandler()
	f.book(t, f.now.Add(time.Hour))
	f.book(t, f.now.Add(3*time.Hour))

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/?limit=1", nil), f.doctor)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListMyAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Appointment `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Data) != 1 || !resp.HasMore {
		t.Errorf("unexpected page %+v", resp)
	}
}

func TestHandler_ListUpcoming_Empty(t *testing.T) {
	h, f, e := newTestHandler()
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), f.patient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListUpcoming(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_DeleteAppointment(t *testing.T) {
	h, f, e := newTestHandler()
	a := f.book(t, f.now.Add(time.Hour))

	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.DeleteAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("bad")
	expectStatus(t, h.DeleteAppointment(c), http.StatusBadRequest)
}
