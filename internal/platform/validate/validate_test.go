package validate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

var v = MustNew()

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *Error, got %v", err)
	}
	out := make(map[string]string, len(ve.Fields))
	for _, f := range ve.Fields {
		out[f.Field] = f.Message
	}
	return out
}

func TestNew_CompilesAllSchemas(t *testing.T) {
	for _, name := range []string{
		Register, Login, ProfileUpdate, AppointmentCreate, AppointmentUpdate, AppointmentStatus,
		MedicalRecord, MedicalRecordUpdate, Prescription, PrescriptionUpdate, PrescriptionStatus,
		Message, MessageEdit, UploadDelete,
	} {
		if _, ok := v.schemas[name]; !ok {
			t.Errorf("schema %s not loaded", name)
		}
	}
	if len(v.Names()) != 14 {
		t.Errorf("expected 14 schemas, got %v", v.Names())
	}
}

func TestValidate_Register(t *testing.T) {
	ok := `{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com","password":"secret1","role":"patient"}`
	if err := v.Validate(Register, []byte(ok)); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	bad := `{"first_name":" ","email":"not-an-email","password":"123","role":"nurse","extra":1}`
	fields := fieldsOf(t, v.Validate(Register, []byte(bad)))
	for _, f := range []string{"first_name", "last_name", "email", "password", "role"} {
		if _, ok := fields[f]; !ok {
			t.Errorf("expected error on %s, got %v", f, fields)
		}
	}
}

func TestValidate_AppointmentCreate(t *testing.T) {
	ok := `{"doctor_id":"6f1c7f8e-8d2a-4a8e-9f51-2a1f0b7f4d11","appointment_date":"2030-01-02T10:00:00Z","duration":30}`
	if err := v.Validate(AppointmentCreate, []byte(ok)); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}

	bad := `{"doctor_id":"abc","appointment_date":"tomorrow","duration":10,"type":"surgery"}`
	fields := fieldsOf(t, v.Validate(AppointmentCreate, []byte(bad)))
	for _, f := range []string{"doctor_id", "appointment_date", "duration", "type"} {
		if _, ok := fields[f]; !ok {
			t.Errorf("expected error on %s, got %v", f, fields)
		}
	}
}

func TestValidate_PrescriptionNeedsMedication(t *testing.T) {
	body := `{"patient_id":"6f1c7f8e-8d2a-4a8e-9f51-2a1f0b7f4d11","medications":[]}`
	fields := fieldsOf(t, v.Validate(Prescription, []byte(body)))
	if _, ok := fields["medications"]; !ok {
		t.Errorf("expected medications error, got %v", fields)
	}

	body = `{"patient_id":"6f1c7f8e-8d2a-4a8e-9f51-2a1f0b7f4d11","medications":[{"medication_name":"Amoxicillin"}]}`
	fields = fieldsOf(t, v.Validate(Prescription, []byte(body)))
	if _, ok := fields["medications.0.dosage"]; !ok {
		t.Errorf("expected nested required error, got %v", fields)
	}
}

func TestValidate_EmptyAndMalformed(t *testing.T) {
	if fields := fieldsOf(t, v.Validate(Login, nil)); fields["(root)"] == "" {
		t.Error("expected body required error")
	}
	if fields := fieldsOf(t, v.Validate(Login, []byte("{nope"))); fields["(root)"] != "invalid JSON" {
		t.Errorf("expected invalid JSON error, got %v", fields)
	}
	if err := v.Validate("missing", []byte("{}")); err == nil {
		t.Error("expected unknown schema error")
	}
}

func TestBind(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"hello"}`))
	c := e.NewContext(req, httptest.NewRecorder())

	var dst struct {
		Content string `json:"content"`
	}
	if err := v.Bind(c, MessageEdit, &dst); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if dst.Content != "hello" {
		t.Errorf("expected decoded content, got %q", dst.Content)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":""}`))
	c = e.NewContext(req, httptest.NewRecorder())
	err := v.Bind(c, MessageEdit, &dst)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
