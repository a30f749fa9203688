// Package validate checks JSON request bodies against the schemas embedded
// under schemas/ before they are decoded into request structs.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names.
const (
	Register            = "register"
	Login               = "login"
	ProfileUpdate       = "profile_update"
	AppointmentCreate   = "appointment_create"
	AppointmentUpdate   = "appointment_update"
	AppointmentStatus   = "appointment_status"
	MedicalRecord       = "medical_record"
	MedicalRecordUpdate = "medical_record_update"
	Prescription        = "prescription"
	PrescriptionUpdate  = "prescription_update"
	PrescriptionStatus  = "prescription_status"
	Message             = "message"
	MessageEdit         = "message_edit"
	UploadDelete        = "upload_delete"
)

// FieldError is one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error lists every constraint a document failed.
type Error struct {
	Schema string
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", e.Schema, strings.Join(parts, "; "))
}

// Validator holds the compiled schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(entries))}
	for _, entry := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", entry.Name(), err)
		}
		v.schemas[strings.TrimSuffix(entry.Name(), ".json")] = schema
	}
	return v, nil
}

// MustNew is New for package-level initialisation and tests.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Names returns the available schema names.
func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.schemas))
	for n := range v.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks body against the named schema. Failures are *Error.
func (v *Validator) Validate(name string, body []byte) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &Error{Schema: name, Fields: []FieldError{{Field: "(root)", Message: "request body is required"}}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &Error{Schema: name, Fields: []FieldError{{Field: "(root)", Message: "invalid JSON"}}}
	}
	if result.Valid() {
		return nil
	}

	fields := make([]FieldError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		fields = append(fields, FieldError{Field: fieldName(re), Message: re.Description()})
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return &Error{Schema: name, Fields: fields}
}

// fieldName reports the offending property. Missing required properties
// are reported on the parent, so the property name is appended.
func fieldName(re gojsonschema.ResultError) string {
	field := re.Field()
	if re.Type() == "required" {
		if p, ok := re.Details()["property"].(string); ok {
			if field == "(root)" {
				return p
			}
			return field + "." + p
		}
	}
	return field
}

// Bind reads the request body, validates it against the named schema and
// decodes it into dst. Validation failures become a 400 listing each field.
func (v *Validator) Bind(c echo.Context, name string, dst interface{}) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		if he, ok := err.(*echo.HTTPError); ok {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	if err := v.Validate(name, body); err != nil {
		if ve, ok := err.(*Error); ok {
			return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
				"message": "validation failed",
				"errors":  ve.Fields,
			})
		}
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}
