package pdf

import (
	"bytes"
	"strings"
	"testing"
)

func TestDocument_Bytes(t *testing.T) {
	doc := New("Prescription RX-1", "Dr. House").
		Title("PRESCRIPTION").
		Field("Prescription Number", "RX-20300101-ABC123").
		Field("Skipped", "").
		Heading("Medications:").
		Text("1. Amoxicillin").
		Indent("Dosage: 500mg").
		Textf("Temperature: %.1f°C", 37.2).
		Small("Generated on: today").
		Signature("Doctor's Signature")

	out, err := doc.Bytes()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("expected PDF header, got %q", out[:8])
	}
	if !bytes.Contains(out, []byte("%%EOF")) {
		t.Error("expected PDF trailer")
	}
	if doc.PageCount() != 1 {
		t.Errorf("expected 1 page, got %d", doc.PageCount())
	}
}

func TestDocument_PageBreaks(t *testing.T) {
	doc := New("Long", "test")
	for i := 0; i < 200; i++ {
		doc.Text(strings.Repeat("line ", 10))
	}
	if _, err := doc.Bytes(); err != nil {
		t.Fatalf("render: %v", err)
	}
	if doc.PageCount() < 2 {
		t.Errorf("expected automatic page breaks, got %d pages", doc.PageCount())
	}
}
