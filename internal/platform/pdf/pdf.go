// Package pdf lays out simple single-column documents such as
// prescriptions and medical record summaries.
package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	fontFamily = "Helvetica"
	lineHeight = 6.0
)

// Document is a vertical flow of text blocks on A4 pages.
type Document struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

// New starts a document with one page. title is stored in the metadata.
func New(title, author string) *Document {
	p := gofpdf.New("P", "mm", "A4", "")
	p.SetTitle(title, true)
	p.SetAuthor(author, true)
	p.SetCreator("telemed", true)
	p.SetMargins(20, 20, 20)
	p.SetAutoPageBreak(true, 20)
	p.AddPage()
	p.SetFont(fontFamily, "", 12)
	return &Document{pdf: p, tr: p.UnicodeTranslatorFromDescriptor("")}
}

// Title writes a large centred heading.
func (d *Document) Title(text string) *Document {
	d.pdf.SetFont(fontFamily, "B", 20)
	d.pdf.CellFormat(0, 12, d.tr(text), "", 1, "C", false, 0, "")
	d.pdf.Ln(4)
	d.pdf.SetFont(fontFamily, "", 12)
	return d
}

// Heading writes an underlined section heading.
func (d *Document) Heading(text string) *Document {
	d.pdf.Ln(2)
	d.pdf.SetFont(fontFamily, "BU", 14)
	d.pdf.CellFormat(0, 8, d.tr(text), "", 1, "L", false, 0, "")
	d.pdf.SetFont(fontFamily, "", 12)
	return d
}

// Text writes a wrapped paragraph.
func (d *Document) Text(text string) *Document {
	d.pdf.MultiCell(0, lineHeight, d.tr(text), "", "L", false)
	return d
}

// Textf is Text with formatting.
func (d *Document) Textf(format string, args ...interface{}) *Document {
	return d.Text(fmt.Sprintf(format, args...))
}

// Field writes "label: value" and skips empty values.
func (d *Document) Field(label, value string) *Document {
	if strings.TrimSpace(value) == "" {
		return d
	}
	return d.Text(label + ": " + value)
}

// Indent writes a paragraph offset from the left margin.
func (d *Document) Indent(text string) *Document {
	left, _, _, _ := d.pdf.GetMargins()
	d.pdf.SetX(left + 6)
	d.pdf.MultiCell(0, lineHeight, d.tr(text), "", "L", false)
	return d
}

// Space adds vertical whitespace of n lines.
func (d *Document) Space(n float64) *Document {
	d.pdf.Ln(lineHeight * n)
	return d
}

// Small writes centred fine print, used for footers.
func (d *Document) Small(text string) *Document {
	d.pdf.SetFont(fontFamily, "", 10)
	d.pdf.MultiCell(0, 5, d.tr(text), "", "C", false)
	d.pdf.SetFont(fontFamily, "", 12)
	return d
}

// Signature writes a right-aligned signature line with a caption.
func (d *Document) Signature(caption string) *Document {
	d.pdf.Ln(lineHeight * 2)
	d.pdf.SetFont(fontFamily, "", 10)
	d.pdf.CellFormat(0, 5, "_______________________________", "", 1, "R", false, 0, "")
	d.pdf.CellFormat(0, 5, d.tr(caption), "", 1, "R", false, 0, "")
	d.pdf.SetFont(fontFamily, "", 12)
	return d
}

// PageCount returns the number of pages laid out so far.
func (d *Document) PageCount() int {
	return d.pdf.PageCount()
}

// Bytes renders the document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
