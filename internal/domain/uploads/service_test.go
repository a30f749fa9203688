package uploads

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/blobstore"
)

func newTestService(maxBytes int64) (*Service, *blobstore.MemoryStore) {
	store := blobstore.NewMemoryStore()
	svc := NewService(store, "uploads", maxBytes, zerolog.Nop())
	n := 0
	svc.newName = func(ext string) string {
		n++
		return "file" + string(rune('0'+n)) + ext
	}
	return svc, store
}

func testPrincipal() *auth.Principal {
	return &auth.Principal{UserID: uuid.New(), Role: auth.RolePatient}
}

func upload(name, mimeType, content string) Upload {
	return Upload{Name: name, MimeType: mimeType, Size: int64(len(content)), Content: strings.NewReader(content)}
}

func TestSubDirectory(t *testing.T) {
	tests := []struct {
		mime, category, want string
	}{
		{"image/png", "", DirImages},
		{"image/dicom", CategoryMedical, DirImages},
		{"application/pdf", "", DirDocuments},
		{"application/pdf", CategoryMedical, DirMedical},
		{"text/plain", CategoryMedical, DirMedical},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "general", DirDocuments},
		{"application/msword", CategoryMedical, DirDocuments},
		{"application/dicom", CategoryMedical, DirDocuments},
	}
	for _, tt := range tests {
		if got := SubDirectory(tt.mime, tt.category); got != tt.want {
			t.Errorf("SubDirectory(%q, %q) = %q, want %q", tt.mime, tt.category, got, tt.want)
		}
	}
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		declared, name, want string
	}{
		{"text/plain; charset=utf-8", "notes.txt", "text/plain"},
		{"IMAGE/PNG", "x.png", "image/png"},
		{"application/octet-stream", "scan.pdf", "application/pdf"},
		{"", "photo.JPG", "image/jpeg"},
		{"", "blob", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := MediaType(tt.declared, tt.name); got != tt.want {
			t.Errorf("MediaType(%q, %q) = %q, want %q", tt.declared, tt.name, got, tt.want)
		}
	}
}

func TestService_Save(t *testing.T) {
	svc, store := newTestService(1024)
	f, err := svc.Save(context.Background(), testPrincipal(), upload("Lab Report.PDF", "application/pdf", "%PDF-1.4"), CategoryMedical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Filename != "file1.pdf" || f.OriginalName != "Lab Report.PDF" {
		t.Errorf("unexpected names %+v", f)
	}
	if f.URL != "/uploads/medical/file1.pdf" || f.Path != "uploads/medical/file1.pdf" {
		t.Errorf("unexpected location %+v", f)
	}
	if f.Size != 8 {
		t.Errorf("expected size 8, got %d", f.Size)
	}
	r, err := store.Open("medical/file1.pdf")
	if err != nil {
		t.Fatalf("expected stored file: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "%PDF-1.4" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestService_Save_Rejections(t *testing.T) {
	svc, store := newTestService(4)
	ctx := context.Background()

	if _, err := svc.Save(ctx, testPrincipal(), upload("run.exe", "application/x-msdownload", "MZ"), ""); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := svc.Save(ctx, testPrincipal(), upload("big.txt", "text/plain", "12345"), ""); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	// declared size lies; the store enforces the limit while writing
	lying := Upload{Name: "big.txt", MimeType: "text/plain", Size: 1, Content: strings.NewReader("123456")}
	if _, err := svc.Save(ctx, testPrincipal(), lying, ""); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge while streaming, got %v", err)
	}
	if _, err := svc.Save(ctx, testPrincipal(), Upload{MimeType: "text/plain"}, ""); !errors.Is(err, ErrNoFile) {
		t.Errorf("expected ErrNoFile, got %v", err)
	}
	if len(store.Paths()) != 0 {
		t.Errorf("expected nothing stored, got %v", store.Paths())
	}
}

func TestService_SaveMany(t *testing.T) {
	svc, store := newTestService(1024)
	ctx := context.Background()

	files, err := svc.SaveMany(ctx, testPrincipal(), []Upload{
		upload("a.png", "image/png", "png"),
		upload("b.txt", "text/plain", "txt"),
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 || files[0].URL != "/uploads/images/file1.png" || files[1].URL != "/uploads/documents/file2.txt" {
		t.Errorf("unexpected files %+v %+v", files[0], files[1])
	}
	if len(store.Paths()) != 2 {
		t.Errorf("expected 2 stored files, got %v", store.Paths())
	}
}

func TestService_SaveMany_ChecksAllFirst(t *testing.T) {
	svc, store := newTestService(1024)
	_, err := svc.SaveMany(context.Background(), testPrincipal(), []Upload{
		upload("a.png", "image/png", "png"),
		upload("b.zip", "application/zip", "zip"),
	}, "")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if len(store.Paths()) != 0 {
		t.Errorf("expected nothing stored, got %v", store.Paths())
	}
}

func TestService_SaveMany_RollsBack(t *testing.T) {
	svc, store := newTestService(4)
	lying := Upload{Name: "b.txt", MimeType: "text/plain", Size: 1, Content: strings.NewReader("too long")}
	_, err := svc.SaveMany(context.Background(), testPrincipal(), []Upload{upload("a.txt", "text/plain", "ok"), lying}, "")
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if len(store.Paths()) != 0 {
		t.Errorf("expected earlier files to be removed, got %v", store.Paths())
	}
}

func TestService_SaveMany_Limits(t *testing.T) {
	svc, _ := newTestService(1024)
	ctx := context.Background()
	if _, err := svc.SaveMany(ctx, testPrincipal(), nil, ""); !errors.Is(err, ErrNoFile) {
		t.Errorf("expected ErrNoFile, got %v", err)
	}
	many := make([]Upload, MaxFiles+1)
	for i := range many {
		many[i] = upload("a.txt", "text/plain", "x")
	}
	if _, err := svc.SaveMany(ctx, testPrincipal(), many, ""); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("expected ErrTooManyFiles, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc, store := newTestService(1024)
	ctx := context.Background()
	p := testPrincipal()
	f, _ := svc.Save(ctx, p, upload("a.png", "image/png", "png"), "")

	if err := svc.Delete(ctx, p, f.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.Paths()) != 0 {
		t.Errorf("expected file removed, got %v", store.Paths())
	}
	if err := svc.Delete(ctx, p, f.URL); err != nil {
		t.Errorf("expected missing file to be ignored, got %v", err)
	}
	for _, bad := range []string{"/uploads/../config.env", "../../etc/passwd", "/uploads/", "images\\x.png"} {
		if err := svc.Delete(ctx, p, bad); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Delete(%q): expected ErrInvalidPath, got %v", bad, err)
		}
	}
}

func TestService_Stats(t *testing.T) {
	svc, _ := newTestService(1024)
	ctx := context.Background()
	svc.SaveMany(ctx, testPrincipal(), []Upload{
		upload("a.png", "image/png", "1234"),
		upload("b.png", "image/png", "12"),
		upload("c.pdf", "application/pdf", "123"),
	}, CategoryMedical)

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalFiles != 3 || st.TotalSize != 9 {
		t.Errorf("unexpected totals %+v", st)
	}
	if st.Categories[DirImages].Files != 2 || st.Categories[DirMedical].Bytes != 3 {
		t.Errorf("unexpected breakdown %+v", st.Categories)
	}
}
