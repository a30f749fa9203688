// Package blobstore stores uploaded files under a root split into
// sub-directories. DiskStore backs the server; MemoryStore backs tests.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrInvalidPath = errors.New("invalid file path")
	ErrMissingName = errors.New("file name is required")
)

// URLPrefix is where stored files are served from.
const URLPrefix = "/uploads/"

// DirStats counts the files in one sub-directory.
type DirStats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Stats summarises everything in a store.
type Stats struct {
	TotalFiles int                 `json:"total_files"`
	TotalSize  int64               `json:"total_size"`
	Categories map[string]DirStats `json:"categories"`
}

// Store is the contract the uploads service needs from a storage backend.
type Store interface {
	// Put writes r to dir/name and returns the stored size. At most maxBytes
	// are accepted; anything larger fails with ErrTooLarge and leaves no file.
	Put(ctx context.Context, dir, name string, r io.Reader, maxBytes int64) (int64, error)
	// Remove deletes the file at rel, a path relative to the root.
	Remove(ctx context.Context, rel string) error
	Stats(ctx context.Context) (*Stats, error)
}

// URLFor returns the public URL of dir/name.
func URLFor(dir, name string) string {
	return URLPrefix + dir + "/" + name
}

// RelPath converts a public URL or a root-relative path into a cleaned
// relative path, rejecting anything that would escape the root.
func RelPath(urlOrPath string) (string, error) {
	p := strings.TrimPrefix(urlOrPath, URLPrefix)
	p = strings.TrimPrefix(p, "uploads/")
	if p == "" || strings.ContainsRune(p, 0) || strings.Contains(p, "\\") {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	cleaned := path.Clean(p)
	if path.IsAbs(cleaned) || cleaned == "." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

func validName(dir, name string) error {
	if name == "" {
		return ErrMissingName
	}
	if strings.ContainsAny(dir+name, "/\\") || strings.Contains(dir, "..") || strings.Contains(name, "..") {
		return ErrInvalidPath
	}
	return nil
}

// DiskStore keeps files on the local filesystem.
type DiskStore struct {
	root string
}

// NewDiskStore creates root and the given sub-directories.
func NewDiskStore(root string, subdirs ...string) (*DiskStore, error) {
	for _, d := range append([]string{""}, subdirs...) {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir %q: %w", d, err)
		}
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) Put(_ context.Context, dir, name string, r io.Reader, maxBytes int64) (int64, error) {
	if err := validName(dir, name); err != nil {
		return 0, err
	}
	target := filepath.Join(s.root, dir, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write file: %w", err)
	}
	if n > maxBytes {
		return 0, ErrTooLarge
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("store file: %w", err)
	}
	return n, nil
}

func (s *DiskStore) Remove(_ context.Context, rel string) error {
	rel, err := RelPath(rel)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *DiskStore) Stats(_ context.Context) (*Stats, error) {
	st := &Stats{Categories: make(map[string]DirStats)}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(s.root, p)
		st.add(topDir(filepath.ToSlash(rel)), info.Size())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk upload dir: %w", err)
	}
	return st, nil
}

func (st *Stats) add(dir string, size int64) {
	st.TotalFiles++
	st.TotalSize += size
	ds := st.Categories[dir]
	ds.Files++
	ds.Bytes += size
	st.Categories[dir] = ds
}

func topDir(rel string) string {
	if i := strings.IndexByte(rel, '/'); i > 0 {
		return rel[:i]
	}
	return "."
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, dir, name string, r io.Reader, maxBytes int64) (int64, error) {
	if err := validName(dir, name); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return 0, ErrTooLarge
	}
	s.mu.Lock()
	s.files[dir+"/"+name] = data
	s.mu.Unlock()
	return int64(len(data)), nil
}

func (s *MemoryStore) Remove(_ context.Context, rel string) error {
	rel, err := RelPath(rel)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[rel]; !ok {
		return ErrNotFound
	}
	delete(s.files, rel)
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &Stats{Categories: make(map[string]DirStats)}
	for p, data := range s.files {
		st.add(topDir(p), int64(len(data)))
	}
	return st, nil
}

// Open returns the content stored at rel.
func (s *MemoryStore) Open(rel string) (io.Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[rel]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.NewReader(data), nil
}

// Paths lists stored paths in order.
func (s *MemoryStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
