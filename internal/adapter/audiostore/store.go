// Package audiostore keeps uploaded voice clips on the local filesystem.
package audiostore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is the public path the audio directory is served under.
const URLPrefix = "/audio_storage/"

// DefaultExtension is used when the uploaded file name has none.
const DefaultExtension = ".webm"

// ErrTooLarge is returned when a clip exceeds the configured limit.
var ErrTooLarge = errors.New("file size exceeds limit")

// Blob describes a stored clip.
type Blob struct {
	Name string
	Path string
	URL  string
	Size int64
}

// Store writes clips under a single directory using random names.
type Store struct {
	dir      string
	maxBytes int64
}

// New creates the directory if needed and returns a store writing into it.
func New(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the directory clips are written to.
func (s *Store) Dir() string {
	return s.dir
}

// MaxBytes returns the upload limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Extension returns the extension the clip will be stored with.
func Extension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || ext == "." {
		return DefaultExtension
	}
	return ext
}

// Save copies r into a new file named after a fresh uuid.
// Nothing is left on disk when the copy fails or exceeds the limit.
func (s *Store) Save(filename string, r io.Reader) (*Blob, error) {
	name := uuid.New().String() + Extension(filename)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to save file: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to save file: %w", closeErr)
	case s.maxBytes > 0 && n > s.maxBytes:
		_ = os.Remove(path)
		return nil, ErrTooLarge
	}

	return &Blob{Name: name, Path: path, URL: URLPrefix + name, Size: n}, nil
}

// Remove deletes a stored clip. Missing files are not an error.
func (s *Store) Remove(blob *Blob) error {
	if blob == nil {
		return nil
	}
	if err := os.Remove(blob.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
