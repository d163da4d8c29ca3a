// Package filestore provides the durable backing medium for local record
// collections. A Medium hands out the whole persisted payload and accepts a
// whole replacement; AtomicFile implements it on top of an afero filesystem
// using a write-temp-then-rename sequence so the canonical file is never left
// truncated or half written.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrStorageUnavailable is returned when the canonical file exists but
	// cannot be read. A missing file is not an error.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrWriteFailed is returned when any step of a replacement fails. The
	// canonical file is untouched and the temporary artifact is removed.
	ErrWriteFailed = errors.New("write failed")
)

// DefaultPerm is the file mode used for newly written collections.
const DefaultPerm os.FileMode = 0o644

// ---------------------------------------------------------------------------
// Medium interface
// ---------------------------------------------------------------------------

// Medium is a record-collection sink with atomic replace semantics.
type Medium interface {
	// ReadAll returns the persisted payload, or nil when nothing has been
	// written yet.
	ReadAll(ctx context.Context) ([]byte, error)
	// WriteAll replaces the persisted payload as a single unit.
	WriteAll(ctx context.Context, data []byte) error
}

// ---------------------------------------------------------------------------
// AtomicFile
// ---------------------------------------------------------------------------

// AtomicFile is a Medium backed by a single file.
type AtomicFile struct {
	fs   afero.Fs
	path string
	perm os.FileMode
}

// NewAtomicFile returns an AtomicFile for path on the given filesystem.
func NewAtomicFile(fs afero.Fs, path string) *AtomicFile {
	return &AtomicFile{fs: fs, path: filepath.Clean(path), perm: DefaultPerm}
}

// Path returns the canonical file location.
func (f *AtomicFile) Path() string { return f.path }

// TempPath returns the location of the temporary artifact used during
// WriteAll. It lives next to the canonical file so the final rename never
// crosses a filesystem boundary.
func (f *AtomicFile) TempPath() string {
	ext := filepath.Ext(f.path)
	base := strings.TrimSuffix(filepath.Base(f.path), ext)
	return filepath.Join(filepath.Dir(f.path), base+"_temp"+ext)
}

// ReadAll implements Medium.
func (f *AtomicFile) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, f.path, err)
	}
	return data, nil
}

// WriteAll implements Medium. The payload is written to TempPath, flushed,
// and renamed over the canonical path.
func (f *AtomicFile) WriteAll(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.fs.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrWriteFailed, err)
	}

	tmp := f.TempPath()
	if err := f.writeTemp(tmp, data); err != nil {
		f.discard(tmp)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		f.discard(tmp)
		return fmt.Errorf("%w: replace %s: %v", ErrWriteFailed, f.path, err)
	}
	return nil
}

func (f *AtomicFile) writeTemp(tmp string, data []byte) error {
	file, err := f.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.perm)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

func (f *AtomicFile) discard(tmp string) {
	_ = f.fs.Remove(tmp)
}
