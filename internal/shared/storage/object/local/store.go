package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"contract-backend/internal/shared/storage/object"
)

// Store implements ObjectStore using the local filesystem.
type Store struct {
	baseDir string
}

// New creates a new local object store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Save writes the reader to disk under the owner's namespace.
func (s *Store) Save(ctx context.Context, ownerID, fileName string, r io.Reader) (object.Stored, error) {
	if err := ctx.Err(); err != nil {
		return object.Stored{}, err
	}
	key, err := object.NewKey(ownerID, fileName)
	if err != nil {
		return object.Stored{}, fmt.Errorf("storage key: %w", err)
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return object.Stored{}, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return object.Stored{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var sniff [512]byte
	n, readErr := io.ReadFull(r, sniff[:])
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		return object.Stored{}, fmt.Errorf("read sniff: %w", readErr)
	}
	mimeType := http.DetectContentType(sniff[:n])

	if _, err := f.Write(sniff[:n]); err != nil {
		return object.Stored{}, fmt.Errorf("write sniff: %w", err)
	}
	written, err := io.Copy(f, r)
	if err != nil {
		return object.Stored{}, fmt.Errorf("write body: %w", err)
	}

	return object.Stored{Key: key, SizeBytes: int64(n) + written, MimeType: mimeType}, nil
}

// Open opens a stored object for reading.
func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := object.CleanKey(storageKey)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.baseDir, filepath.FromSlash(key)))
}

// Delete removes a stored object. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, storageKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := object.CleanKey(storageKey)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(key))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var _ object.ObjectStore = (*Store)(nil)
