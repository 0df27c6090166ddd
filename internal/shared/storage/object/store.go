package object

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectStore saves and retrieves uploaded contract files.
type ObjectStore interface {
	Save(ctx context.Context, ownerID, fileName string, r io.Reader) (Stored, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}

// Stored describes a saved object.
type Stored struct {
	Key       string
	SizeBytes int64
	MimeType  string
}

// ErrInvalidKey is returned for keys that escape the store root.
var ErrInvalidKey = errors.New("invalid storage key")

// OwnerKey returns a path-safe identifier for an owner id.
func OwnerKey(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:])
}

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// NewKey builds a unique storage key "contracts/<owner>/<uuid>_<name>".
func NewKey(ownerID, fileName string) (string, error) {
	name, err := SanitizeFileName(fileName)
	if err != nil {
		return "", err
	}
	return path.Join("contracts", OwnerKey(ownerID), uuid.NewString()+"_"+name), nil
}

// CleanKey validates a relative storage key.
func CleanKey(key string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(strings.TrimSpace(key), "\\", "/"))
	if clean == "." || strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, "/") {
		return "", ErrInvalidKey
	}
	return clean, nil
}

// PresignedUpload is a short-lived URL a client uploads a contract to directly.
type PresignedUpload struct {
	URL       string
	Key       string
	Headers   http.Header
	ExpiresIn time.Duration
}
