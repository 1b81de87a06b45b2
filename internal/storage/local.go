package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Local stores objects under a directory and serves them below BaseURL.
// It is meant for development and tests.
type Local struct {
	dir     string
	baseURL string
	naming  Naming
}

var _ Uploader = (*Local)(nil)

// NewLocal creates dir if needed. baseURL is the public prefix the
// files are reachable under, for example "http://localhost:8080/files".
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &Local{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// SetNaming overrides key generation.
func (l *Local) SetNaming(n Naming) { l.naming = n }

// Upload implements Uploader.
func (l *Local) Upload(_ context.Context, obj Object) (Stored, error) {
	name, key := l.naming.Key(obj.UserID, obj.Filename)
	full := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return Stored{}, fmt.Errorf("storage: create directory: %w", err)
	}
	if err := os.WriteFile(full, obj.Data, 0o640); err != nil {
		return Stored{}, fmt.Errorf("storage: write %s: %w", key, err)
	}
	return Stored{
		Key:      key,
		URL:      l.baseURL + "/" + key,
		Bucket:   "local",
		Filename: name,
		Size:     int64(len(obj.Data)),
		Checksum: Checksum(obj.Data),
	}, nil
}

// Delete implements Uploader.
func (l *Local) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(l.dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// Handler serves stored files. Mount it under the path of baseURL with
// the prefix stripped.
func (l *Local) Handler() http.Handler {
	return http.FileServer(http.Dir(l.dir))
}
