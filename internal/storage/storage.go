// Package storage uploads chat attachments to object storage and names
// them. Backends implement Uploader; Local keeps files on disk.
package storage

import (
	"context"
	"crypto/md5" //nolint:gosec // content checksum, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// ServiceName is the service key storage modules register under.
const ServiceName = "storage"

// ErrNotFound is returned when deleting or presigning a missing object.
var ErrNotFound = errors.New("storage: object not found")

// Object is a file to upload.
type Object struct {
	UserID   string
	Filename string
	MIMEType string
	Data     []byte
}

// Stored describes an uploaded object.
type Stored struct {
	Key      string
	URL      string
	Bucket   string
	Filename string
	Size     int64
	Checksum string
}

// Uploader writes and removes objects.
type Uploader interface {
	Upload(ctx context.Context, obj Object) (Stored, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by backends that can hand out temporary read
// URLs for private objects.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Naming builds object keys. The zero value uses time.Now and shortuuid.
type Naming struct {
	Now   func() time.Time
	NewID func() string
}

// Key returns the stored filename and object key for a file uploaded by
// userID: "uploads/{user}/{unix-ms}-{id}.{ext}".
func (n Naming) Key(userID, filename string) (name, key string) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	newID := shortuuid.New
	if n.NewID != nil {
		newID = n.NewID
	}

	name = fmt.Sprintf("%d-%s", now().UnixMilli(), newID())
	if ext := strings.TrimPrefix(path.Ext(filename), "."); ext != "" {
		name += "." + strings.ToLower(ext)
	}
	return name, path.Join("uploads", safeSegment(userID), name)
}

// safeSegment keeps user ids from escaping their key prefix.
func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "anonymous"
	}
	return s
}

// Checksum returns the hex MD5 of data, the digest S3 uses for ETags.
func Checksum(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// FileType buckets a MIME type into the coarse kind shown in the UI.
func FileType(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "video/"):
		return "video"
	case strings.HasPrefix(mime, "audio/"):
		return "audio"
	case mime == "application/pdf", strings.Contains(mime, "word"), strings.Contains(mime, "document"):
		return "document"
	case strings.Contains(mime, "sheet"), strings.Contains(mime, "excel"):
		return "spreadsheet"
	default:
		return "file"
	}
}
