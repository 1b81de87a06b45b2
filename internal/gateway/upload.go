package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/reddichat/internal/chat"
	"github.com/flemzord/reddichat/internal/security"
	"github.com/flemzord/reddichat/internal/storage"
)

// allowedUploadTypes are the MIME types accepted by /api/upload.
var allowedUploadTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"text/plain",
	"text/markdown",
}

// downloadTTL is the lifetime of presigned links from /api/files/{id}.
const downloadTTL = time.Hour

type uploadedFileJSON struct {
	ID               string    `json:"id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"originalFilename"`
	FileType         string    `json:"fileType"`
	FileSize         int64     `json:"fileSize"`
	MIMEType         string    `json:"mimeType"`
	URL              string    `json:"s3Url"`
	CreatedAt        time.Time `json:"createdAt"`
}

// handleUpload serves POST /api/upload. Unlike the chat stream, which
// skips oversized files, this endpoint rejects the whole request.
func (g *Gateway) handleUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		if g.deps.Limiter != nil {
			if err := g.deps.Limiter.Allow(security.KindUpload, user); err != nil {
				writeError(w, http.StatusTooManyRequests, "Too many uploads. Please wait a moment and try again.")
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, g.config.MaxRequestSize)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "No files provided")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		files := formFiles(r.MultipartForm)
		if len(files) == 0 {
			writeError(w, http.StatusBadRequest, "No files provided")
			return
		}

		maxSize := g.deps.Chat.Config().MaxFileSize
		for _, f := range files {
			if f.Size > maxSize {
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("File %s exceeds maximum size of %dMB", f.Name, maxSize>>20))
				return
			}
			if !slices.Contains(allowedUploadTypes, f.MIMEType) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("File type %s is not allowed", f.MIMEType))
				return
			}
		}

		out := make([]uploadedFileJSON, 0, len(files))
		for _, f := range files {
			a, err := g.deps.Chat.Attach(r.Context(), user, f)
			if err != nil {
				status := statusFor(err)
				msg := "Failed to upload files"
				switch {
				case errors.Is(err, chat.ErrStorageDisabled):
					msg = "File uploads are not configured"
				case errors.Is(err, chat.ErrFileTooLarge):
					msg = fmt.Sprintf("File %s exceeds maximum size of %dMB", f.Name, maxSize>>20)
				default:
					g.logger.Error("upload failed", "user_id", user, "file", f.Name, "error", err)
				}
				writeError(w, status, msg)
				return
			}
			out = append(out, uploadedFileJSON{
				ID:               a.ID,
				Filename:         a.Filename,
				OriginalFilename: a.OriginalFilename,
				FileType:         a.FileType,
				FileSize:         a.FileSize,
				MIMEType:         a.MIMEType,
				URL:              a.URL,
				CreatedAt:        a.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": out})
	}
}

// handleFile serves GET /api/files/{id} by redirecting the owner to the
// object, through a presigned URL when the backend supports it.
func (g *Gateway) handleFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		found, err := g.deps.Store.Attachments(r.Context(), userID(r), []string{chi.URLParam(r, "id")})
		if err != nil {
			g.logger.Error("loading attachment failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch file")
			return
		}
		if len(found) == 0 {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		a := found[0]

		target := a.URL
		if p, ok := g.deps.Storage.(storage.Presigner); ok && a.Key != "" {
			u, err := p.PresignGet(r.Context(), a.Key, downloadTTL)
			if err != nil {
				g.logger.Error("presign failed", "key", a.Key, "error", err)
				writeError(w, http.StatusBadGateway, "Failed to fetch file")
				return
			}
			target = u
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}
