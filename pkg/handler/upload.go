package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/resumesite/oidc-gatekeeper/pkg/config"
	"github.com/resumesite/oidc-gatekeeper/pkg/storage"
	"github.com/resumesite/oidc-gatekeeper/pkg/utils"
)

// allowed upload content types for resume assets
var allowedContentTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
}

// UploadHandler stores resume documents and photos in object storage.
// Only authenticated requests reach it; group policy is applied by the
// router's RequireGroup wrapper.
type UploadHandler struct {
	store   storage.Store
	prefix  string
	maxSize int64
}

// NewUploadHandler creates an upload handler from the assets configuration.
func NewUploadHandler(store storage.Store, cfg *config.Assets) *UploadHandler {
	return &UploadHandler{
		store:   store,
		prefix:  strings.TrimSuffix(cfg.Prefix, "/"),
		maxSize: cfg.MaxUploadSize,
	}
}

// ServeHTTP handles POST of a single object. The body is the raw file;
// Content-Type selects the stored extension. The generated object key
// is returned so the site can reference the asset.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	start := startTimeFrom(r.Context())

	contentType := r.Header.Get("Content-Type")
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		slog.Warn("Rejected upload with unsupported content type",
			slog.String("requestId", requestID),
			slog.String("contentType", utils.TruncateString(contentType, 64)))
		respondError(w, requestID, start, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	if r.ContentLength > h.maxSize {
		respondError(w, requestID, start, ErrUploadTooLarge.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	body := http.MaxBytesReader(w, r.Body, h.maxSize)

	key := h.objectKey(ext)
	if err := h.store.Put(r.Context(), key, body, contentType); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondError(w, requestID, start, ErrUploadTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}

		slog.Error("Failed to store upload",
			slog.String("requestId", requestID),
			slog.String("key", key),
			slog.String("error", err.Error()))
		respondError(w, requestID, start, "failed to store upload", http.StatusBadGateway)
		return
	}

	claims, _ := ClaimsFrom(r.Context())
	subject := ""
	if claims != nil {
		subject = claims.Subject
	}
	slog.Info("Stored upload",
		slog.String("requestId", requestID),
		slog.String("key", key),
		slog.String("subject", subject))

	respondJSON(w, requestID, start, map[string]string{"key": key})
}

func (h *UploadHandler) objectKey(ext string) string {
	name := fmt.Sprintf("%s%s", uuid.New().String(), ext)
	if h.prefix == "" {
		return name
	}
	return path.Join(h.prefix, name)
}
