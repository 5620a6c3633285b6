package lightning

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// ObjectStore uploads a local file and returns its public URL.
type ObjectStore interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// ThumbnailResolver finds a plugin thumbnail and, when object storage is
// configured, publishes it.
type ThumbnailResolver struct {
	objects ObjectStore
	logger  *slog.Logger
}

// NewThumbnailResolver creates a resolver. A nil objects store keeps
// thumbnails at their local path.
func NewThumbnailResolver(objects ObjectStore, logger *slog.Logger) *ThumbnailResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThumbnailResolver{
		objects: objects,
		logger:  logger.With(slog.String("component", "thumbnails")),
	}
}

// Uploads reports whether resolved thumbnails are uploaded.
func (r *ThumbnailResolver) Uploads() bool {
	return r.objects != nil
}

// Find returns the first thumbnail.<ext> present in dir, probing
// png, jpg, jpeg, gif in that order, or "" when there is none.
func (r *ThumbnailResolver) Find(dir string) string {
	if dir == "" {
		return ""
	}
	for _, ext := range thumbnailExtensions {
		p := filepath.Join(dir, "thumbnail."+ext)
		if isFile(p) {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

// Resolve returns the thumbnail location to store for a plugin directory:
// an uploaded URL, a local path when uploads are not configured, or "".
func (r *ThumbnailResolver) Resolve(ctx context.Context, dir string) (string, error) {
	local := r.Find(dir)
	if local == "" {
		r.logger.Debug("no thumbnail found", "dir", dir)
		return "", nil
	}
	if r.objects == nil {
		r.logger.Debug("object storage not configured, keeping local thumbnail", "path", local)
		return local, nil
	}

	url, err := r.objects.Upload(ctx, local)
	if err != nil {
		return "", fmt.Errorf("upload thumbnail %s: %w", local, err)
	}
	return url, nil
}
