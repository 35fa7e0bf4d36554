package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"crmapi/internal/config"
)

// UploadNamespace is the key prefix every customer document is stored under.
const UploadNamespace = "uploads"

const maxNameLen = 100

// Blob is a stored document as seen by the rest of the application.
type Blob struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Blobs maps binary payloads to objects under a namespace and derives their public URLs.
type Blobs interface {
	// Upload stores r under a freshly generated path in UploadNamespace. Existing objects are never overwritten.
	Upload(ctx context.Context, r io.Reader, size int64, declaredName, contentType string) (Blob, error)
	// List returns every blob in namespace with its public URL.
	List(ctx context.Context, namespace string) ([]Blob, error)
	// Delete removes the blob at path.
	Delete(ctx context.Context, path string) error
	// Open streams the blob at path.
	Open(ctx context.Context, path string) (io.ReadCloser, ObjectInfo, error)
	// Presign returns a time-limited download URL for path.
	Presign(ctx context.Context, path string, ttl time.Duration) (string, error)
	// PublicURL derives the public URL of path.
	PublicURL(path string) string
	// PathFromURL maps a URL produced by PublicURL back to its path.
	PathFromURL(url string) (string, bool)
}

// BlobStore implements Blobs on top of a Storage driver.
type BlobStore struct {
	store   Storage
	baseURL string
	newID   func() string
}

var _ Blobs = (*BlobStore)(nil)

// NewBlobStore wraps store. baseURL is the public base (see PublicBaseURL); a trailing slash is ignored.
func NewBlobStore(store Storage, baseURL string) *BlobStore {
	return &BlobStore{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   func() string { return uuid.New().String() },
	}
}

func (b *BlobStore) Upload(ctx context.Context, r io.Reader, size int64, declaredName, contentType string) (Blob, error) {
	if r == nil {
		return Blob{}, errors.New("reader is nil")
	}
	name := SanitizeName(declaredName)
	key := UploadNamespace + "/" + b.newID() + "-" + name

	info, err := b.store.Put(ctx, key, r, PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": name,
		},
	})
	if err != nil {
		return Blob{}, fmt.Errorf("put %s: %w", key, err)
	}
	return b.toBlob(info), nil
}

func (b *BlobStore) List(ctx context.Context, namespace string) ([]Blob, error) {
	prefix := strings.Trim(namespace, "/")
	if prefix != "" {
		prefix += "/"
	}
	objs, err := b.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", namespace, err)
	}
	out := make([]Blob, 0, len(objs))
	for _, o := range objs {
		out = append(out, b.toBlob(o))
	}
	return out, nil
}

func (b *BlobStore) Delete(ctx context.Context, p string) error {
	if p == "" {
		return errors.New("path is required")
	}
	return b.store.Delete(ctx, p)
}

func (b *BlobStore) Open(ctx context.Context, p string) (io.ReadCloser, ObjectInfo, error) {
	return b.store.Get(ctx, p)
}

func (b *BlobStore) Presign(ctx context.Context, p string, ttl time.Duration) (string, error) {
	return b.store.PresignGet(ctx, p, ttl)
}

func (b *BlobStore) PublicURL(p string) string {
	return b.baseURL + "/" + p
}

func (b *BlobStore) PathFromURL(u string) (string, bool) {
	p, ok := strings.CutPrefix(u, b.baseURL+"/")
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

func (b *BlobStore) toBlob(o ObjectInfo) Blob {
	return Blob{
		Path:         o.Key,
		Name:         path.Base(o.Key),
		URL:          b.PublicURL(o.Key),
		Size:         o.Size,
		ContentType:  o.ContentType,
		LastModified: o.LastModified,
	}
}

// SanitizeName reduces a client supplied filename to a safe base name of [A-Za-z0-9._-].
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), ".")
	if len(out) > maxNameLen {
		out = out[len(out)-maxNameLen:]
	}
	if out == "" || out == "_" {
		return "file"
	}
	return out
}

// PublicBaseURL is the URL prefix under which objects of cfg's bucket are publicly readable.
func PublicBaseURL(cfg config.StorageConfig) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	switch cfg.Driver {
	case config.StorageDriverMemory:
		return "memory://" + cfg.Bucket
	case config.StorageDriverS3:
		if cfg.Endpoint == "" {
			return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return strings.TrimRight(endpointURL(cfg), "/") + "/" + cfg.Bucket
}

func hasScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
