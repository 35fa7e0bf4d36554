package mocks

import (
	"context"
	"io"
	"strings"
	"time"

	"crmapi/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockBlobs mocks the I/O methods of storage.Blobs. PublicURL and PathFromURL are pure and
// derive from BaseURL so tests need not set expectations for them.
type MockBlobs struct {
	mock.Mock
	BaseURL string
}

func (m *MockBlobs) Upload(ctx context.Context, r io.Reader, size int64, declaredName, contentType string) (storage.Blob, error) {
	args := m.Called(ctx, r, size, declaredName, contentType)
	return args.Get(0).(storage.Blob), args.Error(1)
}

func (m *MockBlobs) List(ctx context.Context, namespace string) ([]storage.Blob, error) {
	args := m.Called(ctx, namespace)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.Blob), args.Error(1)
}

func (m *MockBlobs) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockBlobs) Open(ctx context.Context, path string) (io.ReadCloser, storage.ObjectInfo, error) {
	args := m.Called(ctx, path)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Get(1).(storage.ObjectInfo), args.Error(2)
}

func (m *MockBlobs) Presign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, path, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockBlobs) PublicURL(path string) string {
	return m.BaseURL + "/" + path
}

func (m *MockBlobs) PathFromURL(url string) (string, bool) {
	p, ok := strings.CutPrefix(url, m.BaseURL+"/")
	return p, ok && p != ""
}
