package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("storage")

	info, err := s.Put(ctx, "uploads/a.txt", strings.NewReader("hello"), PutObjectOptions{Size: 5, ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.NotEmpty(t, info.ETag)

	_, err = s.Put(ctx, "other/b.txt", strings.NewReader("x"), PutObjectOptions{Size: -1})
	require.NoError(t, err)

	rc, got, err := s.Get(ctx, "uploads/a.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", got.ContentType)

	list, err := s.List(ctx, "uploads/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "uploads/a.txt", list[0].Key)

	u, err := s.PresignGet(ctx, "uploads/a.txt", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "memory://storage/uploads/a.txt?expires="))

	require.NoError(t, s.Delete(ctx, "uploads/a.txt"))
	require.NoError(t, s.Delete(ctx, "uploads/a.txt"))
	_, _, err = s.Get(ctx, "uploads/a.txt")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryStorage_SizeMismatch(t *testing.T) {
	s := NewMemory("storage")
	_, err := s.Put(context.Background(), "k", strings.NewReader("abc"), PutObjectOptions{Size: 10})
	assert.Error(t, err)
}
