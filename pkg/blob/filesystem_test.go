package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	s, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	obj, err := s.Upload(ctx, "conv1/msg1/notes.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "file://conv1/msg1/notes.txt", obj.URL)

	data, err := s.Fetch(ctx, obj.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestFilesystemStoreRejectsTraversal(t *testing.T) {
	s, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "../escape.txt", "text/plain", []byte("x"))
	assert.Error(t, err)
}

func TestFilesystemStoreFetchUnknownScheme(t *testing.T) {
	s, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), "gs://bucket/key")
	assert.Error(t, err)
}

func TestFilesystemStoreFetchMissing(t *testing.T) {
	s, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), "file://nope.txt")
	assert.Error(t, err)
}
