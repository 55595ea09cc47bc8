package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-forge/internal/forge"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "articles/a.json", "application/json", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://articles/a.json", uri)

	payload[0] = 'C'
	stored, ok := store.Object("articles/a.json")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, []string{"articles/a.json"}, store.Paths())

	_, err = store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}

func TestBlobStoreGetObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.GetObject(context.Background(), "articles/a.mdx")
	require.ErrorIs(t, err, forge.ErrNotFound)

	_, err = store.PutObject(context.Background(), "articles/a.mdx", "text/markdown", []byte("# A"))
	require.NoError(t, err)
	data, err := store.GetObject(context.Background(), "articles/a.mdx")
	require.NoError(t, err)
	require.Equal(t, "# A", string(data))
}
