package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cureline/internal/blob/core"
)

func TestStoreIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	store := New()
	meta := map[string]string{"cycle": "C-180"}
	_, err := store.Put(ctx, "k", bytes.NewReader([]byte("v1")), core.PutOptions{Metadata: meta})
	require.NoError(t, err)
	meta["cycle"] = "mutated"

	_, err = store.Put(ctx, "k", bytes.NewReader([]byte("v2")), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)

	info, rc, err := store.Get(ctx, "k")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "v1", string(body))
	assert.Equal(t, "C-180", info.Metadata["cycle"])
}

func TestStoreListDeleteAndMissing(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"b/2", "a/1", "b/1"} {
		_, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{})
		require.NoError(t, err)
	}
	listed, err := store.List(ctx, "b/")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "b/1", listed[0].Key)
	assert.Equal(t, "b/2", listed[1].Key)

	ok, err := store.Delete(ctx, "b/1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = store.Head(ctx, "b/1")
	require.ErrorIs(t, err, core.ErrNotFound)

	_, err = store.Put(ctx, " ", bytes.NewReader(nil), core.PutOptions{})
	require.Error(t, err)
}
