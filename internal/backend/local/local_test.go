package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreIsAtomicReplace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	staging := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(staging, []byte("hello"), 0644))

	require.NoError(t, d.Store(ctx, staging, "a/b/out.csv"))

	exists, err := d.Exists(ctx, "a/b/out.csv")
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := d.NewInputStream(ctx, "a/b/out.csv")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestSizeAndDeleteMissingIsNotError(t *testing.T) {
	ctx := context.Background()
	d, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = d.Size(ctx, "nope")
	require.Error(t, err)

	require.NoError(t, d.Delete(ctx, "nope"))
}

func TestWalkListsTopLevelOnly(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "topicA", "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "topicA", "sub", "f.avro"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "topicB"), 0755))

	entries, err := d.Walk(ctx, "", 0)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Path)
	}
	assert.ElementsMatch(t, []string{"topicA", "topicB"}, names)
}

func TestMoveRelocatesFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src.avro"), []byte("data"), 0644))
	require.NoError(t, d.Move(ctx, "src.avro", "archive/src.avro"))

	exists, err := d.Exists(ctx, "src.avro")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = d.Exists(ctx, "archive/src.avro")
	require.NoError(t, err)
	assert.True(t, exists)
}
