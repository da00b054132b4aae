package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStack(t *testing.T) (*Store, *MemoryRing, *MemoryRing) {
	t.Helper()
	boot := NewMemoryRing("boot", &MemoryRingOptions{ReadOnly: true, Bootstrap: true})
	boot.data[1] = `{"name":"root"}`
	boot.data[2] = `{"name":"base"}`
	app := NewMemoryRing("app", &MemoryRingOptions{StartID: 100})
	return NewStore(boot, app), boot, app
}

func TestSelectShadowing(t *testing.T) {
	ctx := context.Background()
	store, _, app := testStack(t)

	data, ring, err := store.Select(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"root"}`, data)
	assert.Equal(t, "boot", ring.Name())

	// A record in the upper ring shadows the lower one.
	_, err = app.InsertAt(ctx, 1, `{"name":"patched"}`)
	require.NoError(t, err)
	data, ring, err = store.Select(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"patched"}`, data)
	assert.Equal(t, "app", ring.Name())

	_, _, err = store.Select(ctx, 999)
	assert.True(t, ErrObjectNotFound.Has(err))
}

func TestInsertSkipsReadOnlyRings(t *testing.T) {
	ctx := context.Background()
	store, boot, _ := testStack(t)

	// An insert aimed at the read-only bootstrap ring lands in the
	// writable ring above it.
	id, err := store.Insert(ctx, `{"name":"new"}`, "boot")
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)
	_, err = boot.Select(ctx, id)
	assert.True(t, ErrObjectNotFound.Has(err))

	_, err = store.Insert(ctx, "x", "ghost")
	assert.True(t, ErrObjectNotFound.Has(err))
}

func TestUpdateShadowsReadOnlyOwner(t *testing.T) {
	ctx := context.Background()
	store, boot, app := testStack(t)

	require.NoError(t, store.Update(ctx, 2, `{"name":"base2"}`))

	data, err := boot.Select(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"base"}`, data, "read-only original is untouched")

	data, err = app.Select(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"base2"}`, data)

	// Updates of records owned by a writable ring rewrite in place.
	id, err := store.Insert(ctx, `{"n":1}`, "")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, id, `{"n":2}`))
	data, _, err = store.Select(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, data)

	assert.True(t, ErrObjectNotFound.Has(store.Update(ctx, 999, "x")))
}

func TestDeleteUncoversLowerVersion(t *testing.T) {
	ctx := context.Background()
	store, _, app := testStack(t)

	_, err := app.InsertAt(ctx, 2, `{"name":"shadow"}`)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, 2))

	data, ring, err := store.Select(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"base"}`, data)
	assert.Equal(t, "boot", ring.Name())

	// Now the newest version lives in the read-only ring.
	assert.True(t, ErrReadOnly.Has(store.Delete(ctx, 2)))
}

func TestScanMergesAndShadows(t *testing.T) {
	ctx := context.Background()
	store, _, app := testStack(t)

	_, err := app.InsertAt(ctx, 2, `{"name":"shadow"}`)
	require.NoError(t, err)
	_, err = app.InsertAt(ctx, 5, `{"name":"five"}`)
	require.NoError(t, err)

	records, err := store.Scan(ctx, ScanOptions{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []Record{
		{ID: 1, Data: `{"name":"root"}`},
		{ID: 2, Data: `{"name":"shadow"}`},
		{ID: 5, Data: `{"name":"five"}`},
	}, records)

	records, err = store.Scan(ctx, ScanOptions{Start: 2, Stop: 5})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].ID)

	records, err = store.Scan(ctx, ScanOptions{Reverse: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(5), records[0].ID)
	assert.Equal(t, int64(2), records[1].ID)
}

func TestLoadMemoryRingManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.yaml")
	manifest := `
- id: 1
  data:
    name: root
    __category: 2
- id: 7
  data:
    name: leaf
`
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	ring, err := LoadMemoryRing("boot", path, &MemoryRingOptions{ReadOnly: true, Bootstrap: true})
	require.NoError(t, err)
	assert.True(t, ring.ReadOnly())
	assert.True(t, ring.Bootstrap())

	data, err := ring.Select(context.Background(), 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"root","__category":2}`, data)

	// Insert after load continues above the highest manifest id.
	rw, err := LoadMemoryRing("rw", path, nil)
	require.NoError(t, err)
	id, err := rw.Insert(context.Background(), "{}")
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)

	_, err = LoadMemoryRing("x", filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}
