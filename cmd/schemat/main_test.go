package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-schemat/core/runtime"
	"github.com/asaidimu/go-schemat/core/store"
)

func TestReinsertCopiesRecords(t *testing.T) {
	ring := store.NewMemoryRing("app", &store.MemoryRingOptions{StartID: 100})
	st := store.NewStore(ring)
	ctx := context.Background()
	_, err := ring.InsertAt(ctx, 10, `{"name":"a"}`)
	require.NoError(t, err)
	_, err = ring.InsertAt(ctx, 11, `{"name":"b"}`)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, reinsert(ctx, st, []int64{10, 11}, 0, "", &out))
	assert.Equal(t, "10 -> 100\n11 -> 101\n", out.String())

	data, _, err := st.Select(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"a"}`, data)
}

func TestReinsertWithExplicitID(t *testing.T) {
	ring := store.NewMemoryRing("app", nil)
	st := store.NewStore(ring)
	ctx := context.Background()
	_, err := ring.InsertAt(ctx, 10, `{"name":"a"}`)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, reinsert(ctx, st, []int64{10}, 500, "", &out))
	data, _, err := st.Select(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"a"}`, data)
}

func TestCreateCluster(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
nodes:
  - id: 1024
    data:
      name: node one
      agents_running: []
  - id: 1025
    data:
      name: node two
`), 0o644))

	ring := store.NewMemoryRing("app", nil)
	st := store.NewStore(ring)
	cfg := &runtime.Config{DataPath: dir}

	var out bytes.Buffer
	require.NoError(t, createCluster(context.Background(), st, cfg, manifest, &out))
	assert.Contains(t, out.String(), "node 1024 created")

	data, _, err := st.Select(context.Background(), 1024)
	require.NoError(t, err)
	assert.Contains(t, data, `"node one"`)

	id, err := cfg.NodeID()
	require.NoError(t, err)
	assert.Equal(t, int64(1024), id)
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "42"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 42}, ids)

	_, err = parseIDs([]string{"x"})
	assert.Error(t, err)
	_, err = parseIDs([]string{"-3"})
	assert.Error(t, err)
}
