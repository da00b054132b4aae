package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootManifest = `
- id: 1
  data:
    name: root category
    cache_timeout: 0
- id: 1024
  data:
    name: node one
    agents_running: []
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T) (*Config, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.yaml"), []byte(bootManifest), 0o644))

	path := writeConfig(t, dir, `
cluster: test
node: 1024
data_path: `+dir+`
refresh_interval: 50ms
request_timeout: 1s
cache_ttl: 2m
rings:
  - name: boot
    type: memory
    file: `+filepath.Join(dir, "boot.yaml")+`
    readonly: true
    bootstrap: true
  - name: app
    type: sqlite
    file: `+filepath.Join(dir, "app.db")+`
    start_id: 2048
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	return cfg, dir
}

func TestLoadConfig(t *testing.T) {
	cfg, _ := testConfig(t)
	assert.Equal(t, "test", cfg.Cluster)
	assert.Equal(t, int64(1024), cfg.Node)
	assert.Equal(t, 50*time.Millisecond, cfg.RefreshInterval.Std())
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL.Std())
	require.Len(t, cfg.Rings, 2)
	assert.True(t, cfg.Rings[0].Bootstrap)
	assert.Equal(t, int64(2048), cfg.Rings[1].StartID)
}

func TestLoadConfigRejectsUnknownRingType(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
node: 1
rings:
  - name: odd
    type: rocksdb
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, ConfigError.Has(err))
}

func TestNodeIDPersistence(t *testing.T) {
	cfg := &Config{DataPath: t.TempDir()}

	_, err := cfg.NodeID()
	require.Error(t, err, "no config value and no persisted file")

	require.NoError(t, cfg.SaveNodeID(77))
	id, err := cfg.NodeID()
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)

	cfg.Node = 99
	id, err = cfg.NodeID()
	require.NoError(t, err)
	assert.Equal(t, int64(99), id, "the config value wins over the file")
}

func TestBootAssemblesProcess(t *testing.T) {
	cfg, _ := testConfig(t)
	worker := 1
	rt, err := Boot(cfg, &Options{WorkerID: &worker})
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, int64(1024), rt.NodeID)
	assert.Equal(t, 1, rt.WorkerID)
	require.NotNil(t, rt.Store.Ring("boot"))
	require.NotNil(t, rt.Store.Ring("app"))

	// Bootstrap objects come out of the YAML ring.
	ctx := context.Background()
	node, err := rt.Registry.GetLoaded(ctx, 1024)
	require.NoError(t, err)
	name, err := node.GetField(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "node one", name)

	// New records land in the writable sqlite ring at its id floor.
	id, err := rt.Store.Insert(ctx, `{"name":"fresh"}`, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, id, int64(2048))
}

func TestRunDrains(t *testing.T) {
	cfg, _ := testConfig(t)
	worker := 0
	rt, err := Boot(cfg, &Options{WorkerID: &worker})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	rt.Scheduler.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("runtime did not drain")
	}
}
