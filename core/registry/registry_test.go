package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-schemat/core/catalog"
	"github.com/asaidimu/go-schemat/core/object"
	"github.com/asaidimu/go-schemat/core/store"
)

// fakeClock is an adjustable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// slowRing wraps a ring and counts record fetches, optionally delaying
// them so loads can be observed in flight.
type slowRing struct {
	store.Ring
	mu      sync.Mutex
	selects int
	delay   time.Duration
}

func (r *slowRing) Select(ctx context.Context, id int64) (string, error) {
	r.mu.Lock()
	r.selects++
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.Ring.Select(ctx, id)
}

func (r *slowRing) selectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selects
}

func testRegistry(t *testing.T, rings ...store.Ring) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reg, err := New(store.NewStore(rings...), nil, &Options{
		DefaultTTL: time.Minute,
		Clock:      clock.Now,
	})
	require.NoError(t, err)
	return reg, clock
}

func seededRing(records map[int64]string) *store.MemoryRing {
	ring := store.NewMemoryRing("app", nil)
	ctx := context.Background()
	for id, data := range records {
		if _, err := ring.InsertAt(ctx, id, data); err != nil {
			panic(err)
		}
	}
	return ring
}

func TestGetObjectRegistersStub(t *testing.T) {
	reg, _ := testRegistry(t, seededRing(nil))

	a, err := reg.GetObject(7)
	require.NoError(t, err)
	assert.Equal(t, object.Stub, a.Status())

	b, err := reg.GetObject(7)
	require.NoError(t, err)
	assert.Same(t, a, b, "one instance per id")
}

func TestGetLoadedAndCache(t *testing.T) {
	reg, _ := testRegistry(t, seededRing(map[int64]string{
		1: `{"name":"root","__ver":5}`,
	}))
	ctx := context.Background()

	o, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, object.Loaded, o.Status())
	assert.Equal(t, int64(5), o.Version())

	v, err := o.GetField(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "root", v)

	again, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, o, again)

	_, err = reg.GetLoaded(ctx, 999)
	assert.True(t, store.ErrObjectNotFound.Has(err))

	// A failed load leaves a stub that can retry.
	stub, err := reg.GetObject(999)
	require.NoError(t, err)
	assert.Equal(t, object.Stub, stub.Status())
}

func TestTTLEviction(t *testing.T) {
	reg, clock := testRegistry(t, seededRing(map[int64]string{
		1: `{"name":"root"}`,
	}))
	ctx := context.Background()

	o, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	replacement, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, o, replacement, "expired instances are evicted on observation")
	assert.Equal(t, object.Stub, o.Status(), "the evicted instance behaves as a stub")
}

func TestBootstrapRecordsNotCached(t *testing.T) {
	boot := store.NewMemoryRing("boot", &store.MemoryRingOptions{Bootstrap: true})
	_, err := boot.InsertAt(context.Background(), 1, `{"name":"seed"}`)
	require.NoError(t, err)

	reg, _ := testRegistry(t, boot)
	ctx := context.Background()

	a, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err)
	b, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, a, b, "bootstrap records expire immediately")
}

func TestCategoryCacheTimeout(t *testing.T) {
	reg, clock := testRegistry(t, seededRing(map[int64]string{
		10: `{"cache_timeout":600}`,
		30: `{"__category":[{"@":10}],"name":"member"}`,
	}))
	ctx := context.Background()

	o, err := reg.GetLoaded(ctx, 30)
	require.NoError(t, err)

	// Past the default TTL but inside the category's cache_timeout.
	clock.Advance(5 * time.Minute)
	again, err := reg.GetLoaded(ctx, 30)
	require.NoError(t, err)
	assert.Same(t, o, again)

	clock.Advance(6 * time.Minute)
	later, err := reg.GetLoaded(ctx, 30)
	require.NoError(t, err)
	assert.NotSame(t, o, later)
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	ring := &slowRing{
		Ring:  seededRing(map[int64]string{1: `{"name":"root"}`}),
		delay: 20 * time.Millisecond,
	}
	reg, _ := testRegistry(t, ring)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*object.WebObject, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := reg.GetLoaded(ctx, 1)
			assert.NoError(t, err)
			results[i] = o
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ring.selectCount(), "concurrent loads share one in-flight fetch")
	for _, o := range results[1:] {
		assert.Same(t, results[0], o)
	}
}

func TestReloadReplacesAtomically(t *testing.T) {
	ring := seededRing(map[int64]string{1: `{"name":"one","__ver":1}`})
	reg, clock := testRegistry(t, ring)
	ctx := context.Background()

	first, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err)

	twin, err := first.Mutate()
	require.NoError(t, err)

	require.NoError(t, ring.Update(ctx, 1, `{"name":"two","__ver":2}`))

	clock.Advance(time.Second)
	second, err := reg.Reload(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, second.LoadedAt().After(first.LoadedAt()) || second.LoadedAt().Equal(first.LoadedAt()))

	cached, err := reg.GetObject(1)
	require.NoError(t, err)
	assert.Same(t, second, cached, "only one live instance per id remains")

	// Mutable twins in flight keep their snapshot.
	v, err := twin.GetField(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "one", v)
}

func TestRefreshReturnsNewest(t *testing.T) {
	ring := seededRing(map[int64]string{1: `{"__ver":1}`})
	reg, clock := testRegistry(t, ring)
	ctx := context.Background()

	first, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, ring.Update(ctx, 1, `{"__ver":2}`))
	clock.Advance(time.Second)
	second, err := reg.Reload(ctx, 1)
	require.NoError(t, err)

	assert.Same(t, second, reg.Refresh(first))
	assert.Same(t, second, reg.Refresh(second))
}

func TestProvisionalResolution(t *testing.T) {
	reg, _ := testRegistry(t, seededRing(nil))

	newborn := object.NewNewborn(-5, catalog.New(), reg)
	reg.RegisterProvisional(newborn)

	resolved, err := reg.ResolveRef(-5)
	require.NoError(t, err)
	assert.Same(t, newborn, resolved)

	reg.DropProvisional(-5)
	_, err = reg.ResolveRef(-5)
	assert.True(t, store.ErrObjectNotFound.Has(err))
}

func TestSealValidation(t *testing.T) {
	reg, _ := testRegistry(t, seededRing(map[int64]string{
		20: `{"__ver":7}`,
		30: `{"__prototype":[{"@":20}],"__seal":"7"}`,
		31: `{"__prototype":[{"@":20}],"__seal":"6"}`,
		32: `{"__seal":"."}`,
	}))
	ctx := context.Background()

	o, err := reg.GetLoaded(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, "7", o.Seal())

	_, err = reg.GetLoaded(ctx, 31)
	require.Error(t, err)
	assert.True(t, SealError.Has(err), "a pinned version that cannot be materialized is a seal error")

	_, err = reg.GetLoaded(ctx, 32)
	require.NoError(t, err, "the empty seal pins nothing")
}

func TestRootCategoryDescribesItself(t *testing.T) {
	reg, _ := testRegistry(t, seededRing(map[int64]string{
		1: `{"__category":[{"@":1}],"name":"Category","cache_timeout":600}`,
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	root, err := reg.GetLoaded(ctx, 1)
	require.NoError(t, err, "the root category loads without recursing into its own load")
	assert.Equal(t, object.Loaded, root.Status())

	name, err := root.GetField(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Category", name)

	ttl, err := root.CacheTimeout(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(600), ttl, "the root imposes its own cache timeout")
}

func TestRuntimeEvents(t *testing.T) {
	reg, _ := testRegistry(t, seededRing(map[int64]string{1: `{}`}))

	loaded := make(chan RuntimeEvent, 4)
	id := reg.RegisterSubscription(ObjectLoaded, func(_ context.Context, e RuntimeEvent) error {
		loaded <- e
		return nil
	})
	defer reg.UnregisterSubscription(id)

	_, err := reg.GetLoaded(context.Background(), 1)
	require.NoError(t, err)

	select {
	case e := <-loaded:
		assert.Equal(t, ObjectLoaded, e.Type)
		assert.Equal(t, int64(1), e.ObjectID)
	case <-time.After(time.Second):
		t.Fatal("no object.loaded event observed")
	}
}
