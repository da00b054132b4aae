package web

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-schemat/core/object"
	"github.com/asaidimu/go-schemat/core/registry"
	"github.com/asaidimu/go-schemat/core/store"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	ring := store.NewMemoryRing("app", nil)
	ctx := context.Background()
	records := map[int64]string{
		100: `{"@":"test.Page","title":"home"}`,
		101: `{"@":"test.Widget","title":"gadget"}`,
	}
	for id, data := range records {
		_, err := ring.InsertAt(ctx, id, data)
		require.NoError(t, err)
	}
	reg, err := registry.New(store.NewStore(ring), nil, &registry.Options{DefaultTTL: time.Hour})
	require.NoError(t, err)

	r := NewRouter(reg, nil)
	r.RegisterEndpoint("test.Page", "view", func(ctx context.Context, req *Request, target *object.WebObject) (any, error) {
		title, err := target.GetField(ctx, "title")
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("view of %v", title), nil
	})
	r.RegisterEndpoint("test.Page", "edit", func(_ context.Context, _ *Request, target *object.WebObject) (any, error) {
		return fmt.Sprintf("editing [%d]", target.ID()), nil
	})
	return r
}

func TestDefaultEndpointPerProtocol(t *testing.T) {
	r := testRouter(t)
	out, err := r.Serve(context.Background(), &Request{Method: GET, Path: "/100"})
	require.NoError(t, err)
	assert.Equal(t, "view of home", out)
}

func TestExplicitEndpointSuffix(t *testing.T) {
	r := testRouter(t)

	target, endpoint, err := r.Resolve(context.Background(), &Request{Method: GET, Path: "/pages/100::edit"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), target.ID())
	assert.Equal(t, "edit", endpoint)

	out, err := r.Serve(context.Background(), &Request{Method: POST, Path: "/100::edit"})
	require.NoError(t, err)
	assert.Equal(t, "editing [100]", out)
}

func TestQueryCarriesThrough(t *testing.T) {
	r := testRouter(t)
	r.RegisterEndpoint("test.Page", "search", func(_ context.Context, req *Request, _ *object.WebObject) (any, error) {
		return req.Query.Get("q"), nil
	})

	out, err := r.Serve(context.Background(), &Request{
		Method: LOCAL,
		Path:   "/100::search",
		Query:  url.Values{"q": []string{"needle"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "needle", out)
}

func TestURLNotFound(t *testing.T) {
	r := testRouter(t)
	ctx := context.Background()

	// No numeric object segment.
	_, err := r.Serve(ctx, &Request{Method: GET, Path: "/about"})
	assert.True(t, URLNotFound.Has(err))

	// Object does not exist.
	_, err = r.Serve(ctx, &Request{Method: GET, Path: "/999"})
	assert.True(t, URLNotFound.Has(err))

	// Class serves no such endpoint.
	_, err = r.Serve(ctx, &Request{Method: GET, Path: "/101::view"})
	assert.True(t, URLNotFound.Has(err))
}
