package jsonx

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/asaidimu/go-schemat/core/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRef struct{ id int64 }

func (r fakeRef) ID() int64 { return r.id }

type fakeResolver struct {
	resolved []int64
}

func (r *fakeResolver) ResolveRef(id int64) (any, error) {
	r.resolved = append(r.resolved, id)
	return fakeRef{id: id}, nil
}

func TestRoundTripPrimitives(t *testing.T) {
	codec := NewCodec(nil, nil)
	for _, v := range []any{nil, true, "text", 3.25, []any{1.0, "two", nil}} {
		state, err := codec.Encode(v)
		require.NoError(t, err)
		back, err := codec.Decode(state)
		require.NoError(t, err)
		assert.Equal(t, v, back)
	}
}

func TestBytesAndBigInt(t *testing.T) {
	codec := NewCodec(nil, nil)

	raw, err := codec.EncodeString([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)
	assert.JSONEq(t, `{"=":"deadbeef","@":"%bin"}`, raw)
	back, err := codec.DecodeString(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, back)

	n, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	raw, err = codec.EncodeString(n)
	require.NoError(t, err)
	back, err = codec.DecodeString(raw)
	require.NoError(t, err)
	assert.Equal(t, 0, n.Cmp(back.(*big.Int)))
}

func TestReferencesEncodeAsIDs(t *testing.T) {
	resolver := &fakeResolver{}
	codec := NewCodec(nil, resolver)

	state, err := codec.Encode(map[string]any{
		"links": []any{fakeRef{id: 200}, fakeRef{id: 300}},
		"draft": fakeRef{id: -7},
	})
	require.NoError(t, err)
	raw, err := codec.EncodeString(map[string]any{"links": []any{fakeRef{id: 200}, fakeRef{id: 300}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"links":[{"@":200},{"@":300}]}`, raw)

	back, err := codec.Decode(state)
	require.NoError(t, err)
	m := back.(map[string]any)
	assert.Equal(t, fakeRef{id: 200}, m["links"].([]any)[0])
	assert.Equal(t, fakeRef{id: -7}, m["draft"], "provisional ids pass through the resolver")
	assert.ElementsMatch(t, []int64{200, 300, -7}, resolver.resolved)
}

func TestDecodeRefWithoutResolver(t *testing.T) {
	codec := NewCodec(nil, nil)
	_, err := codec.DecodeString(`{"@": 42}`)
	assert.Error(t, err)
}

func TestClassTagCollision(t *testing.T) {
	codec := NewCodec(nil, nil)
	value := map[string]any{"@": "not a tag", "x": 1.0}

	raw, err := codec.EncodeString(value)
	require.NoError(t, err)
	assert.JSONEq(t, `{"=":{"@":"not a tag","x":1},"@":"%obj"}`, raw)

	back, err := codec.DecodeString(raw)
	require.NoError(t, err)
	assert.Equal(t, value, back)
}

func TestCatalogRoundTrip(t *testing.T) {
	codec := NewCodec(nil, &fakeResolver{})
	c := catalog.New(
		catalog.Entry{Key: "title", Value: "hello"},
		catalog.Entry{Key: "ref", Value: fakeRef{id: 9}},
	)

	raw, err := codec.EncodeString(c)
	require.NoError(t, err)
	back, err := codec.DecodeString(raw)
	require.NoError(t, err)

	loaded := back.(*catalog.Catalog)
	v, _ := loaded.Get("title")
	assert.Equal(t, "hello", v)
	v, _ = loaded.Get("ref")
	assert.Equal(t, fakeRef{id: 9}, v)
}

func TestTimeRoundTrip(t *testing.T) {
	codec := NewCodec(nil, nil)
	now := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)

	raw, err := codec.EncodeString(now)
	require.NoError(t, err)
	back, err := codec.DecodeString(raw)
	require.NoError(t, err)
	assert.Equal(t, now, back)
}

func TestErrorRoundTrip(t *testing.T) {
	codec := NewCodec(nil, nil)
	state, err := codec.Encode(errors.New("remote boom"))
	require.NoError(t, err)
	back, err := codec.Decode(state)
	require.NoError(t, err)
	assert.EqualError(t, back.(error), "remote boom")
}

func TestClassValue(t *testing.T) {
	codec := NewCodec(nil, nil)
	raw, err := codec.EncodeString(Class{Name: "catalog.Catalog"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"=":"catalog.Catalog","@":"%class"}`, raw)

	back, err := codec.DecodeString(raw)
	require.NoError(t, err)
	assert.Equal(t, Class{Name: "catalog.Catalog"}, back)

	_, err = codec.DecodeString(`{"=":"no.Such","@":"%class"}`)
	assert.Error(t, err)
}

func TestCycleRejected(t *testing.T) {
	codec := NewCodec(nil, nil)

	m := map[string]any{}
	m["self"] = m
	_, err := codec.Encode(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")

	c := catalog.New()
	require.NoError(t, c.Insert("", -1, "self", c))
	_, err = codec.Encode(c)
	assert.Error(t, err)
}

func TestUnknownClass(t *testing.T) {
	codec := NewCodec(nil, nil)
	_, err := codec.DecodeString(`{"x":1,"@":"ghost.Class"}`)
	assert.Error(t, err)

	type opaque struct{ n int }
	_, err = codec.Encode(opaque{n: 1})
	assert.Error(t, err)
}
