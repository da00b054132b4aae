package object

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/asaidimu/go-schemat/core/catalog"
	"github.com/asaidimu/go-schemat/core/jsonx"
	"github.com/asaidimu/go-schemat/core/types"
)

// EncodeRecord serializes the object's data catalog into its persisted
// JSON form: one member per field, arrays for fields declared multiple,
// and the classpath under the reserved class attribute. Virtual fields
// are never persisted.
func (o *WebObject) EncodeRecord(ctx context.Context, codec *jsonx.Codec) (string, error) {
	data, err := o.requireData()
	if err != nil {
		return "", err
	}
	schema, err := o.Schema(ctx)
	if err != nil {
		return "", err
	}

	out := map[string]any{}
	for _, key := range data.Keys() {
		if key == KeyClass {
			continue
		}
		t, err := schema.TypeOf(key)
		if err != nil {
			return "", err
		}
		opts := t.Options()
		if opts.Virtual {
			continue
		}
		values := data.GetAll(key)
		if opts.Multiple {
			arr := make([]any, len(values))
			for i, v := range values {
				enc, err := codec.Encode(v)
				if err != nil {
					return "", err
				}
				arr[i] = enc
			}
			out[key] = arr
			continue
		}
		if len(values) > 1 {
			return "", types.ValidationError.New("field %q repeats but is single-valued", key)
		}
		enc, err := codec.Encode(values[0])
		if err != nil {
			return "", err
		}
		out[key] = enc
	}
	out[jsonx.AttrClass] = o.Class()

	raw, err := json.Marshal(out)
	if err != nil {
		return "", jsonx.Error.Wrap(err)
	}
	return string(raw), nil
}

// DecodeRecord parses the persisted record body of object id back into a
// data catalog. Object references inside the record come back as registry
// instances; fields declared multiple by the object's category are split
// into one catalog entry per element.
func DecodeRecord(ctx context.Context, codec *jsonx.Codec, id int64, raw string, loader Loader) (*catalog.Catalog, error) {
	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, jsonx.Error.Wrap(err)
	}

	class := DefaultClass
	if v, ok := state[jsonx.AttrClass].(string); ok && v != "" {
		class = v
	}
	delete(state, jsonx.AttrClass)

	decoded := make(map[string]any, len(state))
	for key, v := range state {
		dec, err := codec.Decode(v)
		if err != nil {
			return nil, err
		}
		decoded[key] = dec
	}

	schema, err := recordSchema(ctx, id, decoded, loader)
	if err != nil {
		return nil, err
	}

	c := catalog.New()
	appendField := func(key string, value any) error {
		t, err := schema.TypeOf(key)
		if err != nil {
			return err
		}
		if t.Options().Multiple {
			values, ok := value.([]any)
			if !ok {
				return types.ValidationError.New("field %q is multiple but not a list", key)
			}
			for _, v := range values {
				if err := c.Insert("", -1, key, v); err != nil {
					return err
				}
			}
			return nil
		}
		return c.Insert("", -1, key, value)
	}

	if class != DefaultClass {
		if err := c.Insert("", -1, KeyClass, class); err != nil {
			return nil, err
		}
	}
	for _, key := range []string{KeyCategory, KeyPrototype, KeyVersion, KeySeal} {
		if v, ok := decoded[key]; ok {
			if err := appendField(key, v); err != nil {
				return nil, err
			}
			delete(decoded, key)
		}
	}
	rest := make([]string, 0, len(decoded))
	for key := range decoded {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	for _, key := range rest {
		if err := appendField(key, decoded[key]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// recordSchema resolves the schema used to split plural fields of a
// freshly decoded record, before the object around it exists. The root
// category describes itself; its self-reference decodes against the base
// slots alone so the load never recurses into its own in-flight entry.
func recordSchema(ctx context.Context, id int64, decoded map[string]any, loader Loader) (*types.Schema, error) {
	schema := baseSchema()
	refs, _ := decoded[KeyCategory].([]any)
	if len(refs) > 1 {
		return nil, types.ValidationError.New("record declares %d categories; multiple categories are unsupported", len(refs))
	}
	for _, v := range refs {
		ref, ok := v.(types.Referable)
		if !ok {
			return nil, types.ValidationError.New("malformed category reference %T", v)
		}
		if ref.ID() == id {
			continue
		}
		if loader == nil {
			return nil, ErrNotLoaded.New("no loader to resolve category [%d]", ref.ID())
		}
		cat, err := loader.GetLoaded(ctx, ref.ID())
		if err != nil {
			return nil, err
		}
		member, err := cat.memberSchema(ctx)
		if err != nil {
			return nil, err
		}
		schema = member.Merge(schema)
	}
	return schema, nil
}
