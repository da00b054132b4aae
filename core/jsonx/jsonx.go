// Package jsonx implements the reversible encoding of arbitrary object
// graphs to pure JSON. Values that plain JSON cannot express are wrapped
// in objects carrying a reserved class attribute "@"; object references
// collapse to their integer ids and are re-resolved through the registry
// on decode.
package jsonx

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"reflect"

	"github.com/asaidimu/go-schemat/core/types"
	"github.com/zeebo/errs"
)

// Error wraps all failures reported by this package.
var Error = errs.Class("jsonx")

const (
	// AttrClass is the reserved class-tag attribute.
	AttrClass = "@"
	// AttrState carries the state of wrapped values.
	AttrState = "="

	// Flags stored under AttrClass for values needing special handling.
	// The "%" prefix keeps them out of the dotted classpath namespace.
	FlagWrap   = "%obj"
	FlagBin    = "%bin"
	FlagBigInt = "%bigint"
	FlagClass  = "%class"
)

// Resolver turns integer class tags back into objects during decode:
// positive ids resolve through the registry, negative ids through the
// transaction's provisional-newborn table.
type Resolver interface {
	ResolveRef(id int64) (any, error)
}

// Codec encodes and decodes values. The classpath must be fully populated
// before the first decode; the resolver may be nil for data that contains
// no object references.
type Codec struct {
	classes  *Classpath
	resolver Resolver
}

func NewCodec(classes *Classpath, resolver Resolver) *Codec {
	if classes == nil {
		classes = NewClasspath()
	}
	return &Codec{classes: classes, resolver: resolver}
}

// Classes exposes the codec's class registry.
func (c *Codec) Classes() *Classpath { return c.classes }

// Encode converts a value into a plain JSON-safe state. Cyclic graphs are
// rejected.
func (c *Codec) Encode(value any) (any, error) {
	return c.encode(value, map[uintptr]bool{})
}

// EncodeString is Encode followed by JSON serialization.
func (c *Codec) EncodeString(value any) (string, error) {
	state, err := c.Encode(value)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return string(raw), nil
}

// tracked returns the pointer identity of container values that can form
// cycles, or 0 for everything else.
func tracked(value any) uintptr {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		return v.Pointer()
	}
	return 0
}

func (c *Codec) encode(value any, encoding map[uintptr]bool) (any, error) {
	if ptr := tracked(value); ptr != 0 {
		if encoding[ptr] {
			return nil, Error.New("cannot encode a cyclic object graph")
		}
		encoding[ptr] = true
		defer delete(encoding, ptr)
	}

	switch v := value.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64, uint, uint32, uint64:
		return v, nil

	case []byte:
		return map[string]any{AttrState: hex.EncodeToString(v), AttrClass: FlagBin}, nil

	case *big.Int:
		return map[string]any{AttrState: v.String(), AttrClass: FlagBigInt}, nil

	case Class:
		return map[string]any{AttrState: v.Name, AttrClass: FlagClass}, nil

	case types.Referable:
		return map[string]any{AttrClass: v.ID()}, nil

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			enc, err := c.encode(item, encoding)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil

	case map[string]any:
		inner := make(map[string]any, len(v))
		for k, item := range v {
			enc, err := c.encode(item, encoding)
			if err != nil {
				return nil, err
			}
			inner[k] = enc
		}
		if _, collides := v[AttrClass]; collides {
			return map[string]any{AttrState: inner, AttrClass: FlagWrap}, nil
		}
		return inner, nil
	}

	if spec, ok := c.classes.ByValue(value); ok {
		return c.encodeInstance(spec, value, encoding)
	}
	if err, ok := value.(error); ok {
		spec, _ := c.classes.ByName("errors.Error")
		return c.encodeInstance(spec, err, encoding)
	}
	return nil, Error.New("cannot encode value of type %T", value)
}

func (c *Codec) encodeInstance(spec ClassSpec, value any, encoding map[uintptr]bool) (any, error) {
	state, err := spec.GetState(value)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	state, err = c.encode(state, encoding)
	if err != nil {
		return nil, err
	}
	// Map states without the reserved attribute inline their fields;
	// everything else is wrapped under the state attribute.
	if fields, ok := state.(map[string]any); ok {
		if _, collides := fields[AttrClass]; !collides {
			out := make(map[string]any, len(fields)+1)
			for k, v := range fields {
				out[k] = v
			}
			out[AttrClass] = spec.Name
			return out, nil
		}
	}
	return map[string]any{AttrState: state, AttrClass: spec.Name}, nil
}

// Decode is the strict inverse of Encode.
func (c *Codec) Decode(state any) (any, error) {
	switch v := state.(type) {
	case nil, bool, string, float64, int, int64:
		return v, nil

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			dec, err := c.Decode(item)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil

	case map[string]any:
		tag, tagged := v[AttrClass]
		if !tagged {
			out := make(map[string]any, len(v))
			for k, item := range v {
				dec, err := c.Decode(item)
				if err != nil {
					return nil, err
				}
				out[k] = dec
			}
			return out, nil
		}
		return c.decodeTagged(tag, v)
	}
	return nil, Error.New("cannot decode state of type %T", state)
}

// DecodeString parses a JSON document and decodes it.
func (c *Codec) DecodeString(raw string) (any, error) {
	var state any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, Error.Wrap(err)
	}
	return c.Decode(state)
}

func (c *Codec) decodeTagged(tag any, v map[string]any) (any, error) {
	// Integer tags are object references.
	if id, ok := toID(tag); ok {
		if c.resolver == nil {
			return nil, Error.New("no resolver for object reference %d", id)
		}
		obj, err := c.resolver.ResolveRef(id)
		if err != nil {
			return nil, err
		}
		return obj, nil
	}

	name, ok := tag.(string)
	if !ok {
		return nil, Error.New("malformed class tag %v", tag)
	}

	switch name {
	case FlagWrap:
		inner, ok := v[AttrState].(map[string]any)
		if !ok {
			return nil, Error.New("malformed wrapped object")
		}
		return c.Decode(inner)

	case FlagBin:
		s, ok := v[AttrState].(string)
		if !ok {
			return nil, Error.New("malformed binary state")
		}
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return raw, nil

	case FlagBigInt:
		s, ok := v[AttrState].(string)
		if !ok {
			return nil, Error.New("malformed bigint state")
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, Error.New("malformed bigint %q", s)
		}
		return n, nil

	case FlagClass:
		s, ok := v[AttrState].(string)
		if !ok {
			return nil, Error.New("malformed class value")
		}
		if _, known := c.classes.ByName(s); !known {
			return nil, Error.New("unknown class %q", s)
		}
		return Class{Name: s}, nil
	}

	spec, known := c.classes.ByName(name)
	if !known {
		return nil, Error.New("unknown class %q", name)
	}

	var state any
	if wrapped, hasState := v[AttrState]; hasState && len(v) == 2 {
		decoded, err := c.Decode(wrapped)
		if err != nil {
			return nil, err
		}
		state = decoded
	} else {
		fields := make(map[string]any, len(v)-1)
		for k, item := range v {
			if k == AttrClass {
				continue
			}
			dec, err := c.Decode(item)
			if err != nil {
				return nil, err
			}
			fields[k] = dec
		}
		state = fields
	}
	out, err := spec.SetState(state)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return out, nil
}

func toID(tag any) (int64, bool) {
	switch n := tag.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
