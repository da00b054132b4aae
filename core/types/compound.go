package types

import (
	"github.com/asaidimu/go-schemat/core/bincode"
	"github.com/asaidimu/go-schemat/core/catalog"
)

// Referable is any value carrying a web object identity. Provisional
// (newborn) objects report a negative id.
type Referable interface {
	ID() int64
}

// Ref is a typed reference to another web object. Strong references keep
// the target alive through garbage collection of the store; Autoload makes
// the loader fetch the target eagerly together with the referrer.
type Ref struct {
	base
	Strong   bool
	Autoload bool
}

func NewRef(opts ...Option) Ref {
	return Ref{base: base{buildOptions(defaultOptions(), opts)}}
}

func (t Ref) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	if _, ok := value.(Referable); !ok {
		return nil, ValidationError.New("expected an object reference, got %T", value)
	}
	return value, nil
}

func (t Ref) WriteBinary(value any) ([]byte, error) {
	ref, ok := value.(Referable)
	if !ok {
		return nil, ValidationError.New("expected an object reference, got %T", value)
	}
	id := ref.ID()
	if id <= 0 {
		return nil, ValidationError.New("cannot encode a provisional reference (id %d)", id)
	}
	return bincode.EncodeUintAdaptive(uint64(id)), nil
}

// ReadBinary returns the referenced id; resolving it back to an instance
// is the loader's business.
func (t Ref) ReadBinary(buf []byte) (any, []byte, error) {
	v, ok, rest, err := bincode.DecodeUintAdaptive(buf)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, rest, nil
	}
	return int64(v), rest, nil
}

// Array is a homogeneous ordered list. Inherited arrays concatenate.
type Array struct {
	base
	Item Type
}

func NewArray(item Type, opts ...Option) Array {
	return Array{base: base{buildOptions(defaultOptions(), opts)}, Item: item}
}

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case nil:
		return nil, false
	}
	return nil, false
}

func (t Array) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	items, ok := asList(value)
	if !ok {
		return nil, ValidationError.New("expected a list, got %T", value)
	}
	out := make([]any, len(items))
	for i, item := range items {
		v, err := t.Item.Validate(item)
		if err != nil {
			return nil, ValidationError.New("element %d: %v", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (t Array) MergeInherited(values []any, obj any) (any, error) {
	var out []any
	for _, v := range values {
		items, ok := asList(v)
		if !ok {
			return nil, ValidationError.New("cannot merge non-list value %T", v)
		}
		out = append(out, items...)
	}
	return out, nil
}

// Set is an unordered collection with unique items; duplicates are dropped
// keeping the first occurrence. Inherited sets take the union with
// youngest values first.
type Set struct {
	base
	Item Type
}

func NewSet(item Type, opts ...Option) Set {
	return Set{base: base{buildOptions(defaultOptions(), opts)}, Item: item}
}

func dedupe(items []any) []any {
	seen := map[any]bool{}
	out := make([]any, 0, len(items))
	for _, item := range items {
		key := item
		if !hashable(key) {
			out = append(out, item)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func hashable(v any) bool {
	switch v.(type) {
	case []any, map[string]any, *catalog.Catalog, []byte:
		return false
	}
	return true
}

func (t Set) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	items, ok := asList(value)
	if !ok {
		return nil, ValidationError.New("expected a list, got %T", value)
	}
	out := make([]any, 0, len(items))
	for i, item := range items {
		v, err := t.Item.Validate(item)
		if err != nil {
			return nil, ValidationError.New("element %d: %v", i, err)
		}
		out = append(out, v)
	}
	return dedupe(out), nil
}

func (t Set) MergeInherited(values []any, obj any) (any, error) {
	var all []any
	for _, v := range values {
		items, ok := asList(v)
		if !ok {
			return nil, ValidationError.New("cannot merge non-list value %T", v)
		}
		all = append(all, items...)
	}
	return dedupe(all), nil
}

// ObjectMap is a plain string-keyed object (POJO). Inherited maps merge
// with youngest values overriding older ones.
type ObjectMap struct {
	base
	Value Type // optional per-value type
}

func NewObject(opts ...Option) ObjectMap {
	return ObjectMap{base: base{buildOptions(defaultOptions(), opts)}}
}

func NewMap(value Type, opts ...Option) ObjectMap {
	return ObjectMap{base: base{buildOptions(defaultOptions(), opts)}, Value: value}
}

func (t ObjectMap) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, ValidationError.New("expected a map, got %T", value)
	}
	if t.Value == nil {
		return m, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		vv, err := t.Value.Validate(v)
		if err != nil {
			return nil, ValidationError.New("key %q: %v", k, err)
		}
		out[k] = vv
	}
	return out, nil
}

func (t ObjectMap) MergeInherited(values []any, obj any) (any, error) {
	out := map[string]any{}
	// Oldest first so that younger entries override.
	for i := len(values) - 1; i >= 0; i-- {
		m, ok := values[i].(map[string]any)
		if !ok {
			return nil, ValidationError.New("cannot merge non-map value %T", values[i])
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}

// CatalogOf validates nested catalogs. Inherited catalogs merge entry-wise:
// entries of older ancestors are appended for keys the younger ones do not
// carry.
type CatalogOf struct {
	base
	Value Type // optional per-entry type
}

func NewCatalog(opts ...Option) CatalogOf {
	return CatalogOf{base: base{buildOptions(defaultOptions(), opts)}}
}

func (t CatalogOf) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	c, ok := value.(*catalog.Catalog)
	if !ok {
		return nil, ValidationError.New("expected a catalog, got %T", value)
	}
	if t.Value == nil {
		return c, nil
	}
	for _, e := range c.Entries() {
		if _, err := t.Value.Validate(e.Value); err != nil {
			return nil, ValidationError.New("entry %q: %v", e.Key, err)
		}
	}
	return c, nil
}

func (t CatalogOf) MergeInherited(values []any, obj any) (any, error) {
	merged := catalog.New()
	seen := map[string]bool{}
	for _, v := range values {
		c, ok := v.(*catalog.Catalog)
		if !ok {
			return nil, ValidationError.New("cannot merge non-catalog value %T", v)
		}
		for _, e := range c.Entries() {
			if e.Key != "" && seen[e.Key] {
				continue
			}
			seen[e.Key] = true
			if err := merged.Insert("", -1, e.Key, e.Value); err != nil {
				return nil, err
			}
		}
	}
	return merged, nil
}

// Record validates a string-keyed structure against per-field types. A
// strict record rejects undeclared fields; an open one passes them
// through.
type Record struct {
	base
	Fields map[string]Type
	Strict bool
}

func NewRecord(fields map[string]Type, strict bool, opts ...Option) Record {
	return Record{base: base{buildOptions(defaultOptions(), opts)}, Fields: fields, Strict: strict}
}

func (t Record) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, ValidationError.New("expected a record, got %T", value)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		ft, declared := t.Fields[k]
		if !declared {
			if t.Strict {
				return nil, ValidationError.New("undeclared field %q", k)
			}
			out[k] = v
			continue
		}
		vv, err := ft.Validate(v)
		if err != nil {
			return nil, ValidationError.New("field %q: %v", k, err)
		}
		// Blank values are dropped from the record unless required.
		if DropBlank(ft, vv) {
			continue
		}
		out[k] = vv
	}
	for k, ft := range t.Fields {
		if _, present := out[k]; present {
			continue
		}
		opts := ft.Options()
		if opts.HasDefault {
			out[k] = opts.Default
			continue
		}
		if opts.Required {
			return nil, ValidationError.New("missing required field %q", k)
		}
	}
	return out, nil
}

// Variant is a tagged union: a single-entry map whose key selects one of
// the declared cases.
type Variant struct {
	base
	Cases map[string]Type
}

func NewVariant(cases map[string]Type, opts ...Option) Variant {
	return Variant{base: base{buildOptions(defaultOptions(), opts)}, Cases: cases}
}

func (t Variant) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	m, ok := value.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, ValidationError.New("expected a single-case tagged value, got %v", value)
	}
	for tag, inner := range m {
		ct, declared := t.Cases[tag]
		if !declared {
			return nil, ValidationError.New("unknown variant case %q", tag)
		}
		vv, err := ct.Validate(inner)
		if err != nil {
			return nil, ValidationError.New("case %q: %v", tag, err)
		}
		return map[string]any{tag: vv}, nil
	}
	return nil, ValidationError.New("empty variant")
}

// TypeWrapper is the TYPE type: a field whose values are themselves Type
// objects. When two inherited values belong to the same record family
// their field maps merge, which is how subcategories refine their parents'
// schemas.
type TypeWrapper struct{ base }

func NewTypeWrapper(opts ...Option) TypeWrapper {
	return TypeWrapper{base{buildOptions(defaultOptions(), opts)}}
}

func (t TypeWrapper) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	if _, ok := value.(Type); !ok {
		return nil, ValidationError.New("expected a type, got %T", value)
	}
	return value, nil
}

func (t TypeWrapper) MergeInherited(values []any, obj any) (any, error) {
	if len(values) == 0 {
		return nil, ValidationError.New("nothing to merge")
	}
	youngest, ok := values[0].(Type)
	if !ok {
		return nil, ValidationError.New("cannot merge non-type value %T", values[0])
	}
	young, isRecord := youngest.(Record)
	if !isRecord {
		return youngest, nil
	}
	merged := map[string]Type{}
	for i := len(values) - 1; i >= 0; i-- {
		rec, ok := values[i].(Record)
		if !ok {
			// A non-record ancestor breaks the refinement chain.
			return youngest, nil
		}
		for k, ft := range rec.Fields {
			merged[k] = ft
		}
	}
	return NewRecord(merged, young.Strict), nil
}
