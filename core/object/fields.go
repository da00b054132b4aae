package object

import (
	"context"
	"fmt"
	"strings"

	"github.com/asaidimu/go-schemat/core/catalog"
	"github.com/asaidimu/go-schemat/core/types"
)

// baseSchema declares the reserved metadata slots every object carries.
// Category schemas are merged on top of it.
func baseSchema() *types.Schema {
	s := types.NewSchema(false)
	s.SetField(KeyCategory, types.NewRef(types.Multiple(), types.NotInherited()))
	s.SetField(KeyPrototype, types.NewRef(types.Multiple(), types.NotInherited()))
	s.SetField(KeyVersion, types.NewInteger(types.NotInherited()))
	s.SetField(KeySeal, types.NewString(types.NotInherited()))
	s.SetField(KeyClass, types.NewString())
	return s
}

// refTarget resolves a catalog value holding an object reference into
// its instance, loading it when needed.
func (o *WebObject) refTarget(ctx context.Context, v any) (*WebObject, error) {
	ref, ok := v.(types.Referable)
	if !ok {
		return nil, types.ValidationError.New("expected an object reference, got %T", v)
	}
	if obj, ok := ref.(*WebObject); ok && obj.Status() != Stub {
		return obj, nil
	}
	if o.loader == nil {
		return nil, ErrNotLoaded.New("no loader to resolve reference [%d]", ref.ID())
	}
	return o.loader.GetLoaded(ctx, ref.ID())
}

// prototypes returns the loaded direct prototypes of the object.
func (o *WebObject) prototypes(ctx context.Context) ([]*WebObject, error) {
	data, err := o.requireData()
	if err != nil {
		return nil, err
	}
	refs := data.GetAll(KeyPrototype)
	protos := make([]*WebObject, 0, len(refs))
	for _, v := range refs {
		p, err := o.refTarget(ctx, v)
		if err != nil {
			return nil, err
		}
		protos = append(protos, p)
	}
	return protos, nil
}

// linearization returns the C3 linearization of the prototype chain,
// the object itself first. The result is cached after the first
// computation.
func (o *WebObject) linearization(ctx context.Context) ([]*WebObject, error) {
	return o.linearized(ctx, map[*WebObject]bool{})
}

// linearized serves the cached linearization, computing it on first use.
// seen holds the objects on the current recursion path so a cyclic
// prototype chain fails instead of recursing without bound.
func (o *WebObject) linearized(ctx context.Context, seen map[*WebObject]bool) ([]*WebObject, error) {
	o.mu.Lock()
	if o.lin != nil {
		lin := o.lin
		o.mu.Unlock()
		return lin, nil
	}
	o.mu.Unlock()

	if seen[o] {
		return nil, types.ValidationError.New("prototype cycle through object [%d]", o.id)
	}
	seen[o] = true
	defer delete(seen, o)

	lin, err := linearize(ctx, o, seen)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.lin = lin
	o.mu.Unlock()
	return lin, nil
}

func linearize(ctx context.Context, o *WebObject, seen map[*WebObject]bool) ([]*WebObject, error) {
	protos, err := o.prototypes(ctx)
	if err != nil {
		return nil, err
	}
	if len(protos) == 0 {
		return []*WebObject{o}, nil
	}
	seqs := make([][]*WebObject, 0, len(protos)+1)
	for _, p := range protos {
		plin, err := p.linearized(ctx, seen)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, plin)
	}
	seqs = append(seqs, protos)
	merged, err := c3Merge(seqs)
	if err != nil {
		return nil, types.ValidationError.New("inconsistent prototype hierarchy of object [%d]: %v", o.id, err)
	}
	return append([]*WebObject{o}, merged...), nil
}

// c3Merge implements the C3 merge step: repeatedly take the head of the
// first sequence whose head appears in no other sequence's tail.
func c3Merge(seqs [][]*WebObject) ([]*WebObject, error) {
	var out []*WebObject
	for {
		seqs = dropEmpty(seqs)
		if len(seqs) == 0 {
			return out, nil
		}
		var head *WebObject
		for _, seq := range seqs {
			candidate := seq[0]
			if inAnyTail(candidate, seqs) {
				continue
			}
			head = candidate
			break
		}
		if head == nil {
			return nil, fmt.Errorf("no consistent linearization")
		}
		out = append(out, head)
		for i, seq := range seqs {
			if len(seq) > 0 && seq[0] == head {
				seqs[i] = seq[1:]
			}
		}
	}
}

func dropEmpty(seqs [][]*WebObject) [][]*WebObject {
	out := seqs[:0]
	for _, seq := range seqs {
		if len(seq) > 0 {
			out = append(out, seq)
		}
	}
	return out
}

func inAnyTail(o *WebObject, seqs [][]*WebObject) bool {
	for _, seq := range seqs {
		for _, item := range seq[1:] {
			if item == o {
				return true
			}
		}
	}
	return false
}

// categories returns the loaded categories of the object. Multi-category
// objects are unsupported until the schema-merge rule is settled.
func (o *WebObject) categories(ctx context.Context) ([]*WebObject, error) {
	data, err := o.requireData()
	if err != nil {
		return nil, err
	}
	refs := data.GetAll(KeyCategory)
	if len(refs) > 1 {
		return nil, types.ValidationError.New("object [%d] declares %d categories; multiple categories are unsupported", o.id, len(refs))
	}
	cats := make([]*WebObject, 0, len(refs))
	for _, v := range refs {
		c, err := o.refTarget(ctx, v)
		if err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, nil
}

// memberSchema returns the schema a category imposes on its members,
// merged along the category's own prototype chain. Meta fields of
// categories are read directly from the data catalog, which cuts the
// regress at the root category describing itself.
func (o *WebObject) memberSchema(ctx context.Context) (*types.Schema, error) {
	lin, err := o.linearization(ctx)
	if err != nil {
		return nil, err
	}
	var merged *types.Schema
	for _, anc := range lin {
		data, err := anc.requireData()
		if err != nil {
			return nil, err
		}
		v, ok := data.Get(KeySchema)
		if !ok {
			continue
		}
		s, ok := v.(*types.Schema)
		if !ok {
			return nil, types.ValidationError.New("category [%d] carries a malformed schema (%T)", anc.id, v)
		}
		if merged == nil {
			merged = s
		} else {
			merged = merged.Merge(s)
		}
	}
	if merged == nil {
		merged = types.NewSchema(false)
	}
	return merged, nil
}

// Schema resolves the effective schema of the object: the category's
// member schema over the reserved base slots.
func (o *WebObject) Schema(ctx context.Context) (*types.Schema, error) {
	cats, err := o.categories(ctx)
	if err != nil {
		return nil, err
	}
	schema := baseSchema()
	for _, cat := range cats {
		member, err := cat.memberSchema(ctx)
		if err != nil {
			return nil, err
		}
		schema = member.Merge(schema)
	}
	return schema, nil
}

// defaultStreams collects the per-field default catalogs declared by the
// object's categories along their prototype chains.
func (o *WebObject) defaultStreams(ctx context.Context, name string) ([][]any, error) {
	cats, err := o.categories(ctx)
	if err != nil {
		return nil, err
	}
	var streams [][]any
	for _, cat := range cats {
		lin, err := cat.linearization(ctx)
		if err != nil {
			return nil, err
		}
		for _, anc := range lin {
			data, err := anc.requireData()
			if err != nil {
				return nil, err
			}
			v, ok := data.Get(KeyDefaults)
			if !ok {
				continue
			}
			defaults, ok := v.(*catalog.Catalog)
			if !ok {
				continue
			}
			if values := defaults.GetAll(name); len(values) > 0 {
				streams = append(streams, values)
			}
		}
	}
	return streams, nil
}

// GetFieldAll computes every value of a field: own entries, then each
// linearized prototype's entries, then category defaults, combined by
// the field's type. Results are cached per object, with a dedicated
// sentinel for fields computed to have no value.
func (o *WebObject) GetFieldAll(ctx context.Context, name string) ([]any, error) {
	if strings.HasPrefix(name, "__") {
		return nil, types.ValidationError.New("reserved slot %q has a dedicated accessor", name)
	}
	if _, err := o.requireData(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if slot, ok := o.cache[name]; ok {
		o.mu.Unlock()
		if slot.undefined {
			return nil, nil
		}
		return slot.values, nil
	}
	o.mu.Unlock()

	values, err := o.computeField(ctx, name, map[string]bool{})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.cache == nil {
		o.cache = map[string]cached{}
	}
	o.cache[name] = cached{undefined: values == nil, values: values}
	o.mu.Unlock()
	return values, nil
}

// GetField returns the first value of a field, or nil when the field
// computes to no value.
func (o *WebObject) GetField(ctx context.Context, name string) (any, error) {
	values, err := o.GetFieldAll(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

func (o *WebObject) computeField(ctx context.Context, name string, seen map[string]bool) ([]any, error) {
	if seen[name] {
		return nil, types.ValidationError.New("alias cycle through field %q", name)
	}
	seen[name] = true

	schema, err := o.Schema(ctx)
	if err != nil {
		return nil, err
	}
	t, err := schema.TypeOf(name)
	if err != nil {
		return nil, err
	}
	opts := t.Options()

	if opts.Alias != "" {
		return o.computeField(ctx, opts.Alias, seen)
	}
	if opts.Getter != "" && o.loader != nil {
		if fn, ok := o.loader.Getter(o.Class(), opts.Getter); ok {
			v, err := fn(ctx, o)
			if err != nil {
				return nil, err
			}
			if v == nil {
				return nil, nil
			}
			return []any{v}, nil
		}
	}

	lin, err := o.linearization(ctx)
	if err != nil {
		return nil, err
	}
	var streams [][]any
	for _, anc := range lin {
		data, err := anc.requireData()
		if err != nil {
			return nil, err
		}
		streams = append(streams, data.GetAll(name))
	}
	defaults, err := o.defaultStreams(ctx, name)
	if err != nil {
		return nil, err
	}
	streams = append(streams, defaults...)

	return types.CombineInherited(t, streams, o)
}

// ImputeField lets impute-by-method type options resolve against the
// owning object through its registered class getters.
func (o *WebObject) ImputeField(method string) (any, error) {
	if o.loader != nil {
		if fn, ok := o.loader.Getter(o.Class(), method); ok {
			return fn(context.Background(), o)
		}
	}
	return nil, types.ValidationError.New("object [%d] cannot impute %q", o.id, method)
}

// CacheTimeout returns the TTL in seconds imposed by the object's
// category, or -1 when no category declares one.
func (o *WebObject) CacheTimeout(ctx context.Context) (float64, error) {
	cats, err := o.categories(ctx)
	if err != nil {
		return -1, err
	}
	for _, cat := range cats {
		lin, err := cat.linearization(ctx)
		if err != nil {
			return -1, err
		}
		for _, anc := range lin {
			data, err := anc.requireData()
			if err != nil {
				return -1, err
			}
			if v, ok := data.Get(KeyCacheTimeout); ok {
				switch n := v.(type) {
				case float64:
					return n, nil
				case int64:
					return float64(n), nil
				case int:
					return float64(n), nil
				}
			}
		}
	}
	return -1, nil
}

// ComputeSeal derives the seal string of the object: the versions of its
// prototypes and categories, in declaration order, joined with dots. The
// empty dependency list seals as ".".
func (o *WebObject) ComputeSeal(ctx context.Context) (string, error) {
	data, err := o.requireData()
	if err != nil {
		return "", err
	}
	var parts []string
	for _, key := range []string{KeyPrototype, KeyCategory} {
		for _, v := range data.GetAll(key) {
			dep, err := o.refTarget(ctx, v)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%d", dep.Version()))
		}
	}
	if len(parts) == 0 {
		return ".", nil
	}
	return strings.Join(parts, "."), nil
}
