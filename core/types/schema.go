package types

// Any is the permissive generic type used as the fallback for fields that
// no category declares. It accepts every value unchanged.
type Any struct{ base }

func NewAny(opts ...Option) Any {
	o := defaultOptions()
	o.NotNull = false
	o.NotBlank = false
	return Any{base{buildOptions(o, opts)}}
}

func (t Any) Validate(value any) (any, error) { return value, nil }

// Schema maps field names to their types. A strict schema rejects
// undeclared fields; a non-strict one resolves them to the generic type.
type Schema struct {
	fields map[string]Type
	order  []string
	Strict bool
}

// NewSchema builds a schema from name/type pairs in declaration order.
func NewSchema(strict bool) *Schema {
	return &Schema{fields: map[string]Type{}, Strict: strict}
}

// SetField declares or replaces a field. Declaration order is preserved
// for iteration.
func (s *Schema) SetField(name string, t Type) *Schema {
	if _, exists := s.fields[name]; !exists {
		s.order = append(s.order, name)
	}
	s.fields[name] = t
	return s
}

// Field returns the declared type of a field, without fallback.
func (s *Schema) Field(name string) (Type, bool) {
	t, ok := s.fields[name]
	return t, ok
}

// TypeOf resolves a field name to its type. Undeclared names fall back to
// the generic type on non-strict schemas and fail on strict ones.
func (s *Schema) TypeOf(name string) (Type, error) {
	if t, ok := s.fields[name]; ok {
		return t, nil
	}
	if s.Strict {
		return nil, ValidationError.New("undeclared field %q", name)
	}
	return NewAny(), nil
}

// Names returns the declared field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Merge returns a new schema combining s with an older one; fields of s
// shadow same-named fields of older, older-only fields are appended.
func (s *Schema) Merge(older *Schema) *Schema {
	out := NewSchema(s.Strict)
	for _, name := range s.order {
		out.SetField(name, s.fields[name])
	}
	if older != nil {
		for _, name := range older.order {
			if _, ok := out.fields[name]; !ok {
				out.SetField(name, older.fields[name])
			}
		}
	}
	return out
}
