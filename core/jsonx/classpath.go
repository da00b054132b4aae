package jsonx

import (
	"errors"
	"reflect"
	"time"

	"github.com/asaidimu/go-schemat/core/catalog"
)

// Class is a first-class reference to a registered class, encodable as a
// value of its own.
type Class struct {
	Name string
}

// ClassSpec describes how instances of one registered class are captured
// and restored. GetState extracts a plain state; New + SetState rebuild an
// instance from it. A map state without the reserved attribute is inlined
// into the encoded object, any other state is wrapped under "=".
type ClassSpec struct {
	Name     string
	Type     reflect.Type
	GetState func(obj any) (any, error)
	SetState func(state any) (any, error)
}

// Classpath maps dotted class names to constructors and back. It must be
// populated before any decode runs; the zero value is usable and already
// carries the built-in container classes.
type Classpath struct {
	byName map[string]ClassSpec
	byType map[reflect.Type]ClassSpec
}

// NewClasspath returns a class registry preloaded with the built-in
// classes: catalogs, timestamps, plain errors, schemas and their field
// types.
func NewClasspath() *Classpath {
	cp := &Classpath{
		byName: map[string]ClassSpec{},
		byType: map[reflect.Type]ClassSpec{},
	}
	cp.registerBuiltins()
	cp.registerTypeClasses()
	return cp
}

// Register adds a class under its dotted path name.
func (cp *Classpath) Register(spec ClassSpec) {
	cp.byName[spec.Name] = spec
	if spec.Type != nil {
		cp.byType[spec.Type] = spec
	}
}

// ByName resolves a dotted class name.
func (cp *Classpath) ByName(name string) (ClassSpec, bool) {
	spec, ok := cp.byName[name]
	return spec, ok
}

// ByValue resolves the registered class of a value, if any.
func (cp *Classpath) ByValue(v any) (ClassSpec, bool) {
	spec, ok := cp.byType[reflect.TypeOf(v)]
	return spec, ok
}

func (cp *Classpath) registerBuiltins() {
	cp.Register(ClassSpec{
		Name: "catalog.Catalog",
		Type: reflect.TypeOf(&catalog.Catalog{}),
		GetState: func(obj any) (any, error) {
			c := obj.(*catalog.Catalog)
			state := make([]any, 0, c.Len())
			for _, e := range c.Entries() {
				state = append(state, []any{e.Key, e.Value})
			}
			return state, nil
		},
		SetState: func(state any) (any, error) {
			return catalog.Load(state)
		},
	})
	cp.Register(ClassSpec{
		Name: "time.Time",
		Type: reflect.TypeOf(time.Time{}),
		GetState: func(obj any) (any, error) {
			return obj.(time.Time).UTC().Format(time.RFC3339Nano), nil
		},
		SetState: func(state any) (any, error) {
			s, ok := state.(string)
			if !ok {
				return nil, Error.New("malformed timestamp state: %v", state)
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			return t.UTC(), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "errors.Error",
		Type: nil, // matched structurally during encode
		GetState: func(obj any) (any, error) {
			return obj.(error).Error(), nil
		},
		SetState: func(state any) (any, error) {
			s, ok := state.(string)
			if !ok {
				return nil, Error.New("malformed error state: %v", state)
			}
			return errors.New(s), nil
		},
	})
}
