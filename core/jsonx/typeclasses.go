package jsonx

import (
	"reflect"
	"regexp"

	"github.com/asaidimu/go-schemat/core/types"
)

// registerTypeClasses adds the type-system classes, making schemas and
// their field types persistable inside records: each family encodes as
// its parameters plus the non-default options, and a schema as its
// ordered field list. Function-valued imputations cannot travel; a
// persisted type must use a method name instead.
func (cp *Classpath) registerTypeClasses() {
	cp.Register(ClassSpec{
		Name: "types.Schema",
		Type: reflect.TypeOf(&types.Schema{}),
		GetState: func(obj any) (any, error) {
			s := obj.(*types.Schema)
			fields := make([]any, 0, len(s.Names()))
			for _, name := range s.Names() {
				t, _ := s.Field(name)
				fields = append(fields, []any{name, t})
			}
			return map[string]any{"strict": s.Strict, "fields": fields}, nil
		},
		SetState: func(state any) (any, error) {
			m, ok := state.(map[string]any)
			if !ok {
				return nil, Error.New("malformed schema state: %T", state)
			}
			strict, _ := m["strict"].(bool)
			s := types.NewSchema(strict)
			pairs, _ := m["fields"].([]any)
			for _, raw := range pairs {
				pair, ok := raw.([]any)
				if !ok || len(pair) != 2 {
					return nil, Error.New("malformed schema field entry: %v", raw)
				}
				name, nameOK := pair[0].(string)
				t, typeOK := pair[1].(types.Type)
				if !nameOK || !typeOK {
					return nil, Error.New("malformed schema field %v", pair[0])
				}
				s.SetField(name, t)
			}
			return s, nil
		},
	})

	cp.registerTypeFamilies()
}

// withOptions attaches the non-default options of a type to its encoded
// parameters.
func withOptions(params map[string]any, o types.Options) (map[string]any, error) {
	if o.Impute != nil {
		return nil, Error.New("a function-valued imputation cannot be persisted")
	}
	if params == nil {
		params = map[string]any{}
	}
	opts := map[string]any{}
	if o.Required {
		opts["required"] = true
	}
	if o.Multiple {
		opts["multiple"] = true
	}
	if o.Mergeable {
		opts["mergeable"] = true
	}
	if !o.Inherited {
		opts["inherited"] = false
	}
	if o.HasDefault {
		opts["default"] = o.Default
	}
	if o.ImputeMethod != "" {
		opts["impute"] = o.ImputeMethod
	}
	if o.Getter != "" {
		opts["getter"] = o.Getter
	}
	if o.Alias != "" {
		opts["alias"] = o.Alias
	}
	if o.Virtual {
		opts["virtual"] = true
	}
	if o.Immutable {
		opts["immutable"] = true
	}
	if !o.Editable {
		opts["editable"] = false
	}
	if !o.NotNull {
		opts["not_null"] = false
	}
	if !o.NotBlank {
		opts["not_blank"] = false
	}
	if len(opts) > 0 {
		params["options"] = opts
	}
	return params, nil
}

// typeParams splits an encoded type back into its parameter map and the
// option setters.
func typeParams(state any) (map[string]any, []types.Option, error) {
	m, ok := state.(map[string]any)
	if !ok {
		return nil, nil, Error.New("malformed type state: %T", state)
	}
	raw, _ := m["options"].(map[string]any)
	var opts []types.Option
	for key, v := range raw {
		switch key {
		case "required":
			opts = append(opts, types.Required())
		case "multiple":
			opts = append(opts, types.Multiple())
		case "mergeable":
			opts = append(opts, types.Mergeable())
		case "inherited":
			opts = append(opts, types.NotInherited())
		case "default":
			opts = append(opts, types.Default(v))
		case "impute":
			if s, ok := v.(string); ok {
				opts = append(opts, types.ImputeMethod(s))
			}
		case "getter":
			if s, ok := v.(string); ok {
				opts = append(opts, types.Getter(s))
			}
		case "alias":
			if s, ok := v.(string); ok {
				opts = append(opts, types.Alias(s))
			}
		case "virtual":
			opts = append(opts, types.Virtual())
		case "immutable":
			opts = append(opts, types.Immutable())
		case "editable":
			opts = append(opts, types.NotEditable())
		case "not_null":
			opts = append(opts, types.Nullable())
		case "not_blank":
			opts = append(opts, types.BlankAllowed())
		default:
			return nil, nil, Error.New("unknown type option %q", key)
		}
	}
	return m, opts, nil
}

func intParam(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func itemParam(m map[string]any, key string) (types.Type, bool) {
	t, ok := m[key].(types.Type)
	return t, ok
}

func (cp *Classpath) registerTypeFamilies() {
	cp.Register(ClassSpec{
		Name: "types.Any",
		Type: reflect.TypeOf(types.Any{}),
		GetState: func(obj any) (any, error) {
			return withOptions(nil, obj.(types.Any).Options())
		},
		SetState: func(state any) (any, error) {
			_, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			return types.NewAny(opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Boolean",
		Type: reflect.TypeOf(types.Boolean{}),
		GetState: func(obj any) (any, error) {
			return withOptions(nil, obj.(types.Boolean).Options())
		},
		SetState: func(state any) (any, error) {
			_, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			return types.NewBoolean(opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Number",
		Type: reflect.TypeOf(types.Number{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.Number)
			params := map[string]any{}
			if t.Min != nil {
				params["min"] = *t.Min
			}
			if t.Max != nil {
				params["max"] = *t.Max
			}
			return withOptions(params, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			t := types.NewNumber(opts...)
			if v, ok := m["min"].(float64); ok {
				t.Min = &v
			}
			if v, ok := m["max"].(float64); ok {
				t.Max = &v
			}
			return t, nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Integer",
		Type: reflect.TypeOf(types.Integer{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.Integer)
			params := map[string]any{}
			if !t.Signed {
				params["unsigned"] = true
			}
			if t.Length > 0 {
				params["length"] = t.Length
			}
			return withOptions(params, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			var t types.Integer
			if unsigned, _ := m["unsigned"].(bool); unsigned {
				t = types.NewUnsigned(opts...)
			} else {
				t = types.NewInteger(opts...)
			}
			t.Length = intParam(m, "length")
			return t, nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.String",
		Type: reflect.TypeOf(types.String{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.String)
			params := map[string]any{}
			if t.MinLength > 0 {
				params["min_length"] = t.MinLength
			}
			if t.MaxLength > 0 {
				params["max_length"] = t.MaxLength
			}
			if t.Pattern != nil {
				params["pattern"] = t.Pattern.String()
			}
			return withOptions(params, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			t := types.NewString(opts...)
			t.MinLength = intParam(m, "min_length")
			t.MaxLength = intParam(m, "max_length")
			if p, ok := m["pattern"].(string); ok {
				re, err := regexp.Compile(p)
				if err != nil {
					return nil, Error.Wrap(err)
				}
				t.Pattern = re
			}
			return t, nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.DateTime",
		Type: reflect.TypeOf(types.DateTime{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.DateTime)
			params := map[string]any{}
			if t.DateOnly {
				params["date_only"] = true
			}
			return withOptions(params, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			if dateOnly, _ := m["date_only"].(bool); dateOnly {
				return types.NewDate(opts...), nil
			}
			return types.NewDateTime(opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Binary",
		Type: reflect.TypeOf(types.Binary{}),
		GetState: func(obj any) (any, error) {
			return withOptions(nil, obj.(types.Binary).Options())
		},
		SetState: func(state any) (any, error) {
			_, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			return types.NewBinary(opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Ref",
		Type: reflect.TypeOf(types.Ref{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.Ref)
			params := map[string]any{}
			if t.Strong {
				params["strong"] = true
			}
			if t.Autoload {
				params["autoload"] = true
			}
			return withOptions(params, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			t := types.NewRef(opts...)
			t.Strong, _ = m["strong"].(bool)
			t.Autoload, _ = m["autoload"].(bool)
			return t, nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Enum",
		Type: reflect.TypeOf(types.Enum{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.Enum)
			return withOptions(map[string]any{"values": t.Values}, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			values, _ := m["values"].([]any)
			return types.NewEnum(values, opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Array",
		Type: reflect.TypeOf(types.Array{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.Array)
			return withOptions(map[string]any{"item": t.Item}, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			item, ok := itemParam(m, "item")
			if !ok {
				return nil, Error.New("array type without an item type")
			}
			return types.NewArray(item, opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Set",
		Type: reflect.TypeOf(types.Set{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.Set)
			return withOptions(map[string]any{"item": t.Item}, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			item, ok := itemParam(m, "item")
			if !ok {
				return nil, Error.New("set type without an item type")
			}
			return types.NewSet(item, opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Object",
		Type: reflect.TypeOf(types.ObjectMap{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.ObjectMap)
			params := map[string]any{}
			if t.Value != nil {
				params["value"] = t.Value
			}
			return withOptions(params, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			if value, ok := itemParam(m, "value"); ok {
				return types.NewMap(value, opts...), nil
			}
			return types.NewObject(opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Catalog",
		Type: reflect.TypeOf(types.CatalogOf{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.CatalogOf)
			params := map[string]any{}
			if t.Value != nil {
				params["value"] = t.Value
			}
			return withOptions(params, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			t := types.NewCatalog(opts...)
			if value, ok := itemParam(m, "value"); ok {
				t.Value = value
			}
			return t, nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Record",
		Type: reflect.TypeOf(types.Record{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.Record)
			fields := map[string]any{}
			for name, ft := range t.Fields {
				fields[name] = ft
			}
			return withOptions(map[string]any{"fields": fields, "strict": t.Strict}, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			raw, _ := m["fields"].(map[string]any)
			fields := make(map[string]types.Type, len(raw))
			for name, v := range raw {
				ft, ok := v.(types.Type)
				if !ok {
					return nil, Error.New("record field %q is not a type", name)
				}
				fields[name] = ft
			}
			strict, _ := m["strict"].(bool)
			return types.NewRecord(fields, strict, opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Variant",
		Type: reflect.TypeOf(types.Variant{}),
		GetState: func(obj any) (any, error) {
			t := obj.(types.Variant)
			cases := map[string]any{}
			for tag, ct := range t.Cases {
				cases[tag] = ct
			}
			return withOptions(map[string]any{"cases": cases}, t.Options())
		},
		SetState: func(state any) (any, error) {
			m, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			raw, _ := m["cases"].(map[string]any)
			cases := make(map[string]types.Type, len(raw))
			for tag, v := range raw {
				ct, ok := v.(types.Type)
				if !ok {
					return nil, Error.New("variant case %q is not a type", tag)
				}
				cases[tag] = ct
			}
			return types.NewVariant(cases, opts...), nil
		},
	})
	cp.Register(ClassSpec{
		Name: "types.Type",
		Type: reflect.TypeOf(types.TypeWrapper{}),
		GetState: func(obj any) (any, error) {
			return withOptions(nil, obj.(types.TypeWrapper).Options())
		},
		SetState: func(state any) (any, error) {
			_, opts, err := typeParams(state)
			if err != nil {
				return nil, err
			}
			return types.NewTypeWrapper(opts...), nil
		},
	})
}
