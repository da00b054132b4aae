// Package types implements the declarative schema system: value objects
// describing atomic and compound field types, with validation, merging of
// inherited values, imputation and binary key encoding.
package types

import (
	"github.com/zeebo/errs"
)

// ValidationError wraps every schema violation reported by Validate.
var ValidationError = errs.Class("validation")

// ErrNotKeyType is returned by WriteBinary/ReadBinary on types that cannot
// participate in index keys.
var ErrNotKeyType = errs.Class("not a key type")

// Type is a value object describing one field of a schema. Implementations
// are immutable after construction; the same Type may be shared between
// schemas and goroutines.
type Type interface {
	// Options returns the merged option record.
	Options() Options

	// Validate canonicalizes the value or fails with a ValidationError.
	// Validation is idempotent: Validate(Validate(v)) == Validate(v).
	Validate(value any) (any, error)

	// MergeInherited performs the type-specific merge of values collected
	// youngest-first from the inheritance chain. The default picks the
	// youngest.
	MergeInherited(values []any, obj any) (any, error)

	// WriteBinary appends the order-preserving key encoding of the value.
	// ReadBinary is its inverse, returning the unread remainder.
	WriteBinary(value any) ([]byte, error)
	ReadBinary(b []byte) (any, []byte, error)
}

// MethodImputer is implemented by objects that resolve named imputation
// methods declared through ImputeMethod.
type MethodImputer interface {
	ImputeField(method string) (any, error)
}

// base carries the option record and the default behaviors shared by all
// families.
type base struct {
	opts Options
}

func (b base) Options() Options { return b.opts }

func (b base) MergeInherited(values []any, obj any) (any, error) {
	if len(values) == 0 {
		return nil, ValidationError.New("nothing to merge")
	}
	return values[0], nil
}

func (b base) WriteBinary(value any) ([]byte, error) {
	return nil, ErrNotKeyType.New("binary encoding unsupported")
}

func (b base) ReadBinary(buf []byte) (any, []byte, error) {
	return nil, nil, ErrNotKeyType.New("binary decoding unsupported")
}

// checkNull applies the not_null policy; the boolean result is true when
// the (nil) value was accepted and validation should short-circuit.
func (b base) checkNull(value any) (bool, error) {
	if value != nil {
		return false, nil
	}
	if b.opts.NotNull {
		return false, ValidationError.New("null value not allowed")
	}
	return true, nil
}

// DropBlank reports whether a validated value should be removed from the
// record: blank, with not_blank in force and the field not required.
func DropBlank(t Type, value any) bool {
	opts := t.Options()
	return opts.NotBlank && !opts.Required && IsBlank(value)
}

// Imputed computes the fallback value of t for obj: the impute function if
// set, otherwise the named imputation method, otherwise the static
// default. The boolean result is false when no fallback exists.
func Imputed(t Type, obj any) (any, bool, error) {
	opts := t.Options()
	switch {
	case opts.Impute != nil:
		v, err := opts.Impute(obj)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	case opts.ImputeMethod != "":
		imputer, ok := obj.(MethodImputer)
		if !ok {
			return nil, false, ValidationError.New("object cannot impute method %q", opts.ImputeMethod)
		}
		v, err := imputer.ImputeField(opts.ImputeMethod)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	case opts.HasDefault:
		return opts.Default, true, nil
	}
	return nil, false, nil
}

// CombineInherited merges per-ancestor value arrays into the final value
// list of a field. The streams are ordered youngest first: the object's
// own entries, then each prototype's resolved values, then category
// defaults. With multiple=true the streams are concatenated; otherwise the
// youngest value wins, merged type-specifically when mergeable=true. When
// no candidate exists the imputation chain runs.
func CombineInherited(t Type, streams [][]any, obj any) ([]any, error) {
	opts := t.Options()

	if !opts.Inherited && len(streams) > 0 {
		streams = streams[:1]
	}

	if opts.Multiple {
		var out []any
		for _, stream := range streams {
			out = append(out, stream...)
		}
		return out, nil
	}

	if len(streams) > 0 && len(streams[0]) > 1 {
		return nil, ValidationError.New("duplicate value for single-valued field")
	}

	var candidates []any
	for _, stream := range streams {
		candidates = append(candidates, stream...)
	}

	if len(candidates) == 0 {
		v, ok, err := Imputed(t, obj)
		if err != nil {
			return nil, err
		}
		if !ok || v == nil {
			return nil, nil
		}
		return []any{v}, nil
	}

	if opts.Mergeable {
		merged, err := t.MergeInherited(candidates, obj)
		if err != nil {
			return nil, err
		}
		return []any{merged}, nil
	}
	return candidates[:1], nil
}
