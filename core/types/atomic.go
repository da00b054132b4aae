package types

import (
	"regexp"
	"time"

	"github.com/asaidimu/go-schemat/core/bincode"
)

// Boolean accepts true/false.
type Boolean struct{ base }

func NewBoolean(opts ...Option) Boolean {
	return Boolean{base{buildOptions(defaultOptions(), opts)}}
}

func (t Boolean) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	v, ok := value.(bool)
	if !ok {
		return nil, ValidationError.New("expected a boolean, got %T", value)
	}
	return v, nil
}

// Number accepts any float, canonicalized to float64, with optional
// inclusive bounds.
type Number struct {
	base
	Min *float64
	Max *float64
}

func NewNumber(opts ...Option) Number {
	return Number{base: base{buildOptions(defaultOptions(), opts)}}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func (t Number) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	v, ok := toNumber(value)
	if !ok {
		return nil, ValidationError.New("expected a number, got %T", value)
	}
	if t.Min != nil && v < *t.Min {
		return nil, ValidationError.New("value %v below minimum %v", v, *t.Min)
	}
	if t.Max != nil && v > *t.Max {
		return nil, ValidationError.New("value %v above maximum %v", v, *t.Max)
	}
	return v, nil
}

// Integer accepts whole numbers, canonicalized to int64. Length selects a
// fixed binary width of 1-8 bytes; zero means the adaptive encoding.
type Integer struct {
	base
	Signed bool
	Length int
}

func NewInteger(opts ...Option) Integer {
	return Integer{base: base{buildOptions(defaultOptions(), opts)}, Signed: true}
}

func NewUnsigned(opts ...Option) Integer {
	return Integer{base: base{buildOptions(defaultOptions(), opts)}}
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func (t Integer) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	v, ok := toInt(value)
	if !ok {
		return nil, ValidationError.New("expected an integer, got %v (%T)", value, value)
	}
	if !t.Signed && v < 0 {
		return nil, ValidationError.New("expected an unsigned integer, got %d", v)
	}
	return v, nil
}

func (t Integer) WriteBinary(value any) ([]byte, error) {
	v, ok := toInt(value)
	if !ok {
		return nil, ValidationError.New("expected an integer, got %T", value)
	}
	switch {
	case t.Length == 0 && t.Signed:
		return bincode.EncodeIntAdaptive(v), nil
	case t.Length == 0:
		return bincode.EncodeUintAdaptive(uint64(v)), nil
	case t.Signed:
		return bincode.EncodeInt(v, t.Length, !t.opts.NotNull)
	default:
		return bincode.EncodeUint(uint64(v), t.Length)
	}
}

func (t Integer) ReadBinary(buf []byte) (any, []byte, error) {
	switch {
	case t.Length == 0 && t.Signed:
		return bincode.DecodeIntAdaptive(buf)
	case t.Length == 0:
		v, ok, rest, err := bincode.DecodeUintAdaptive(buf)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, rest, nil
		}
		return int64(v), rest, nil
	case t.Signed:
		if len(buf) < t.Length {
			return nil, nil, ValidationError.New("truncated key")
		}
		v, ok, err := bincode.DecodeInt(buf[:t.Length], !t.opts.NotNull)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, buf[t.Length:], nil
		}
		return v, buf[t.Length:], nil
	default:
		if len(buf) < t.Length {
			return nil, nil, ValidationError.New("truncated key")
		}
		v, err := bincode.DecodeUint(buf[:t.Length])
		if err != nil {
			return nil, nil, err
		}
		return int64(v), buf[t.Length:], nil
	}
}

// String accepts text with optional length bounds and a restricted rune
// set.
type String struct {
	base
	MinLength int
	MaxLength int
	Pattern   *regexp.Regexp
}

func NewString(opts ...Option) String {
	return String{base: base{buildOptions(defaultOptions(), opts)}}
}

func (t String) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	v, ok := value.(string)
	if !ok {
		return nil, ValidationError.New("expected a string, got %T", value)
	}
	if t.MinLength > 0 && len(v) < t.MinLength {
		return nil, ValidationError.New("string shorter than %d", t.MinLength)
	}
	if t.MaxLength > 0 && len(v) > t.MaxLength {
		return nil, ValidationError.New("string longer than %d", t.MaxLength)
	}
	if t.Pattern != nil && !t.Pattern.MatchString(v) {
		return nil, ValidationError.New("string %q does not match %s", v, t.Pattern)
	}
	return v, nil
}

// WriteBinary escapes zero bytes (0x00 -> 0x00 0xFF) and terminates with a
// single 0x00, preserving lexicographic order in composite keys.
func (t String) WriteBinary(value any) ([]byte, error) {
	v, ok := value.(string)
	if !ok {
		return nil, ValidationError.New("expected a string, got %T", value)
	}
	out := make([]byte, 0, len(v)+1)
	for i := 0; i < len(v); i++ {
		if v[i] == 0x00 {
			out = append(out, 0x00, 0xFF)
			continue
		}
		out = append(out, v[i])
	}
	return append(out, 0x00), nil
}

func (t String) ReadBinary(buf []byte) (any, []byte, error) {
	var out []byte
	for i := 0; i < len(buf); i++ {
		if buf[i] != 0x00 {
			out = append(out, buf[i])
			continue
		}
		if i+1 < len(buf) && buf[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		return string(out), buf[i+1:], nil
	}
	return nil, nil, ValidationError.New("unterminated string key")
}

var (
	fieldPattern      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]*$`)
	urlPattern        = regexp.MustCompile(`^(https?://[^\s]+|/[^\s]*)$`)
)

// NewFieldName builds the FIELD type: identifier-safe schema field names.
func NewFieldName(opts ...Option) String {
	t := NewString(opts...)
	t.MaxLength = 100
	t.Pattern = fieldPattern
	return t
}

// NewIdentifier builds the IDENTIFIER type: dotted, dash-allowing names.
func NewIdentifier(opts ...Option) String {
	t := NewString(opts...)
	t.MaxLength = 255
	t.Pattern = identifierPattern
	return t
}

// NewURL builds the URL type: absolute http(s) URLs or site-rooted paths.
func NewURL(opts ...Option) String {
	t := NewString(opts...)
	t.Pattern = urlPattern
	return t
}

// NewText builds the TEXT type: unbounded prose.
func NewText(opts ...Option) String { return NewString(opts...) }

// NewCode builds the CODE type: source text, blank allowed.
func NewCode(opts ...Option) String {
	return NewString(append([]Option{BlankAllowed()}, opts...)...)
}

// DateTime accepts time.Time values or RFC 3339 strings, canonicalized to
// UTC time.Time. DateOnly restricts the string form to a calendar date.
type DateTime struct {
	base
	DateOnly bool
}

func NewDateTime(opts ...Option) DateTime {
	return DateTime{base: base{buildOptions(defaultOptions(), opts)}}
}

func NewDate(opts ...Option) DateTime {
	return DateTime{base: base{buildOptions(defaultOptions(), opts)}, DateOnly: true}
}

func (t DateTime) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		layout := time.RFC3339
		if t.DateOnly {
			layout = time.DateOnly
		}
		parsed, err := time.Parse(layout, v)
		if err != nil {
			return nil, ValidationError.Wrap(err)
		}
		return parsed.UTC(), nil
	}
	return nil, ValidationError.New("expected a timestamp, got %T", value)
}

// Binary accepts raw byte strings.
type Binary struct{ base }

func NewBinary(opts ...Option) Binary {
	return Binary{base{buildOptions(defaultOptions(), opts)}}
}

func (t Binary) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	v, ok := value.([]byte)
	if !ok {
		return nil, ValidationError.New("expected bytes, got %T", value)
	}
	return v, nil
}

// Enum accepts one of a fixed set of values.
type Enum struct {
	base
	Values []any
}

func NewEnum(values []any, opts ...Option) Enum {
	return Enum{base: base{buildOptions(defaultOptions(), opts)}, Values: values}
}

func (t Enum) Validate(value any) (any, error) {
	if done, err := t.checkNull(value); done || err != nil {
		return nil, err
	}
	for _, allowed := range t.Values {
		if value == allowed {
			return value, nil
		}
	}
	return nil, ValidationError.New("value %v not in enum", value)
}
