package types

// Options is the merged option record of a type instance. Every family
// ships its own defaults; instance overrides are applied on top through
// the functional Option setters, so a constructed Type always carries the
// full, merged record.
type Options struct {
	// Required keeps blank values in the record instead of dropping them,
	// and makes validation fail when no value can be computed.
	Required bool
	// Multiple allows repeated entries of the field; inherited streams are
	// concatenated instead of shadowed.
	Multiple bool
	// Mergeable asks for a type-specific merge of inherited values instead
	// of picking the youngest one.
	Mergeable bool
	// Inherited controls whether prototype values contribute at all.
	Inherited bool
	// Default is the static fallback used when nothing else produced a
	// value; HasDefault tells it apart from an explicit nil.
	Default    any
	HasDefault bool
	// Impute computes a fallback from the owning object. ImputeMethod
	// names an imputation method on the object instead.
	Impute       func(obj any) (any, error)
	ImputeMethod string
	// Getter names a registered class getter that supersedes schema
	// computation for this field.
	Getter string
	// Alias redirects reads of this field to another one.
	Alias string
	// Virtual fields are computed only and never persisted.
	Virtual bool
	// Immutable forbids edits after the object is first saved; Editable
	// marks the field as safe for generic edit UIs.
	Immutable bool
	Editable  bool
	// NotNull and NotBlank reject nil and blank values during validation.
	// Both default to true in every family.
	NotNull  bool
	NotBlank bool
}

func defaultOptions() Options {
	return Options{
		Inherited: true,
		Editable:  true,
		NotNull:   true,
		NotBlank:  true,
	}
}

// Option mutates an option record during construction.
type Option func(*Options)

func Required() Option        { return func(o *Options) { o.Required = true } }
func Multiple() Option        { return func(o *Options) { o.Multiple = true } }
func Mergeable() Option       { return func(o *Options) { o.Mergeable = true } }
func NotInherited() Option    { return func(o *Options) { o.Inherited = false } }
func Nullable() Option        { return func(o *Options) { o.NotNull = false } }
func BlankAllowed() Option    { return func(o *Options) { o.NotBlank = false } }
func Virtual() Option         { return func(o *Options) { o.Virtual = true } }
func Immutable() Option       { return func(o *Options) { o.Immutable = true } }
func NotEditable() Option     { return func(o *Options) { o.Editable = false } }
func Alias(field string) Option { return func(o *Options) { o.Alias = field } }
func Getter(name string) Option { return func(o *Options) { o.Getter = name } }

// Default installs a static fallback value.
func Default(v any) Option {
	return func(o *Options) {
		o.Default = v
		o.HasDefault = true
	}
}

// Impute installs an imputation function run against the owning object.
func Impute(fn func(obj any) (any, error)) Option {
	return func(o *Options) { o.Impute = fn }
}

// ImputeMethod names an imputation method resolved on the owning object.
func ImputeMethod(name string) Option {
	return func(o *Options) { o.ImputeMethod = name }
}

func buildOptions(defaults Options, opts []Option) Options {
	for _, opt := range opts {
		opt(&defaults)
	}
	return defaults
}

// IsBlank reports whether a value counts as blank: empty string, empty
// collection or empty catalog. Blank values are removed from records after
// validation unless the field is required.
func IsBlank(v any) bool {
	switch x := v.(type) {
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case []byte:
		return len(x) == 0
	case interface{ Len() int }:
		return x.Len() == 0
	}
	return false
}
