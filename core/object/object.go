// Package object implements the web object: a persisted entity with an
// integer id, an ordered catalog of properties, schema-driven field
// computation over its prototype chain and categories, and a lifecycle
// running from stub through loaded to mutable twin.
package object

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"

	"github.com/asaidimu/go-schemat/core/catalog"
)

var (
	// ErrNotLoaded reports property access on a stub whose data has not
	// been fetched yet. Recoverable by loading the object first.
	ErrNotLoaded = errs.Class("not loaded")
	// ErrImmutable reports a write against an object that is neither a
	// newborn nor a mutable twin.
	ErrImmutable = errs.Class("immutable")
)

// Reserved property keys. Double-underscore keys are identity and
// metadata slots read directly from the catalog, never through the
// schema.
const (
	KeyCategory  = "__category"
	KeyPrototype = "__prototype"
	KeyVersion   = "__ver"
	KeySeal      = "__seal"
	KeyClass     = "__class"

	// Meta fields of category objects, read along the category's own
	// prototype chain.
	KeySchema       = "schema"
	KeyDefaults     = "defaults"
	KeyCacheTimeout = "cache_timeout"

	// DefaultClass is the classpath of objects that declare none.
	DefaultClass = "schemat.Object"
)

// Status is the lifecycle state of an object.
type Status int

const (
	// Stub has an id but no data.
	Stub Status = iota
	// Loading has its record fetch in flight.
	Loading
	// Newborn has data but only a provisional negative id.
	Newborn
	// Loaded has data, a resolved class and an eviction deadline.
	Loaded
	// Mutable is a loaded object cloned for editing; never cached.
	Mutable
)

func (s Status) String() string {
	switch s {
	case Stub:
		return "stub"
	case Loading:
		return "loading"
	case Newborn:
		return "newborn"
	case Loaded:
		return "loaded"
	case Mutable:
		return "mutable"
	}
	return "unknown"
}

// GetterFunc computes a registered class getter against an object.
type GetterFunc func(ctx context.Context, obj *WebObject) (any, error)

// Loader resolves object references during field computation and record
// decoding. The registry is the canonical implementation.
type Loader interface {
	// GetObject returns the cached instance for the id, or a fresh stub
	// registered immediately.
	GetObject(id int64) (*WebObject, error)
	// GetLoaded returns a loaded instance, awaiting an in-flight load.
	GetLoaded(ctx context.Context, id int64) (*WebObject, error)
	// Getter resolves a registered class getter by classpath and name.
	Getter(class string, name string) (GetterFunc, bool)
}

// cached is one slot of the per-object field cache. Undefined marks a
// field already computed to have no value, as distinct from a missing
// slot.
type cached struct {
	undefined bool
	values    []any
}

// WebObject is one web object instance. Loaded instances shared through
// the registry are immutable from the caller's perspective; all mutation
// happens on an explicit mutable twin.
type WebObject struct {
	id     int64
	loader Loader

	mu       sync.Mutex
	status   Status
	data     *catalog.Catalog
	loadedAt time.Time
	lin      []*WebObject
	cache    map[string]cached
	edits    []catalog.Edit
	base     *WebObject
}

// NewStub creates an unloaded reference to a persisted object.
func NewStub(id int64, loader Loader) *WebObject {
	return &WebObject{id: id, loader: loader, status: Stub}
}

// NewNewborn creates a staged object with a provisional negative id.
func NewNewborn(provisionalID int64, data *catalog.Catalog, loader Loader) *WebObject {
	if data == nil {
		data = catalog.New()
	}
	return &WebObject{id: provisionalID, loader: loader, status: Newborn, data: data}
}

// ID returns the object's id: positive for persisted objects, negative
// for provisional newborns.
func (o *WebObject) ID() int64 { return o.id }

func (o *WebObject) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// LoadedAt returns the time the current data snapshot was installed.
func (o *WebObject) LoadedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadedAt
}

// Data returns the backing catalog. Callers must treat it as read-only
// unless the object is a newborn or a mutable twin.
func (o *WebObject) Data() *catalog.Catalog {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.data
}

// Base returns the loaded original of a mutable twin, or nil.
func (o *WebObject) Base() *WebObject {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.base
}

// BeginLoad transitions a stub to the loading state. It reports false
// when the object already has data or a load is already in flight.
func (o *WebObject) BeginLoad() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != Stub {
		return false
	}
	o.status = Loading
	return true
}

// SetLoaded installs a fetched data snapshot and marks the object
// loaded.
func (o *WebObject) SetLoaded(data *catalog.Catalog, loadedAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = data
	o.loadedAt = loadedAt
	o.status = Loaded
	o.lin = nil
	o.cache = nil
}

// ClearData reverts a failed or evicted object to a stub so a later
// load can retry.
func (o *WebObject) ClearData() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = nil
	o.status = Stub
	o.lin = nil
	o.cache = nil
	o.edits = nil
}

// AssignID gives a committed newborn its real id and marks it loaded.
func (o *WebObject) AssignID(id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != Newborn {
		return ErrImmutable.New("cannot assign an id to a %s object", o.status)
	}
	if id <= 0 {
		return ErrImmutable.New("invalid id %d", id)
	}
	o.id = id
	o.status = Loaded
	o.edits = nil
	return nil
}

// Mutate returns the mutable twin of a loaded object: a clone carrying a
// deep copy of the data catalog and an empty edit log. Twins are never
// cached by the registry.
func (o *WebObject) Mutate() (*WebObject, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != Loaded {
		return nil, ErrNotLoaded.New("cannot mutate a %s object [%d]", o.status, o.id)
	}
	return &WebObject{
		id:       o.id,
		loader:   o.loader,
		status:   Mutable,
		data:     o.data.Clone(),
		loadedAt: o.loadedAt,
		base:     o,
	}, nil
}

// requireData guards every property access that consults the schema.
func (o *WebObject) requireData() (*catalog.Catalog, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.data == nil {
		return nil, ErrNotLoaded.New("object [%d]", o.id)
	}
	return o.data, nil
}

// Version returns the persisted version counter, zero when absent.
func (o *WebObject) Version() int64 {
	data, err := o.requireData()
	if err != nil {
		return 0
	}
	v, _ := data.Get(KeyVersion)
	n, _ := asInt(v)
	return n
}

// Class returns the object's dotted classpath.
func (o *WebObject) Class() string {
	data, err := o.requireData()
	if err != nil {
		return DefaultClass
	}
	if v, ok := data.Get(KeyClass); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return DefaultClass
}

// Seal returns the persisted seal string, empty when absent.
func (o *WebObject) Seal() string {
	data, err := o.requireData()
	if err != nil {
		return ""
	}
	if v, ok := data.Get(KeySeal); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
