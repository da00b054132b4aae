// Package registry implements the process-wide object cache and loader:
// one newest instance per id, TTL-based lazy eviction, deduplication of
// concurrent loads and version tracking for seal-validated dependency
// resolution.
package registry

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/asaidimu/go-schemat/core/catalog"
	"github.com/asaidimu/go-schemat/core/jsonx"
	"github.com/asaidimu/go-schemat/core/object"
	"github.com/asaidimu/go-schemat/core/store"
)

// SealError reports a seal string whose pinned dependency versions
// cannot be materialized, as distinct from a plain not-found.
var SealError = errs.Class("seal")

// entry is one cache slot. A zero expireAt means the object never
// expires; an expireAt equal to loadedAt (TTL 0) expires on the next
// observation, which is how bootstrap records stay uncached.
type entry struct {
	obj      *object.WebObject
	loadedAt time.Time
	expireAt time.Time
}

// inflight tracks one pending load shared by all concurrent callers.
type inflight struct {
	done chan struct{}
	obj  *object.WebObject
	err  error
}

// Options configures a registry.
type Options struct {
	// DefaultTTL applies when neither the category nor the source ring
	// imposes a cache timeout.
	DefaultTTL time.Duration
	Logger     *zap.Logger
	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Registry is the single point of identity resolution for web objects.
// It implements both the object loader and the jsonx reference resolver.
type Registry struct {
	store      *store.Store
	codec      *jsonx.Codec
	logger     *zap.Logger
	defaultTTL time.Duration
	clock      func() time.Time

	mu          sync.Mutex
	cache       map[int64]*entry
	pending     map[int64]*inflight
	versions    map[int64]map[int64]*object.WebObject
	provisional map[int64]*object.WebObject
	getters     map[string]object.GetterFunc

	events *eventHub
}

var (
	_ object.Loader  = (*Registry)(nil)
	_ jsonx.Resolver = (*Registry)(nil)
)

func New(st *store.Store, classes *jsonx.Classpath, opts *Options) (*Registry, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := opts.DefaultTTL
	if ttl == 0 {
		ttl = time.Minute
	}
	hub, err := newEventHub()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		store:       st,
		logger:      logger,
		defaultTTL:  ttl,
		clock:       clock,
		cache:       map[int64]*entry{},
		pending:     map[int64]*inflight{},
		versions:    map[int64]map[int64]*object.WebObject{},
		provisional: map[int64]*object.WebObject{},
		getters:     map[string]object.GetterFunc{},
		events:      hub,
	}
	r.codec = jsonx.NewCodec(classes, r)
	return r, nil
}

// Codec returns the JSONx codec bound to this registry.
func (r *Registry) Codec() *jsonx.Codec { return r.codec }

// Store returns the backing ring stack.
func (r *Registry) Store() *store.Store { return r.store }

// ResolveRef implements the jsonx resolver: positive ids resolve to
// cached instances or fresh stubs, negative ids to staged newborns.
func (r *Registry) ResolveRef(id int64) (any, error) {
	if id < 0 {
		r.mu.Lock()
		obj, ok := r.provisional[id]
		r.mu.Unlock()
		if !ok {
			return nil, store.ErrObjectNotFound.New("provisional object [%d]", id)
		}
		return obj, nil
	}
	return r.GetObject(id)
}

// GetObject returns the cached instance for the id, or a fresh stub
// registered immediately. Expired entries are evicted on observation.
func (r *Registry) GetObject(id int64) (*object.WebObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getObjectLocked(id), nil
}

func (r *Registry) getObjectLocked(id int64) *object.WebObject {
	if e, ok := r.cache[id]; ok {
		if r.expired(e) {
			r.evictLocked(id, e)
		} else {
			return e.obj
		}
	}
	obj := object.NewStub(id, r)
	r.cache[id] = &entry{obj: obj}
	return obj
}

func (r *Registry) expired(e *entry) bool {
	if e.expireAt.IsZero() || e.loadedAt.IsZero() {
		return false
	}
	return !r.clock().Before(e.expireAt)
}

func (r *Registry) evictLocked(id int64, e *entry) {
	delete(r.cache, id)
	e.obj.ClearData()
	r.events.emit(RuntimeEvent{Type: ObjectEvicted, ObjectID: id, Timestamp: r.clock()})
	r.logger.Debug("evicted object", zap.Int64("id", id))
}

// GetLoaded returns a loaded instance for the id, joining an in-flight
// load when one exists.
func (r *Registry) GetLoaded(ctx context.Context, id int64) (*object.WebObject, error) {
	if id < 0 {
		r.mu.Lock()
		obj, ok := r.provisional[id]
		r.mu.Unlock()
		if !ok {
			return nil, store.ErrObjectNotFound.New("provisional object [%d]", id)
		}
		return obj, nil
	}

	r.mu.Lock()
	if e, ok := r.cache[id]; ok && e.obj.Status() == object.Loaded && !e.loadedAt.IsZero() {
		if r.expired(e) {
			r.evictLocked(id, e)
		} else {
			obj := e.obj
			r.mu.Unlock()
			return obj, nil
		}
	}
	if fl, ok := r.pending[id]; ok {
		r.mu.Unlock()
		select {
		case <-fl.done:
			if fl.err != nil {
				return nil, fl.err
			}
			return fl.obj, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	r.pending[id] = fl
	obj := r.getObjectLocked(id)
	r.mu.Unlock()

	loaded, err := r.load(ctx, obj)

	r.mu.Lock()
	delete(r.pending, id)
	fl.obj, fl.err = loaded, err
	close(fl.done)
	r.mu.Unlock()
	return loaded, err
}

// load fetches and decodes the record into obj, schedules its eviction
// and validates its seal when present. On any failure the object's data
// is cleared so a later load can retry.
func (r *Registry) load(ctx context.Context, obj *object.WebObject) (*object.WebObject, error) {
	id := obj.ID()
	obj.BeginLoad()

	raw, ring, err := r.store.Select(ctx, id)
	if err != nil {
		obj.ClearData()
		return nil, err
	}
	data, err := object.DecodeRecord(ctx, r.codec, id, raw, r)
	if err != nil {
		obj.ClearData()
		return nil, err
	}

	loadedAt := r.clock()
	obj.SetLoaded(data, loadedAt)

	if seal := obj.Seal(); seal != "" {
		if err := r.ValidateSeal(ctx, obj); err != nil {
			obj.ClearData()
			return nil, err
		}
	}

	expireAt := loadedAt.Add(r.ttlOf(ctx, obj, ring))
	r.mu.Lock()
	r.cache[id] = &entry{obj: obj, loadedAt: loadedAt, expireAt: expireAt}
	r.mu.Unlock()

	r.events.emit(RuntimeEvent{Type: ObjectLoaded, ObjectID: id, Timestamp: loadedAt})
	r.logger.Debug("loaded object", zap.Int64("id", id), zap.String("ring", ring.Name()))
	return obj, nil
}

// ttlOf imputes the cache TTL: the category's cache_timeout when
// declared, zero for bootstrap rings, the registry default otherwise.
func (r *Registry) ttlOf(ctx context.Context, obj *object.WebObject, ring store.Ring) time.Duration {
	seconds, err := obj.CacheTimeout(ctx)
	if err != nil {
		r.logger.Warn("cache timeout imputation failed", zap.Int64("id", obj.ID()), zap.Error(err))
	} else if seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if ring != nil && ring.Bootstrap() {
		return 0
	}
	return r.defaultTTL
}

// Reload forces a re-fetch of the record and atomically replaces the
// cached instance. Mutable twins created from the old instance are not
// affected.
func (r *Registry) Reload(ctx context.Context, id int64) (*object.WebObject, error) {
	obj := object.NewStub(id, r)
	loaded, err := r.load(ctx, obj)
	if err != nil {
		return nil, err
	}
	r.events.emit(RuntimeEvent{Type: ObjectReloaded, ObjectID: id, Timestamp: r.clock()})
	return loaded, nil
}

// Refresh returns the newest cached instance for the object's id and,
// when the cached record has expired, schedules an asynchronous reload.
// It never blocks.
func (r *Registry) Refresh(obj *object.WebObject) *object.WebObject {
	id := obj.ID()
	newest := obj
	r.mu.Lock()
	e, ok := r.cache[id]
	if ok && e.obj.Status() == object.Loaded && e.loadedAt.After(obj.LoadedAt()) {
		newest = e.obj
	}
	stale := ok && r.expired(e)
	r.mu.Unlock()

	if stale {
		go func() {
			if _, err := r.Reload(context.Background(), id); err != nil {
				r.logger.Warn("background reload failed", zap.Int64("id", id), zap.Error(err))
			}
		}()
	}
	return newest
}

// RegisterVersion keeps the given instance addressable by its exact
// version for seal resolution.
func (r *Registry) RegisterVersion(obj *object.WebObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ver := obj.ID(), obj.Version()
	if r.versions[id] == nil {
		r.versions[id] = map[int64]*object.WebObject{}
	}
	r.versions[id][ver] = obj
}

// Version returns the instance registered for an exact (id, version)
// pair.
func (r *Registry) Version(id int64, ver int64) (*object.WebObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.versions[id][ver]
	return obj, ok
}

// ValidateSeal checks that every dependency version pinned by the
// object's seal can be materialized: either registered in the version
// table or currently loaded at that exact version.
func (r *Registry) ValidateSeal(ctx context.Context, obj *object.WebObject) error {
	seal := obj.Seal()
	data := obj.Data()
	if data == nil {
		return object.ErrNotLoaded.New("object [%d]", obj.ID())
	}

	var deps []int64
	for _, key := range []string{object.KeyPrototype, object.KeyCategory} {
		for _, v := range data.GetAll(key) {
			ref, ok := v.(interface{ ID() int64 })
			if !ok {
				return SealError.New("object [%d] carries a malformed dependency %T", obj.ID(), v)
			}
			deps = append(deps, ref.ID())
		}
	}

	if seal == "." {
		if len(deps) != 0 {
			return SealError.New("object [%d] seals no dependencies but declares %d", obj.ID(), len(deps))
		}
		return nil
	}
	parts := strings.Split(seal, ".")
	if len(parts) != len(deps) {
		return SealError.New("object [%d] seal pins %d versions for %d dependencies", obj.ID(), len(parts), len(deps))
	}
	for i, part := range parts {
		want, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return SealError.New("object [%d] carries a malformed seal %q", obj.ID(), seal)
		}
		if _, ok := r.Version(deps[i], want); ok {
			continue
		}
		dep := obj
		if deps[i] != obj.ID() {
			if dep, err = r.GetLoaded(ctx, deps[i]); err != nil {
				return SealError.Wrap(err)
			}
		}
		if dep.Version() != want {
			return SealError.New("dependency [%d] of object [%d] is at version %d, seal pins %d",
				deps[i], obj.ID(), dep.Version(), want)
		}
		r.RegisterVersion(dep)
	}
	return nil
}

// RegisterProvisional stages a newborn under its negative provisional id
// so references to it can be resolved before commit.
func (r *Registry) RegisterProvisional(obj *object.WebObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisional[obj.ID()] = obj
}

// DropProvisional removes a staged newborn after commit or rollback.
func (r *Registry) DropProvisional(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.provisional, id)
}

// RegisterGetter installs a class getter invoked for fields whose type
// declares it.
func (r *Registry) RegisterGetter(class string, name string, fn object.GetterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getters[class+"."+name] = fn
}

// Getter implements the loader's getter resolution.
func (r *Registry) Getter(class string, name string) (object.GetterFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.getters[class+"."+name]
	return fn, ok
}

// Insert persists a fresh record and returns its assigned id.
func (r *Registry) Insert(ctx context.Context, data *catalog.Catalog, ringName string) (int64, error) {
	obj := object.NewNewborn(-1, data, r)
	raw, err := obj.EncodeRecord(ctx, r.codec)
	if err != nil {
		return 0, err
	}
	return r.store.Insert(ctx, raw, ringName)
}
