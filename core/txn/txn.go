// Package txn implements the ambient transaction: a context-carried
// staging area for mutable twins and newborn objects, committed with
// optimistic if_version guards against the storage layer.
package txn

import (
	"context"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asaidimu/go-schemat/core/catalog"
	"github.com/asaidimu/go-schemat/core/object"
	"github.com/asaidimu/go-schemat/core/registry"
)

// VersionConflict reports an if_version guard that failed at commit.
// The staged edit log survives the failure and can be retried after a
// reload.
var VersionConflict = errs.Class("version conflict")

type ctxKey struct{}

// With attaches a transaction to the context.
func With(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, ctxKey{}, tx)
}

// From extracts the ambient transaction.
func From(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*Transaction)
	return tx, ok
}

// Mutate stages a mutable twin of obj in the ambient transaction. It
// fails fast when the context carries none.
func Mutate(ctx context.Context, obj *object.WebObject) (*object.WebObject, error) {
	tx, ok := From(ctx)
	if !ok {
		return nil, object.ErrImmutable.New("no transaction in context; object [%d] cannot be edited", obj.ID())
	}
	return tx.Mutate(obj)
}

// Options configures a transaction.
type Options struct {
	// Ring names the ring new records are inserted into; empty means the
	// bottom of the stack.
	Ring   string
	Logger *zap.Logger
}

// Transaction accumulates modified records until commit.
type Transaction struct {
	reg    *registry.Registry
	ring   string
	logger *zap.Logger

	mu       sync.Mutex
	staged   map[int64]*object.WebObject
	newborns []*object.WebObject
	nextProv int64
}

func New(reg *registry.Registry, opts *Options) *Transaction {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transaction{
		reg:    reg,
		ring:   opts.Ring,
		logger: logger,
		staged: map[int64]*object.WebObject{},
	}
}

// Mutate returns the staged mutable twin of a loaded object, creating
// and registering it on first use. Repeated calls for the same id share
// one twin so edits within the transaction apply in submission order.
func (tx *Transaction) Mutate(obj *object.WebObject) (*object.WebObject, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if twin, ok := tx.staged[obj.ID()]; ok {
		return twin, nil
	}
	twin, err := obj.Mutate()
	if err != nil {
		return nil, err
	}
	tx.staged[obj.ID()] = twin
	return twin, nil
}

// Create stages a newborn object under a fresh provisional id, making
// it referenceable before commit.
func (tx *Transaction) Create(data *catalog.Catalog) *object.WebObject {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.nextProv--
	newborn := object.NewNewborn(tx.nextProv, data, tx.reg)
	tx.newborns = append(tx.newborns, newborn)
	tx.reg.RegisterProvisional(newborn)
	return newborn
}

// Commit flushes the transaction: newborns become full inserts and the
// returned map carries their assigned ids; staged twins emit their edit
// logs guarded by if_version. A version conflict aborts the affected
// twin but leaves its edit log intact for retry.
func (tx *Transaction) Commit(ctx context.Context) (map[int64]int64, error) {
	tx.mu.Lock()
	newborns := append([]*object.WebObject(nil), tx.newborns...)
	staged := make([]*object.WebObject, 0, len(tx.staged))
	for _, twin := range tx.staged {
		staged = append(staged, twin)
	}
	tx.mu.Unlock()

	// Ids are allocated for every newborn before any body is written, so
	// cross-references between newborns encode with real ids.
	assigned := map[int64]int64{}
	for _, nb := range newborns {
		id, err := tx.reg.Store().Insert(ctx, "{}", tx.ring)
		if err != nil {
			return nil, err
		}
		assigned[nb.ID()] = id
	}
	for _, nb := range newborns {
		prov := nb.ID()
		if err := nb.AssignID(assigned[prov]); err != nil {
			return nil, err
		}
		tx.reg.DropProvisional(prov)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, nb := range newborns {
		nb := nb
		g.Go(func() error {
			raw, err := nb.EncodeRecord(gctx, tx.reg.Codec())
			if err != nil {
				return err
			}
			if err := tx.reg.Store().Update(gctx, nb.ID(), raw); err != nil {
				return err
			}
			tx.reg.Emit(registry.RuntimeEvent{Type: registry.ObjectCommitted, ObjectID: nb.ID()})
			return nil
		})
	}
	for _, twin := range staged {
		twin := twin
		g.Go(func() error { return tx.flush(gctx, twin) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tx.mu.Lock()
	tx.newborns = nil
	for id, twin := range tx.staged {
		if len(twin.Edits()) == 0 {
			delete(tx.staged, id)
		}
	}
	tx.mu.Unlock()
	return assigned, nil
}

// flush applies one twin's edit log to the stored record: the current
// version must match the twin's snapshot, the edits replay against the
// freshly decoded record and the version counter advances by one.
func (tx *Transaction) flush(ctx context.Context, twin *object.WebObject) error {
	edits := twin.Edits()
	if len(edits) == 0 {
		return nil
	}
	id := twin.ID()
	guard := twin.Version()

	raw, _, err := tx.reg.Store().Select(ctx, id)
	if err != nil {
		return err
	}
	current, err := object.DecodeRecord(ctx, tx.reg.Codec(), id, raw, tx.reg)
	if err != nil {
		return err
	}

	holder := object.NewNewborn(-1, current, tx.reg)
	if holder.Version() != guard {
		return VersionConflict.New("object [%d] is at version %d, edit log expects %d",
			id, holder.Version(), guard)
	}

	if err := catalog.Replay(current, edits); err != nil {
		return err
	}
	if err := current.Set(object.KeyVersion, guard+1); err != nil {
		return err
	}
	if _, sealed := current.Get(object.KeySeal); sealed {
		seal, err := holder.ComputeSeal(ctx)
		if err != nil {
			return err
		}
		if err := current.Set(object.KeySeal, seal); err != nil {
			return err
		}
	}

	out, err := holder.EncodeRecord(ctx, tx.reg.Codec())
	if err != nil {
		return err
	}
	if err := tx.reg.Store().Update(ctx, id, out); err != nil {
		return err
	}

	twin.ResetEdits()
	tx.reg.Emit(registry.RuntimeEvent{Type: registry.ObjectCommitted, ObjectID: id})
	tx.logger.Debug("committed edits", zap.Int64("id", id), zap.Int("edits", len(edits)))

	if _, err := tx.reg.Reload(ctx, id); err != nil {
		tx.logger.Warn("reload after commit failed", zap.Int64("id", id), zap.Error(err))
	}
	return nil
}

// Rollback discards every staged twin and newborn. The twins' base
// instances were never touched.
func (tx *Transaction) Rollback() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, nb := range tx.newborns {
		tx.reg.DropProvisional(nb.ID())
	}
	tx.newborns = nil
	tx.staged = map[int64]*object.WebObject{}
}
