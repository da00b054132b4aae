// Package store defines the storage boundary of the runtime: flat records
// of (id, jsonx-data) grouped into rings. Rings are stacked; a write that
// lands on a read-only ring propagates to the next writable ring above it.
package store

import (
	"context"
	"sort"

	"github.com/zeebo/errs"
)

var (
	// ErrObjectNotFound reports that no ring holds a record for the id.
	ErrObjectNotFound = errs.Class("object not found")
	// ErrReadOnly reports a write against a read-only ring with no
	// writable ring above it.
	ErrReadOnly = errs.Class("ring read-only")
)

// Record is the canonical persisted form of a web object.
type Record struct {
	ID   int64
	Data string
}

// ScanOptions bounds a range scan over record ids. A non-positive Stop
// means no upper bound; Limit of zero means no limit.
type ScanOptions struct {
	Start   int64
	Stop    int64
	Limit   int
	Reverse bool
}

// Ring is one storage layer. Implementations must be safe for concurrent
// use.
type Ring interface {
	Name() string
	ReadOnly() bool
	// Bootstrap rings hold the seed objects consulted during startup;
	// records loaded from them are never cached beyond the current use.
	Bootstrap() bool

	Select(ctx context.Context, id int64) (string, error)
	Insert(ctx context.Context, data string) (int64, error)
	InsertAt(ctx context.Context, id int64, data string) (int64, error)
	Update(ctx context.Context, id int64, data string) error
	Delete(ctx context.Context, id int64) error
	Scan(ctx context.Context, opts ScanOptions) ([]Record, error)
}

// Store is a stack of rings, bottom first. Reads are resolved top-down so
// upper rings shadow lower ones; writes propagate upward past read-only
// rings.
type Store struct {
	rings []Ring
}

func NewStore(rings ...Ring) *Store {
	return &Store{rings: rings}
}

// Ring returns the named ring, or nil.
func (s *Store) Ring(name string) Ring {
	for _, r := range s.rings {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

// Rings returns the stack bottom first.
func (s *Store) Rings() []Ring { return s.rings }

// Select returns the newest record for the id, together with the ring it
// came from.
func (s *Store) Select(ctx context.Context, id int64) (string, Ring, error) {
	for i := len(s.rings) - 1; i >= 0; i-- {
		data, err := s.rings[i].Select(ctx, id)
		if err == nil {
			return data, s.rings[i], nil
		}
		if !ErrObjectNotFound.Has(err) {
			return "", nil, err
		}
	}
	return "", nil, ErrObjectNotFound.New("id %d", id)
}

// ringsAbove returns the sub-stack starting at the named ring, or the
// whole stack when the name is empty.
func (s *Store) ringsAbove(name string) ([]Ring, error) {
	if name == "" {
		return s.rings, nil
	}
	for i, r := range s.rings {
		if r.Name() == name {
			return s.rings[i:], nil
		}
	}
	return nil, ErrObjectNotFound.New("ring %q", name)
}

// Insert stores a new record, starting at the named ring (or the bottom)
// and moving up past read-only rings. The assigned id is returned.
func (s *Store) Insert(ctx context.Context, data string, ringName string) (int64, error) {
	rings, err := s.ringsAbove(ringName)
	if err != nil {
		return 0, err
	}
	for _, r := range rings {
		if r.ReadOnly() {
			continue
		}
		return r.Insert(ctx, data)
	}
	return 0, ErrReadOnly.New("no writable ring above %q", ringName)
}

// InsertAt stores a record under a caller-chosen id.
func (s *Store) InsertAt(ctx context.Context, id int64, data string, ringName string) (int64, error) {
	rings, err := s.ringsAbove(ringName)
	if err != nil {
		return 0, err
	}
	for _, r := range rings {
		if r.ReadOnly() {
			continue
		}
		return r.InsertAt(ctx, id, data)
	}
	return 0, ErrReadOnly.New("no writable ring above %q", ringName)
}

// Update rewrites the record wherever its newest version lives; when that
// ring is read-only the new version shadows it from the next writable
// ring above.
func (s *Store) Update(ctx context.Context, id int64, data string) error {
	for i := len(s.rings) - 1; i >= 0; i-- {
		r := s.rings[i]
		_, err := r.Select(ctx, id)
		if ErrObjectNotFound.Has(err) {
			continue
		}
		if err != nil {
			return err
		}
		for j := i; j < len(s.rings); j++ {
			if s.rings[j].ReadOnly() {
				continue
			}
			if j == i {
				return s.rings[j].Update(ctx, id, data)
			}
			_, err := s.rings[j].InsertAt(ctx, id, data)
			return err
		}
		return ErrReadOnly.New("no writable ring above %q", r.Name())
	}
	return ErrObjectNotFound.New("id %d", id)
}

// Delete removes the newest version of the record. Older versions in
// lower rings become visible again, mirroring how shadowing works on
// update.
func (s *Store) Delete(ctx context.Context, id int64) error {
	for i := len(s.rings) - 1; i >= 0; i-- {
		r := s.rings[i]
		_, err := r.Select(ctx, id)
		if ErrObjectNotFound.Has(err) {
			continue
		}
		if err != nil {
			return err
		}
		if r.ReadOnly() {
			return ErrReadOnly.New("record %d lives in read-only ring %q", id, r.Name())
		}
		return r.Delete(ctx, id)
	}
	return ErrObjectNotFound.New("id %d", id)
}

// Scan merges range scans over all rings, upper rings shadowing lower
// ones for duplicate ids.
func (s *Store) Scan(ctx context.Context, opts ScanOptions) ([]Record, error) {
	seen := map[int64]bool{}
	var merged []Record
	for i := len(s.rings) - 1; i >= 0; i-- {
		records, err := s.rings[i].Scan(ctx, ScanOptions{Start: opts.Start, Stop: opts.Stop, Reverse: opts.Reverse})
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			merged = append(merged, rec)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if opts.Reverse {
			return merged[i].ID > merged[j].ID
		}
		return merged[i].ID < merged[j].ID
	})
	if opts.Limit > 0 && len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	return merged, nil
}
