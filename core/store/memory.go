package store

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"
)

// MemoryRing is an in-memory ring, used for bootstrap objects and tests.
type MemoryRing struct {
	name      string
	readOnly  bool
	bootstrap bool

	mu     sync.RWMutex
	data   map[int64]string
	nextID int64
}

var _ Ring = (*MemoryRing)(nil)

// MemoryRingOptions configures a memory ring.
type MemoryRingOptions struct {
	ReadOnly  bool
	Bootstrap bool
	// StartID is the first id handed out by Insert; defaults to 1.
	StartID int64
}

func NewMemoryRing(name string, opts *MemoryRingOptions) *MemoryRing {
	if opts == nil {
		opts = &MemoryRingOptions{}
	}
	next := opts.StartID
	if next <= 0 {
		next = 1
	}
	return &MemoryRing{
		name:      name,
		readOnly:  opts.ReadOnly,
		bootstrap: opts.Bootstrap,
		data:      map[int64]string{},
		nextID:    next,
	}
}

// yamlRecord is one entry of a ring manifest file: an id plus the object
// data as a nested YAML document, stored as its JSON serialization.
type yamlRecord struct {
	ID   int64 `yaml:"id"`
	Data any   `yaml:"data"`
}

// LoadMemoryRing reads a YAML ring manifest into a new memory ring.
func LoadMemoryRing(name string, path string, opts *MemoryRingOptions) (*MemoryRing, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrObjectNotFound.Wrap(err)
	}
	var records []yamlRecord
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return nil, ErrObjectNotFound.New("malformed ring manifest %s: %v", path, err)
	}
	ring := NewMemoryRing(name, opts)
	for _, rec := range records {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return nil, ErrObjectNotFound.New("record %d in %s: %v", rec.ID, path, err)
		}
		ring.data[rec.ID] = string(data)
		if rec.ID >= ring.nextID {
			ring.nextID = rec.ID + 1
		}
	}
	return ring, nil
}

func (r *MemoryRing) Name() string    { return r.name }
func (r *MemoryRing) ReadOnly() bool  { return r.readOnly }
func (r *MemoryRing) Bootstrap() bool { return r.bootstrap }

func (r *MemoryRing) Select(ctx context.Context, id int64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.data[id]
	if !ok {
		return "", ErrObjectNotFound.New("id %d in ring %q", id, r.name)
	}
	return data, nil
}

func (r *MemoryRing) Insert(ctx context.Context, data string) (int64, error) {
	if r.readOnly {
		return 0, ErrReadOnly.New("%q", r.name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.data[id] = data
	return id, nil
}

func (r *MemoryRing) InsertAt(ctx context.Context, id int64, data string) (int64, error) {
	if r.readOnly {
		return 0, ErrReadOnly.New("%q", r.name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[id] = data
	if id >= r.nextID {
		r.nextID = id + 1
	}
	return id, nil
}

func (r *MemoryRing) Update(ctx context.Context, id int64, data string) error {
	if r.readOnly {
		return ErrReadOnly.New("%q", r.name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return ErrObjectNotFound.New("id %d in ring %q", id, r.name)
	}
	r.data[id] = data
	return nil
}

func (r *MemoryRing) Delete(ctx context.Context, id int64) error {
	if r.readOnly {
		return ErrReadOnly.New("%q", r.name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return ErrObjectNotFound.New("id %d in ring %q", id, r.name)
	}
	delete(r.data, id)
	return nil
}

func (r *MemoryRing) Scan(ctx context.Context, opts ScanOptions) ([]Record, error) {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.data))
	for id := range r.data {
		if id < opts.Start {
			continue
		}
		if opts.Stop > 0 && id >= opts.Stop {
			continue
		}
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		if opts.Reverse {
			return ids[i] > ids[j]
		}
		return ids[i] < ids[j]
	})
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if data, ok := r.data[id]; ok {
			out = append(out, Record{ID: id, Data: data})
		}
	}
	return out, nil
}
