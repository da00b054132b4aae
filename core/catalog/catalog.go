// Package catalog implements the ordered key-value collection backing every
// web object's data. Unlike a map, a catalog preserves insertion order and
// allows the same key to appear more than once; values may themselves be
// catalogs, addressed through dotted paths.
package catalog

import (
	"strings"

	"github.com/zeebo/errs"
)

// Error wraps all failures reported by this package.
var Error = errs.Class("catalog")

// Entry is a single (key, value) pair. An empty key marks an unkeyed entry,
// addressable only by position.
type Entry struct {
	Key   string
	Value any
}

// Catalog is an ordered sequence of entries with possible duplicate keys.
type Catalog struct {
	entries []Entry
}

// New builds a catalog from the given entries, in order.
func New(entries ...Entry) *Catalog {
	c := &Catalog{entries: make([]Entry, len(entries))}
	copy(c.entries, entries)
	return c
}

// Len returns the number of top-level entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// At returns the entry at position i.
func (c *Catalog) At(i int) Entry { return c.entries[i] }

// Entries returns a copy of the top-level entries in insertion order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Keys returns the distinct top-level keys in first-occurrence order.
func (c *Catalog) Keys() []string {
	seen := map[string]bool{}
	var keys []string
	for _, e := range c.entries {
		if e.Key == "" || seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		keys = append(keys, e.Key)
	}
	return keys
}

// Clone returns a shallow copy of the catalog: entries are copied, values
// are shared except for nested catalogs, which are cloned recursively.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{entries: make([]Entry, len(c.entries))}
	for i, e := range c.entries {
		if sub, ok := e.Value.(*Catalog); ok {
			e.Value = sub.Clone()
		}
		out.entries[i] = e
	}
	return out
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// step resolves one path segment inside a container value, returning the
// values of every matching child.
func stepInto(value any, seg string) []any {
	switch v := value.(type) {
	case *Catalog:
		var out []any
		for _, e := range v.entries {
			if e.Key == seg {
				out = append(out, e.Value)
			}
		}
		return out
	case map[string]any:
		if sub, ok := v[seg]; ok {
			return []any{sub}
		}
	}
	return nil
}

// Get returns the first value at the dotted path, or false when absent.
func (c *Catalog) Get(path string) (any, bool) {
	values := c.GetAll(path)
	if len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

// GetAll returns every value reachable through the dotted path, in
// insertion order at each level.
func (c *Catalog) GetAll(path string) []any {
	if c == nil {
		return nil
	}
	segs := splitPath(path)
	if segs == nil {
		return nil
	}
	current := []any{any(c)}
	for _, seg := range segs {
		var next []any
		for _, v := range current {
			next = append(next, stepInto(v, seg)...)
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// locate resolves a dotted path to the catalog owning its final segment.
// Only the first match is followed at each intermediate level.
func (c *Catalog) locate(path string) (*Catalog, string, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, "", Error.New("empty path")
	}
	owner := c
	for _, seg := range segs[:len(segs)-1] {
		value, ok := owner.Get(seg)
		if !ok {
			return nil, "", Error.New("path not found: %q", path)
		}
		sub, ok := value.(*Catalog)
		if !ok {
			return nil, "", Error.New("path %q does not lead to a catalog", path)
		}
		owner = sub
	}
	return owner, segs[len(segs)-1], nil
}

// indexOf returns the position of the first entry with the given key,
// or -1.
func (c *Catalog) indexOf(key string) int {
	for i, e := range c.entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// Set assigns the value of the first entry at the path, appending a new
// entry when the key is not present.
func (c *Catalog) Set(path string, value any) error {
	owner, key, err := c.locate(path)
	if err != nil {
		return err
	}
	if i := owner.indexOf(key); i >= 0 {
		owner.entries[i].Value = value
		return nil
	}
	owner.entries = append(owner.entries, Entry{Key: key, Value: value})
	return nil
}

// SetAll replaces every occurrence of the key at the path with the given
// values: the first occurrence takes the first value, further values are
// inserted after it, surplus occurrences are removed.
func (c *Catalog) SetAll(path string, values []any) error {
	owner, key, err := c.locate(path)
	if err != nil {
		return err
	}
	kept := owner.entries[:0]
	pos := -1
	for _, e := range owner.entries {
		if e.Key == key {
			if pos < 0 {
				pos = len(kept)
			}
			continue
		}
		kept = append(kept, e)
	}
	if pos < 0 {
		pos = len(kept)
	}
	owner.entries = kept
	inserted := make([]Entry, len(values))
	for i, v := range values {
		inserted[i] = Entry{Key: key, Value: v}
	}
	owner.entries = append(owner.entries[:pos], append(inserted, owner.entries[pos:]...)...)
	return nil
}

// SetKey renames the first entry at the path.
func (c *Catalog) SetKey(path string, newKey string) error {
	owner, key, err := c.locate(path)
	if err != nil {
		return err
	}
	i := owner.indexOf(key)
	if i < 0 {
		return Error.New("path not found: %q", path)
	}
	owner.entries[i].Key = newKey
	return nil
}

// Insert appends a (key, value) entry to the catalog at the parent path;
// an empty path targets the top level. A non-negative pos inserts at that
// position, -1 appends.
func (c *Catalog) Insert(path string, pos int, key string, value any) error {
	owner := c
	if path != "" {
		v, ok := c.Get(path)
		if !ok {
			return Error.New("path not found: %q", path)
		}
		sub, ok := v.(*Catalog)
		if !ok {
			return Error.New("path %q does not lead to a catalog", path)
		}
		owner = sub
	}
	if pos < 0 || pos > len(owner.entries) {
		pos = len(owner.entries)
	}
	entry := Entry{Key: key, Value: value}
	owner.entries = append(owner.entries[:pos], append([]Entry{entry}, owner.entries[pos:]...)...)
	return nil
}

// Delete removes every entry at the path and returns how many were
// removed.
func (c *Catalog) Delete(path string) (int, error) {
	owner, key, err := c.locate(path)
	if err != nil {
		return 0, err
	}
	kept := owner.entries[:0]
	removed := 0
	for _, e := range owner.entries {
		if e.Key == key {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	owner.entries = kept
	if removed == 0 {
		return 0, Error.New("path not found: %q", path)
	}
	return removed, nil
}

// Move shifts the first entry at the path by delta positions, negative
// being towards the front. The move is clamped at the edges.
func (c *Catalog) Move(path string, delta int) error {
	owner, key, err := c.locate(path)
	if err != nil {
		return err
	}
	i := owner.indexOf(key)
	if i < 0 {
		return Error.New("path not found: %q", path)
	}
	j := i + delta
	if j < 0 {
		j = 0
	}
	if j >= len(owner.entries) {
		j = len(owner.entries) - 1
	}
	entry := owner.entries[i]
	owner.entries = append(owner.entries[:i], owner.entries[i+1:]...)
	owner.entries = append(owner.entries[:j], append([]Entry{entry}, owner.entries[j:]...)...)
	return nil
}

// Increment adds delta to the numeric value at the path, treating a
// missing entry as zero.
func (c *Catalog) Increment(path string, delta float64) (float64, error) {
	owner, key, err := c.locate(path)
	if err != nil {
		return 0, err
	}
	i := owner.indexOf(key)
	if i < 0 {
		owner.entries = append(owner.entries, Entry{Key: key, Value: delta})
		return delta, nil
	}
	current, ok := toFloat(owner.entries[i].Value)
	if !ok {
		return 0, Error.New("value at %q is not numeric", path)
	}
	next := current + delta
	if _, isInt := owner.entries[i].Value.(int64); isInt && next == float64(int64(next)) {
		owner.entries[i].Value = int64(next)
	} else {
		owner.entries[i].Value = next
	}
	return next, nil
}

// Overwrite replaces the whole content of the catalog.
func (c *Catalog) Overwrite(entries []Entry) {
	c.entries = make([]Entry, len(entries))
	copy(c.entries, entries)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Replacer inspects one entry during Transform. It returns the replacement
// entry and true, or false to keep the original.
type Replacer func(path []string, e Entry) (Entry, bool)

// Transform walks the catalog tree and returns a new catalog in which
// every entry accepted by the replacer has been substituted. Nested
// catalogs are rebuilt so the original is never shared.
func (c *Catalog) Transform(replace Replacer) *Catalog {
	return c.transform(nil, replace)
}

func (c *Catalog) transform(prefix []string, replace Replacer) *Catalog {
	out := &Catalog{entries: make([]Entry, 0, len(c.entries))}
	for _, e := range c.entries {
		path := append(append([]string{}, prefix...), e.Key)
		if repl, ok := replace(path, e); ok {
			e = repl
		} else if sub, isSub := e.Value.(*Catalog); isSub {
			e.Value = sub.transform(path, replace)
		}
		out.entries = append(out.entries, e)
	}
	return out
}

// Encode converts the catalog to a plain structure safe for JSON
// serialization: a list of [key, value] pairs with nested catalogs encoded
// recursively. Load is its inverse.
func (c *Catalog) Encode() any {
	out := make([]any, 0, len(c.entries))
	for _, e := range c.entries {
		value := e.Value
		if sub, ok := value.(*Catalog); ok {
			value = sub.Encode()
		}
		out = append(out, []any{e.Key, value})
	}
	return out
}

// Load rebuilds a catalog from the structure produced by Encode, nested
// catalogs included. A plain JSON object is accepted as well, with the
// caveat that its entry order follows the decoder.
func Load(state any) (*Catalog, error) {
	switch v := state.(type) {
	case []any:
		c := New()
		for _, item := range v {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, Error.New("malformed catalog entry: %v", item)
			}
			key, ok := pair[0].(string)
			if !ok {
				return nil, Error.New("malformed catalog key: %v", pair[0])
			}
			value, err := loadValue(pair[1])
			if err != nil {
				return nil, err
			}
			c.entries = append(c.entries, Entry{Key: key, Value: value})
		}
		return c, nil
	case map[string]any:
		c := New()
		for key, value := range v {
			nested, err := loadValue(value)
			if err != nil {
				return nil, err
			}
			c.entries = append(c.entries, Entry{Key: key, Value: nested})
		}
		return c, nil
	}
	return nil, Error.New("cannot load catalog from %T", state)
}

// loadValue rebuilds values that are themselves encoded catalogs:
// non-empty entry-pair lists and plain objects. Everything else passes
// through untouched.
func loadValue(v any) (any, error) {
	switch val := v.(type) {
	case []any:
		if !pairList(val) {
			return v, nil
		}
		return Load(val)
	case map[string]any:
		return Load(val)
	}
	return v, nil
}

func pairList(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return false
		}
		if _, ok := pair[0].(string); !ok {
			return false
		}
	}
	return true
}
