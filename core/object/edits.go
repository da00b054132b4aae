package object

import (
	"github.com/asaidimu/go-schemat/core/catalog"
)

// requireMutable guards every write: only newborns and mutable twins
// accept edits, everything else fails fast.
func (o *WebObject) requireMutable() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != Newborn && o.status != Mutable {
		return ErrImmutable.New("cannot edit a %s object [%d]; mutate it inside a transaction", o.status, o.id)
	}
	return nil
}

// ApplyEdit appends an edit to the object's edit log and applies it to
// the data catalog. The log entry is recorded before the catalog
// changes; a failed application is rolled back from both.
func (o *WebObject) ApplyEdit(e catalog.Edit) error {
	if err := o.requireMutable(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.edits = append(o.edits, e)
	if err := e.Apply(o.data); err != nil {
		o.edits = o.edits[:len(o.edits)-1]
		return err
	}
	o.cache = nil
	o.lin = nil
	return nil
}

// SetField records a set edit for the field.
func (o *WebObject) SetField(path string, value any) error {
	return o.ApplyEdit(catalog.Edit{Op: catalog.OpSet, Args: []any{path, value}})
}

// SetFieldAll atomically replaces every occurrence of the field with the
// given values.
func (o *WebObject) SetFieldAll(path string, values []any) error {
	return o.ApplyEdit(catalog.Edit{Op: catalog.OpSet, Args: []any{path, values, true}})
}

// SetKey records a rekey edit.
func (o *WebObject) SetKey(path string, newKey string) error {
	return o.ApplyEdit(catalog.Edit{Op: catalog.OpSetKey, Args: []any{path, newKey}})
}

// InsertField records an insert edit at a position inside the addressed
// sub-catalog; a negative position appends.
func (o *WebObject) InsertField(path string, pos int, key string, value any) error {
	return o.ApplyEdit(catalog.Edit{Op: catalog.OpInsert, Args: []any{path, pos, key, value}})
}

// DeleteField records a delete edit removing every occurrence of the
// field.
func (o *WebObject) DeleteField(path string) error {
	return o.ApplyEdit(catalog.Edit{Op: catalog.OpDelete, Args: []any{path}})
}

// MoveField records a move edit shifting the entry by delta positions.
func (o *WebObject) MoveField(path string, delta int) error {
	return o.ApplyEdit(catalog.Edit{Op: catalog.OpMove, Args: []any{path, delta}})
}

// IncrementField records an increment edit.
func (o *WebObject) IncrementField(path string, delta float64) error {
	return o.ApplyEdit(catalog.Edit{Op: catalog.OpIncrement, Args: []any{path, delta}})
}

// Edits returns a copy of the accumulated edit log.
func (o *WebObject) Edits() []catalog.Edit {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]catalog.Edit, len(o.edits))
	copy(out, o.edits)
	return out
}

// ResetEdits clears the edit log after a successful commit.
func (o *WebObject) ResetEdits() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.edits = nil
}
