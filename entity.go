package lens

import (
	"fmt"
	"sort"
	"sync"
)

// UpdateStrategy selects how update-field applies a payload to a field.
type UpdateStrategy string

const (
	// StrategyValue replaces the field outright.
	StrategyValue UpdateStrategy = "value"
	// StrategyDelta applies an ordered sequence of string splices.
	StrategyDelta UpdateStrategy = "delta"
)

// DeltaOp is a single string-splice edit, applied left to right against
// the field's string value at the time it is applied (spec §6).
type DeltaOp struct {
	Position int
	Insert   string
	Delete   int
}

// FieldUpdate is the payload accepted by EntityCell.UpdateField.
type FieldUpdate struct {
	Strategy UpdateStrategy
	Data     any
	Ops      []DeltaOp
}

// ApplyDelta applies ops left to right to s, clamping out-of-range
// positions to the string's current length (spec §6, §8 boundaries).
func ApplyDelta(s string, ops []DeltaOp) string {
	r := []rune(s)
	for _, op := range ops {
		pos := op.Position
		if pos < 0 {
			pos = 0
		}
		if pos > len(r) {
			pos = len(r)
		}
		del := op.Delete
		if del < 0 {
			del = 0
		}
		end := pos + del
		if end > len(r) {
			end = len(r)
		}
		out := make([]rune, 0, len(r)-(end-pos)+len([]rune(op.Insert)))
		out = append(out, r[:pos]...)
		out = append(out, []rune(op.Insert)...)
		out = append(out, r[end:]...)
		r = out
	}
	return string(r)
}

// EntityCell is a reactive record (C2) identified by (entity, id), whose
// every field is an independently reactive Cell, plus a structural
// version and an aggregate computed snapshot.
type EntityCell struct {
	Entity string
	ID     string

	mu       sync.Mutex
	fields   map[string]*Cell[any]
	accessed map[string]bool
	// known marks which field names are an actual part of the record —
	// present in the initial snapshot, or introduced since by a genuine
	// write — as opposed to a blank cell Field created on the fly for a
	// name nobody has ever set (spec §4.2 "a known initial field").
	known map[string]bool

	version   *Cell[uint64]
	loading   *Cell[bool]
	err       *Cell[error]
	aggregate *Computed[map[string]any]
	disposed  bool

	onFieldAccess func(field string)
	onDispose     func()

	// Derived reports whether this cell is a restricted read-through view
	// over another entity cell (spec §4.4 step 2, glossary "Derived
	// view"), rather than one the multiplexer owns directly.
	Derived      bool
	derivedStops []Cleanup
}

// NewEntityCell constructs an entity cell from an initial record. The
// callbacks notify a subscription multiplexer of field reads and of
// disposal; either may be nil.
func NewEntityCell(entity, id string, initial map[string]any, onFieldAccess func(string), onDispose func()) *EntityCell {
	e := &EntityCell{
		Entity:        entity,
		ID:            id,
		fields:        make(map[string]*Cell[any], len(initial)),
		accessed:      make(map[string]bool, len(initial)),
		known:         make(map[string]bool, len(initial)),
		version:       NewCell[uint64](0),
		loading:       NewCell(false),
		err:           NewCell[error](nil),
		onFieldAccess: onFieldAccess,
		onDispose:     onDispose,
	}
	for k, v := range initial {
		e.fields[k] = NewCell(v)
		e.known[k] = true
	}
	e.aggregate = NewComputed(e.snapshot)
	return e
}

// snapshot is the aggregate computed's reader: it reads the structural
// version first (so adding/removing a field invalidates it), then every
// currently present field, and returns a plain record.
func (e *EntityCell) snapshot() map[string]any {
	e.version.Read()
	e.mu.Lock()
	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	cells := make([]*Cell[any], len(names))
	for i, name := range names {
		cells[i] = e.fields[name]
	}
	e.mu.Unlock()

	out := make(map[string]any, len(names))
	for i, name := range names {
		out[name] = cells[i].Read()
	}
	return out
}

// Aggregate returns the computed snapshot of all present fields. It
// recomputes lazily when the structural version or any present field
// has changed since it was last read.
func (e *EntityCell) Aggregate() map[string]any {
	return e.aggregate.Read()
}

// Loading returns the loading-metadata cell.
func (e *EntityCell) Loading() *Cell[bool] { return e.loading }

// Err returns the error-metadata cell.
func (e *EntityCell) Err() *Cell[error] { return e.err }

// Version returns the structural-version cell.
func (e *EntityCell) Version() *Cell[uint64] { return e.version }

// Field returns the per-field reactive cell for name, creating a blank
// one on first access if name has never been set. It fires
// on-field-access exactly once per field per entity lifetime, but only
// for a known initial field — a name that was part of the initial
// record or has since been legitimately written — not for a name a
// caller merely probed (spec §4.2 "a known initial field").
func (e *EntityCell) Field(name string) *Cell[any] {
	e.mu.Lock()
	cell, exists := e.fields[name]
	if !exists {
		cell = NewCell[any](nil)
		e.fields[name] = cell
	}
	firstAccess := e.known[name] && !e.accessed[name]
	if firstAccess {
		e.accessed[name] = true
	}
	e.mu.Unlock()

	if firstAccess && e.onFieldAccess != nil {
		e.onFieldAccess(name)
	}
	return cell
}

// NewDerivedView builds a restricted entity cell over source, exposing
// only fields: each field cell tracks source's same-named field via an
// internal effect, so the view stays live without opening any
// subscription or fetch of its own — it rides on whatever subscription
// already made source derivable (spec §4.4 step 2 "derive from existing
// subscription", glossary "Derived view").
func NewDerivedView(source *EntityCell, fields []string) *EntityCell {
	e := &EntityCell{
		Entity:   source.Entity,
		ID:       source.ID,
		fields:   make(map[string]*Cell[any], len(fields)),
		accessed: make(map[string]bool, len(fields)),
		known:    make(map[string]bool, len(fields)),
		version:  NewCell[uint64](0),
		loading:  NewCell(false),
		err:      NewCell[error](nil),
		Derived:  true,
	}
	for _, name := range fields {
		cell := NewCell[any](nil)
		e.fields[name] = cell
		e.known[name] = true
		// Look the source cell up directly rather than through
		// source.Field, so the view does not count as a field access on
		// source and retain a subscription of its own.
		source.mu.Lock()
		src, ok := source.fields[name]
		if !ok {
			src = NewCell[any](nil)
			source.fields[name] = src
		}
		source.mu.Unlock()
		_, stop := NewEffect(func() {
			cell.Write(src.Read())
		})
		e.derivedStops = append(e.derivedStops, stop)
	}
	e.aggregate = NewComputed(e.snapshot)
	return e
}

// Snapshot returns the current value of every present field without
// tracking a dependency on any of them, for callers (the optimistic
// engine's delete path) that need the pre-mutation record rather than a
// reactive read (spec §4.5 "snapshot the current aggregate value").
func (e *EntityCell) Snapshot() map[string]any {
	e.mu.Lock()
	names := make([]string, 0, len(e.fields))
	cells := make([]*Cell[any], 0, len(e.fields))
	for name, cell := range e.fields {
		names = append(names, name)
		cells = append(cells, cell)
	}
	e.mu.Unlock()

	out := make(map[string]any, len(names))
	for i, name := range names {
		out[name] = cells[i].Peek()
	}
	return out
}

// Fields returns the names of the currently present fields.
func (e *EntityCell) Fields() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetField replaces a single field's value. Disposed entities silently
// drop the write.
func (e *EntityCell) SetField(name string, value any) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	cell, exists := e.fields[name]
	isNew := !exists
	if !exists {
		cell = NewCell[any](nil)
		e.fields[name] = cell
	}
	e.known[name] = true
	e.mu.Unlock()

	cell.Write(value)
	if isNew {
		e.bumpVersion()
	}
}

// SetFields replaces (or adds) several fields at once. Adding a
// previously-absent key bumps the structural version exactly once.
func (e *EntityCell) SetFields(partial map[string]any) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	introducedNew := false
	cells := make(map[string]*Cell[any], len(partial))
	for name := range partial {
		cell, exists := e.fields[name]
		if !exists {
			cell = NewCell[any](nil)
			e.fields[name] = cell
			introducedNew = true
		}
		e.known[name] = true
		cells[name] = cell
	}
	e.mu.Unlock()

	Batch(func() {
		for name, val := range partial {
			cells[name].Write(val)
		}
	})
	if introducedNew {
		e.bumpVersion()
	}
}

// AddField introduces a field that did not previously exist, forcing the
// aggregate computed to recompute its keyset even if never read before.
func (e *EntityCell) AddField(name string, value any) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	if _, exists := e.fields[name]; exists {
		e.mu.Unlock()
		e.SetField(name, value)
		return
	}
	e.fields[name] = NewCell(value)
	e.known[name] = true
	e.mu.Unlock()
	e.bumpVersion()
}

// RemoveField drops a field entirely, bumping the structural version.
func (e *EntityCell) RemoveField(name string) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	if _, exists := e.fields[name]; !exists {
		e.mu.Unlock()
		return
	}
	delete(e.fields, name)
	delete(e.accessed, name)
	delete(e.known, name)
	e.mu.Unlock()
	e.bumpVersion()
}

func (e *EntityCell) bumpVersion() {
	e.version.Update(func(v uint64) uint64 { return v + 1 })
}

// UpdateField applies a value-replace or a delta-splice update to a
// single field. An unknown strategy, or a delta applied to a non-string
// field, is returned as an error and leaves the field unchanged — it
// never panics, so a malformed transport message cannot interrupt the
// input loop; the multiplexer logs the errors it gets back for incoming
// server updates (spec §4.2, design note).
func (e *EntityCell) UpdateField(name string, update FieldUpdate) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	switch update.Strategy {
	case StrategyValue:
		e.SetField(name, update.Data)
		return nil
	case StrategyDelta:
		cell := e.Field(name)
		cur, ok := cell.Peek().(string)
		if !ok {
			return fmt.Errorf("lens: delta update on non-string field %q", name)
		}
		cell.Write(ApplyDelta(cur, update.Ops))
		return nil
	default:
		return fmt.Errorf("lens: unknown update strategy %q for field %q", update.Strategy, name)
	}
}

// Dispose makes further writes silent no-ops and fires on-dispose. It is
// idempotent; the aggregate's last committed snapshot remains readable.
func (e *EntityCell) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	stops := e.derivedStops
	e.derivedStops = nil
	e.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	if e.onDispose != nil {
		e.onDispose()
	}
}

// IsDisposed reports whether Dispose has been called.
func (e *EntityCell) IsDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}
