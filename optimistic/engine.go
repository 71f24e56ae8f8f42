// Package optimistic implements the optimistic mutation engine (C5):
// applying a local patch to an entity cell ahead of server confirmation,
// then either reconciling it with the server's authoritative result or
// rolling it back to the pre-mutation snapshot.
package optimistic

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sylphxai/lens-go"
)

// Entry is one in-flight optimistic mutation: the patch applied locally
// and the prior values it overwrote, so it can be undone without
// disturbing fields an unrelated write touched in the meantime.
type Entry struct {
	ID     string
	Entity string
	EID    string

	cell     *lens.EntityCell
	snapshot map[string]any
	patch    map[string]any
	settled  bool

	// createdCell is true when ApplyCreate installed cell itself (the "create"
	// operation kind on a record with no prior snapshot): Rollback then
	// disposes the cell outright rather than restoring any field (spec
	// §4.5 "If the operation was create with no prior snapshot, remove
	// the entity cell").
	createdCell bool
}

// Engine tracks every in-flight optimistic entry, keyed by its id.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*Entry
	nextID  uint64
}

// New creates an empty optimistic engine.
func New() *Engine {
	return &Engine{entries: make(map[string]*Entry)}
}

// Apply writes patch onto cell immediately, recording the fields'
// pre-mutation values, and returns the entry so the caller can later
// Confirm or Rollback it (spec §4.4 "optimistic apply").
func (e *Engine) Apply(entity, id string, cell *lens.EntityCell, patch map[string]any) *Entry {
	snapshot := make(map[string]any, len(patch))
	for field := range patch {
		snapshot[field] = cell.Field(field).Peek()
	}

	entry := &Entry{
		ID:       fmt.Sprintf("opt-%d", atomic.AddUint64(&e.nextID, 1)),
		Entity:   entity,
		EID:      id,
		cell:     cell,
		snapshot: snapshot,
		patch:    patch,
	}

	e.mu.Lock()
	e.entries[entry.ID] = entry
	e.mu.Unlock()

	cell.SetFields(patch)
	return entry
}

// ApplyCreate is Apply's counterpart for a "create" mutation against a
// record with no prior local cell: newCell installs the entity cell
// (typically a multiplexer's GetOrCreate) and the patch is written onto
// it with no pre-mutation snapshot to fall back to, since none existed
// (spec §4.5 "Snapshot the current aggregate value of the entity cell,
// or none if absent"). Rolling the returned entry back disposes the
// cell entirely rather than restoring any field.
func (e *Engine) ApplyCreate(entity, id string, newCell func() *lens.EntityCell, patch map[string]any) *Entry {
	cell := newCell()

	entry := &Entry{
		ID:          fmt.Sprintf("opt-%d", atomic.AddUint64(&e.nextID, 1)),
		Entity:      entity,
		EID:         id,
		cell:        cell,
		snapshot:    map[string]any{},
		patch:       patch,
		createdCell: true,
	}

	e.mu.Lock()
	e.entries[entry.ID] = entry
	e.mu.Unlock()

	cell.SetFields(patch)
	return entry
}

// ApplyDelete is Apply's counterpart for a "delete" mutation: rather than
// writing the caller's patch, it installs a tombstone field on cell,
// snapshotting every field the tombstone would otherwise hide so Rollback
// can restore each of them; a tombstone field that did not exist before
// is reset to nil rather than removed (spec §4.5 "apply for a
// delete installs a tombstone field __deleted:true; rollback restores the
// prior snapshot").
func (e *Engine) ApplyDelete(entity, id string, cell *lens.EntityCell) *Entry {
	snapshot := cell.Snapshot()
	if _, existed := snapshot[tombstoneField]; !existed {
		snapshot[tombstoneField] = nil
	}
	tombstone := map[string]any{tombstoneField: true}

	entry := &Entry{
		ID:       fmt.Sprintf("opt-%d", atomic.AddUint64(&e.nextID, 1)),
		Entity:   entity,
		EID:      id,
		cell:     cell,
		snapshot: snapshot,
		patch:    tombstone,
	}

	e.mu.Lock()
	e.entries[entry.ID] = entry
	e.mu.Unlock()

	cell.SetFields(tombstone)
	return entry
}

// tombstoneField marks a cell as deleted pending server confirmation
// (spec §4.5 delete operation kind).
const tombstoneField = "__deleted"

// Confirm reconciles an in-flight entry with the server's authoritative
// result: the result's fields win outright, and any field the optimistic
// patch touched but the result did not mention reverts to its
// pre-mutation value, since the server implicitly left it unchanged
// (spec §4.4 "confirm semantics"). Confirming an already-settled or
// unknown entry is a no-op.
func (e *Engine) Confirm(entryID string, result map[string]any) {
	entry := e.takeEntry(entryID)
	if entry == nil {
		return
	}

	lens.Batch(func() {
		for field := range entry.patch {
			if _, present := result[field]; !present {
				entry.cell.SetField(field, entry.snapshot[field])
			}
		}
		for field, val := range result {
			entry.cell.SetField(field, val)
		}
	})
}

// ConfirmDelete settles a delete entry once the server has acknowledged
// it. Unlike Confirm, it never reverts the tombstone field against a
// snapshot value: the record is gone, and the tombstone is the entity
// cell's permanent representation of that fact. Confirming an
// already-settled or unknown entry is a no-op.
func (e *Engine) ConfirmDelete(entryID string) {
	e.takeEntry(entryID)
}

// Rollback undoes an in-flight entry's patch, restoring every field it
// touched to its pre-mutation value, or disposing the cell entirely if
// ApplyCreate created it (the record did not exist before the optimistic
// "create"). Rolling back an already-settled or unknown entry is a
// no-op.
func (e *Engine) Rollback(entryID string) {
	entry := e.takeEntry(entryID)
	if entry == nil {
		return
	}
	if entry.createdCell {
		entry.cell.Dispose()
		return
	}
	entry.cell.SetFields(entry.snapshot)
}

// takeEntry removes and returns an entry exactly once; a second call for
// the same id returns nil, making Confirm/Rollback idempotent against
// a mutation link that retries its settlement dispatch.
func (e *Engine) takeEntry(entryID string) *Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[entryID]
	if !ok || entry.settled {
		return nil
	}
	entry.settled = true
	delete(e.entries, entryID)
	return entry
}

// Pending returns the ids of every entry still awaiting settlement, for
// introspection and tests.
func (e *Engine) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	return ids
}
