package multiplex

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sylphxai/lens-go"
	"github.com/sylphxai/lens-go/transport"
)

// batchInterval is how long pending subscribe/unsubscribe intents
// accumulate before being flushed as a single transport call per record
// (spec §4.3 "subscription batching window").
const batchInterval = 10 * time.Millisecond

// Multiplexer is the process-wide table of entity cells (C3). It is the
// only component that issues subscribe/unsubscribe intents to a
// transport, so that N independent readers of the same field collapse
// to exactly one wire subscription.
type Multiplexer struct {
	mu      sync.Mutex
	entries map[key]*subscriptionState

	transport transport.SubscriptionTransport

	tickerOnce sync.Once
	stop       chan struct{}
	dirty      map[key]struct{}
}

// New creates a multiplexer. Transport may be nil, in which case
// subscribe/unsubscribe intents are tracked but never sent — useful for
// tests that only exercise local reactivity.
func New(t transport.SubscriptionTransport) *Multiplexer {
	m := &Multiplexer{
		entries: make(map[key]*subscriptionState),
		stop:    make(chan struct{}),
		dirty:   make(map[key]struct{}),
	}
	m.SetTransport(t)
	return m
}

// SetTransport swaps the transport used for future subscribe/unsubscribe
// intents and registers this multiplexer to receive its updates.
func (m *Multiplexer) SetTransport(t transport.SubscriptionTransport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
	if t != nil {
		t.OnUpdate(m.applyServerUpdate)
	}
	m.tickerOnce.Do(m.startTicker)
}

func (m *Multiplexer) startTicker() {
	go func() {
		ticker := time.NewTicker(batchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.flush()
			}
		}
	}()
}

// Destroy stops the batching ticker. The multiplexer must not be used
// afterward.
func (m *Multiplexer) Destroy() {
	close(m.stop)
}

// FlushNow drains every pending subscribe/unsubscribe intent
// immediately instead of waiting for the next batching tick. Exposed so
// callers needing deterministic ordering (shutdown, tests) do not have
// to sleep past the batch interval.
func (m *Multiplexer) FlushNow() {
	m.flush()
}

// GetOrCreate returns the entity cell for (entity, id), creating it from
// initial if this is the first time it has been seen. initial is ignored
// on subsequent calls; callers update fields via the returned cell.
func (m *Multiplexer) GetOrCreate(entity, id string, initial map[string]any) *lens.EntityCell {
	k := key{entity, id}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[k]; ok {
		return entry.cell
	}

	cell := lens.NewEntityCell(entity, id, initial, func(field string) {
		m.onFieldAccess(k, field)
	}, func() {
		m.onDispose(k)
	})
	m.entries[k] = newSubscriptionState(cell)
	return cell
}

// RecordSnapshot describes one tracked record's subscription state, for
// debug introspection (spec §9 "debug introspection").
type RecordSnapshot struct {
	Entity       string
	ID           string
	Fields       []string
	FullRefs     int
	FieldRefs    map[string]int
}

// Snapshot returns a point-in-time view of every tracked record, sorted
// by entity then id, for rendering a debug tree.
func (m *Multiplexer) Snapshot() []RecordSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RecordSnapshot, 0, len(m.entries))
	for k, entry := range m.entries {
		fieldRefs := make(map[string]int, len(entry.fieldRefs))
		fields := make([]string, 0, len(entry.fieldRefs))
		for f, n := range entry.fieldRefs {
			fieldRefs[f] = n
			fields = append(fields, f)
		}
		sort.Strings(fields)
		out = append(out, RecordSnapshot{
			Entity: k.entity, ID: k.id, Fields: fields,
			FullRefs: entry.fullRefs, FieldRefs: fieldRefs,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Lookup returns the entity cell for (entity, id) without creating one.
func (m *Multiplexer) Lookup(entity, id string) (*lens.EntityCell, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key{entity, id}]
	if !ok {
		return nil, false
	}
	return entry.cell, true
}

// onFieldAccess is the EntityCell hook that discovers which fields a
// consumer actually read; a read through Field() implies at-least
// passive interest, so it retains a subscription the same as an explicit
// SubscribeField would (spec §4.2 "dynamic field access tracking").
func (m *Multiplexer) onFieldAccess(k key, field string) {
	m.mu.Lock()
	entry, ok := m.entries[k]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.retainField(field)
	m.dirty[k] = struct{}{}
	m.mu.Unlock()
}

func (m *Multiplexer) onDispose(k key) {
	m.mu.Lock()
	delete(m.entries, k)
	delete(m.dirty, k)
	m.mu.Unlock()
}

// SubscribeField retains an explicit interest in one field of a record,
// returning a Cleanup that releases it. Safe to call even if the field
// has never been read through the entity cell.
func (m *Multiplexer) SubscribeField(entity, id, field string) lens.Cleanup {
	k := key{entity, id}
	m.mu.Lock()
	entry, ok := m.entries[k]
	if !ok {
		m.mu.Unlock()
		return func() {}
	}
	entry.retainField(field)
	m.dirty[k] = struct{}{}
	m.mu.Unlock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		m.mu.Lock()
		if entry, ok := m.entries[k]; ok {
			entry.releaseField(field)
			m.dirty[k] = struct{}{}
		}
		m.mu.Unlock()
	}
}

// SubscribeFull retains an explicit interest in the whole record
// (every field, present and future), returning a Cleanup that releases
// it.
func (m *Multiplexer) SubscribeFull(entity, id string) lens.Cleanup {
	k := key{entity, id}
	m.mu.Lock()
	entry, ok := m.entries[k]
	if !ok {
		m.mu.Unlock()
		return func() {}
	}
	wasIdle := entry.fullRefs == 0
	entry.retainFull()
	if wasIdle {
		m.dirty[k] = struct{}{}
	}
	m.mu.Unlock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		m.mu.Lock()
		if entry, ok := m.entries[k]; ok {
			entry.releaseFull()
			m.dirty[k] = struct{}{}
		}
		m.mu.Unlock()
	}
}

// UnsubscribeAll sends an immediate wildcard unsubscribe for (entity, id)
// and removes its local subscription entry outright, bypassing the
// batching tick (spec §4.3 "unsubscribe-all ... sends 'unsubscribe *',
// removes the local entry"). After this call, no existing Cleanup for a
// prior Subscribe/SubscribeFull on this pair can revive the entry; a
// caller still holding one will simply no-op on release.
func (m *Multiplexer) UnsubscribeAll(entity, id string) {
	k := key{entity, id}

	m.mu.Lock()
	_, ok := m.entries[k]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.entries, k)
	delete(m.dirty, k)
	t := m.transport
	m.mu.Unlock()

	if t != nil {
		t.Unsubscribe(context.Background(), transport.UnsubscribeMessage{Entity: entity, ID: id, Fields: transport.AllFields()})
	}
}

// CanDerive reports whether field is already covered by a live
// subscription on (entity, id) — a whole-record subscription, or a
// positive ref count on that field itself — letting callers skip an
// otherwise redundant per-field query (spec §4.3).
func (m *Multiplexer) CanDerive(entity, id, field string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key{entity, id}]
	if !ok {
		return false
	}
	return entry.canDerive(field)
}

func (m *Multiplexer) applyServerUpdate(msg transport.UpdateMessage) {
	m.mu.Lock()
	entry, ok := m.entries[key{msg.Entity, msg.ID}]
	m.mu.Unlock()
	if !ok {
		return
	}

	fu := lens.FieldUpdate{
		Strategy: lens.UpdateStrategy(msg.Update.Strategy),
		Data:     msg.Update.Data,
		Ops:      convertOps(msg.Update.Ops),
	}
	if err := entry.cell.UpdateField(msg.Field, fu); err != nil {
		lens.DefaultLogger.Printf("multiplex: update for %s:%s dropped: %v", msg.Entity, msg.ID, err)
	}
}

func convertOps(ops []transport.DeltaOp) []lens.DeltaOp {
	out := make([]lens.DeltaOp, len(ops))
	for i, op := range ops {
		out[i] = lens.DeltaOp{Position: op.Position, Insert: op.Insert, Delete: op.Delete}
	}
	return out
}

// flush drains every dirty record's pending subscribe/unsubscribe sets
// into at most one field-list message per direction, plus a wildcard
// message per direction when the whole-record intent changed, and sends
// them over the transport if one is configured (spec §4.3 batching
// window).
func (m *Multiplexer) flush() {
	m.mu.Lock()
	if len(m.dirty) == 0 {
		m.mu.Unlock()
		return
	}
	dirty := m.dirty
	m.dirty = make(map[key]struct{})

	type send struct {
		k       key
		sub     []string
		uns     []string
		fullSub bool
		fullUns bool
	}
	var sends []send
	for k := range dirty {
		entry, ok := m.entries[k]
		if !ok {
			continue
		}
		if len(entry.pendingSubscribe) == 0 && len(entry.pendingUnsubscribe) == 0 &&
			!entry.pendingFullSubscribe && !entry.pendingFullUnsubscribe {
			continue
		}
		s := send{k: k, fullSub: entry.pendingFullSubscribe, fullUns: entry.pendingFullUnsubscribe}
		for f := range entry.pendingSubscribe {
			s.sub = append(s.sub, f)
		}
		for f := range entry.pendingUnsubscribe {
			s.uns = append(s.uns, f)
		}
		entry.pendingSubscribe = make(map[string]struct{})
		entry.pendingUnsubscribe = make(map[string]struct{})
		entry.pendingFullSubscribe = false
		entry.pendingFullUnsubscribe = false
		sends = append(sends, s)

		if entry.idle() {
			delete(m.entries, k)
		}
	}
	t := m.transport
	m.mu.Unlock()

	if t == nil {
		return
	}
	ctx := context.Background()
	for _, s := range sends {
		if s.fullSub {
			t.Subscribe(ctx, transport.SubscribeMessage{Entity: s.k.entity, ID: s.k.id, Fields: transport.AllFields()})
		}
		if len(s.sub) > 0 {
			t.Subscribe(ctx, transport.SubscribeMessage{Entity: s.k.entity, ID: s.k.id, Fields: transport.Fields(s.sub...)})
		}
		if s.fullUns {
			t.Unsubscribe(ctx, transport.UnsubscribeMessage{Entity: s.k.entity, ID: s.k.id, Fields: transport.AllFields()})
		}
		if len(s.uns) > 0 {
			t.Unsubscribe(ctx, transport.UnsubscribeMessage{Entity: s.k.entity, ID: s.k.id, Fields: transport.Fields(s.uns...)})
		}
	}
}
