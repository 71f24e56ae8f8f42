// Package memory implements an in-process reference transport.Transport,
// used by the core's own test suite to exercise the multiplexer and
// planner end to end without a real network, and usable as a fixture in
// a consumer's unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sylphxai/lens-go/transport"
)

// Store is an in-memory record database keyed by (entity, id).
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]map[string]any // entity -> id -> fields
	fetches int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]map[string]map[string]any)}
}

// Put seeds or replaces a record.
func (s *Store) Put(entity, id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[entity] == nil {
		s.records[entity] = make(map[string]map[string]any)
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.records[entity][id] = cp
}

// FetchCount returns how many Fetch/FetchList/BatchFetch calls have been
// made, for dedup assertions in tests (spec §8 S1/S2).
func (s *Store) FetchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}

// Transport is a transport.Transport + transport.SubscriptionTransport
// backed by a Store, with optional batch support and an injectable
// per-fetch delay for concurrency tests.
type Transport struct {
	store       *Store
	handler     transport.UpdateHandler
	handlerMu   sync.Mutex
	batchable   bool
	beforeFetch func()
	failMutate  error
}

// NewTransport wraps store. batchable controls whether BatchFetch
// succeeds: the method is always present, so a transport.BatchCapable
// assertion always holds, and with batchable false BatchFetch returns an
// error.
func NewTransport(store *Store, batchable bool) *Transport {
	return &Transport{store: store, batchable: batchable}
}

// SetBeforeFetch installs a hook run synchronously before each Fetch,
// letting tests simulate network latency to provoke concurrent dedup.
func (t *Transport) SetBeforeFetch(fn func()) { t.beforeFetch = fn }

// FetchCount returns the wrapped store's fetch count.
func (t *Transport) FetchCount() int { return t.store.FetchCount() }

// FailNextMutate makes the next Mutate call return err instead of
// touching the store, then clears itself — letting a test provoke an
// optimistic rollback deterministically.
func (t *Transport) FailNextMutate(err error) { t.failMutate = err }

func (t *Transport) Fetch(ctx context.Context, entity, id string, fields transport.FieldSet) (map[string]any, error) {
	if t.beforeFetch != nil {
		t.beforeFetch()
	}
	t.store.mu.Lock()
	t.store.fetches++
	t.store.mu.Unlock()

	t.store.mu.RLock()
	byID := t.store.records[entity]
	rec, ok := byID[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory transport: no record for %s:%s", entity, id)
	}
	return selectFields(rec, fields), nil
}

func (t *Transport) FetchList(ctx context.Context, entity string, options any) ([]map[string]any, error) {
	t.store.mu.Lock()
	t.store.fetches++
	t.store.mu.Unlock()

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	byID := t.store.records[entity]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		cp := make(map[string]any, len(byID[id])+1)
		for k, v := range byID[id] {
			cp[k] = v
		}
		cp["id"] = id
		out = append(out, cp)
	}
	return out, nil
}

func (t *Transport) BatchFetch(ctx context.Context, requests []transport.FetchRequest) ([]map[string]any, error) {
	if !t.batchable {
		return nil, fmt.Errorf("memory transport: batch fetch not enabled")
	}
	t.store.mu.Lock()
	t.store.fetches++
	t.store.mu.Unlock()

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make([]map[string]any, len(requests))
	for i, req := range requests {
		rec, ok := t.store.records[req.Entity][req.ID]
		if !ok {
			out[i] = nil
			continue
		}
		out[i] = selectFields(rec, req.Fields)
	}
	return out, nil
}

func (t *Transport) Mutate(ctx context.Context, req transport.MutateRequest) (map[string]any, error) {
	if t.failMutate != nil {
		err := t.failMutate
		t.failMutate = nil
		return nil, err
	}

	args, _ := req.Args.(map[string]any)
	id, _ := args["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("memory transport: mutation args missing id")
	}

	switch req.Op {
	case "delete":
		t.store.mu.Lock()
		delete(t.store.records[req.Entity], id)
		t.store.mu.Unlock()
		return nil, nil
	default:
		t.store.Put(req.Entity, id, args)
		t.store.mu.RLock()
		rec := t.store.records[req.Entity][id]
		t.store.mu.RUnlock()
		return rec, nil
	}
}

func (t *Transport) OnUpdate(handler transport.UpdateHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = handler
}

// Subscribe is a no-op bookkeeping point; tests push updates directly via
// Push to simulate the server deciding what to forward.
func (t *Transport) Subscribe(ctx context.Context, msg transport.SubscribeMessage) {}

func (t *Transport) Unsubscribe(ctx context.Context, msg transport.UnsubscribeMessage) {}

// Push delivers an update message to the registered handler, simulating
// a server push. It is a no-op if nothing is registered yet.
func (t *Transport) Push(msg transport.UpdateMessage) {
	t.handlerMu.Lock()
	h := t.handler
	t.handlerMu.Unlock()
	if h != nil {
		h(msg)
	}
}

func selectFields(rec map[string]any, fields transport.FieldSet) map[string]any {
	if fields.Wildcard || len(fields.Fields) == 0 {
		out := make(map[string]any, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(fields.Fields))
	for _, f := range fields.Fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
