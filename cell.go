package lens

import (
	"reflect"
	"sync"
)

// reactiveNode is the type-erased half of a Computed or an Effect: the
// part of it that can sit in another cell's dependent set and be told a
// dependency changed. Cell[T] itself only needs to hold these, never the
// generic Computed[T]/Effect types, which keeps the dependency graph
// representable without reflection.
type reactiveNode interface {
	onDependencyChanged()
}

// anyCell is the type-erased half of a Cell[T]: enough surface for the
// dependency-tracking frame to wire a reader up as a dependent without
// knowing the cell's value type.
type anyCell interface {
	addDependent(n reactiveNode)
	removeDependent(n reactiveNode)
}

// frame records the cells read while a Computed or Effect's reader runs,
// so that on completion the node can be subscribed to exactly the cells
// it actually touched.
type frame struct {
	deps map[anyCell]struct{}
}

var (
	trackMu    sync.Mutex
	frameStack []*frame

	batchMu      sync.Mutex
	batchDepth   int
	pendingNodes map[reactiveNode]struct{}
)

func pushFrame() *frame {
	trackMu.Lock()
	defer trackMu.Unlock()
	f := &frame{deps: make(map[anyCell]struct{})}
	frameStack = append(frameStack, f)
	return f
}

func popFrame() map[anyCell]struct{} {
	trackMu.Lock()
	defer trackMu.Unlock()
	n := len(frameStack)
	f := frameStack[n-1]
	frameStack = frameStack[:n-1]
	return f.deps
}

func track(c anyCell) {
	trackMu.Lock()
	defer trackMu.Unlock()
	if len(frameStack) == 0 {
		return
	}
	frameStack[len(frameStack)-1].deps[c] = struct{}{}
}

// Batch groups writes so that dependents recompute/re-run at most once,
// after fn returns, regardless of how many cells fn wrote to (spec §4.1).
// Batches may nest; only the outermost batch flushes.
func Batch(fn func()) {
	batchMu.Lock()
	batchDepth++
	if batchDepth == 1 {
		pendingNodes = make(map[reactiveNode]struct{})
	}
	batchMu.Unlock()

	fn()

	batchMu.Lock()
	batchDepth--
	var toFlush map[reactiveNode]struct{}
	if batchDepth == 0 {
		toFlush = pendingNodes
		pendingNodes = nil
	}
	batchMu.Unlock()

	for n := range toFlush {
		n.onDependencyChanged()
	}
}

func scheduleNotify(deps map[reactiveNode]struct{}) {
	batchMu.Lock()
	if batchDepth > 0 {
		for n := range deps {
			pendingNodes[n] = struct{}{}
		}
		batchMu.Unlock()
		return
	}
	batchMu.Unlock()

	for n := range deps {
		n.onDependencyChanged()
	}
}

// Cell is the reactive primitive (C1): an immutable-replaced value of
// type T plus a set of dependents notified on write. Reads taken while a
// Computed or Effect reader is active record this cell in that reader's
// dependency set.
type Cell[T any] struct {
	mu         sync.Mutex
	value      T
	revision   uint64
	dependents map[reactiveNode]struct{}
}

// NewCell creates a writable cell holding the given initial value.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, dependents: make(map[reactiveNode]struct{})}
}

// Read returns the cell's current value, recording a dependency if a
// Computed or Effect reader frame is active.
func (c *Cell[T]) Read() T {
	track(c)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Peek returns the current value without recording a dependency.
func (c *Cell[T]) Peek() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Revision returns the cell's current monotonic revision.
func (c *Cell[T]) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Write replaces the cell's value and schedules its dependents. A write
// that is deeply equal to the prior value is elided: the revision does
// not advance and no dependent is notified.
func (c *Cell[T]) Write(v T) {
	c.mu.Lock()
	if reflect.DeepEqual(any(c.value), any(v)) {
		c.mu.Unlock()
		return
	}
	c.value = v
	c.revision++
	deps := make(map[reactiveNode]struct{}, len(c.dependents))
	for n := range c.dependents {
		deps[n] = struct{}{}
	}
	c.mu.Unlock()

	scheduleNotify(deps)
}

// Update replaces the cell's value via a pure function of the prior value.
func (c *Cell[T]) Update(fn func(T) T) {
	c.mu.Lock()
	cur := c.value
	c.mu.Unlock()
	c.Write(fn(cur))
}

func (c *Cell[T]) addDependent(n reactiveNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dependents[n] = struct{}{}
}

func (c *Cell[T]) removeDependent(n reactiveNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dependents, n)
}

func (c *Cell[T]) hasDependents() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dependents) > 0
}

// rewireDeps subscribes node to every cell in next and unsubscribes it
// from every cell in prev that is absent from next, supporting readers
// whose dependency set changes across recomputations.
func rewireDeps(node reactiveNode, prev, next map[anyCell]struct{}) {
	for c := range next {
		c.addDependent(node)
	}
	for c := range prev {
		if _, still := next[c]; !still {
			c.removeDependent(node)
		}
	}
}

// Computed is a cell whose value is derived from a zero-argument reader.
// The result is cached; it is recomputed lazily, on the next Read, once
// any dependency has signaled a change.
type Computed[T any] struct {
	mu          sync.Mutex
	reader      func() T
	value       T
	valid       bool
	recomputing bool
	deps        map[anyCell]struct{}
	dependents  map[reactiveNode]struct{}
}

// NewComputed creates a computed cell. The reader is not invoked until
// the first Read.
func NewComputed[T any](reader func() T) *Computed[T] {
	return &Computed[T]{reader: reader, dependents: make(map[reactiveNode]struct{})}
}

// Read returns the computed's current value, recomputing first if stale.
func (c *Computed[T]) Read() T {
	track(c)

	c.mu.Lock()
	if c.valid {
		v := c.value
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	return c.recompute()
}

func (c *Computed[T]) recompute() T {
	c.mu.Lock()
	if c.recomputing {
		c.mu.Unlock()
		panic(&CyclicDependencyError{Detail: "computed cell read re-entrantly during its own recomputation"})
	}
	c.recomputing = true
	prevDeps := c.deps
	c.mu.Unlock()

	pushFrame()
	val := c.reader()
	newDeps := popFrame()

	rewireDeps(c, prevDeps, newDeps)

	c.mu.Lock()
	c.value = val
	c.valid = true
	c.recomputing = false
	c.deps = newDeps
	c.mu.Unlock()

	return val
}

// onDependencyChanged marks the computed stale and, if it was previously
// valid, cascades staleness to its own dependents without eagerly
// recomputing (recomputation happens lazily on the next Read).
func (c *Computed[T]) onDependencyChanged() {
	c.mu.Lock()
	wasValid := c.valid
	c.valid = false
	var deps map[reactiveNode]struct{}
	if wasValid {
		deps = make(map[reactiveNode]struct{}, len(c.dependents))
		for n := range c.dependents {
			deps[n] = struct{}{}
		}
	}
	c.mu.Unlock()

	if wasValid {
		scheduleNotify(deps)
	}
}

func (c *Computed[T]) addDependent(n reactiveNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dependents[n] = struct{}{}
}

func (c *Computed[T]) removeDependent(n reactiveNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dependents, n)
}

// Cleanup disposes an Effect. Calling it more than once is a safe no-op.
type Cleanup func()

// Effect runs a reader immediately and re-runs it whenever any cell it
// read last time changes, until disposed.
type Effect struct {
	mu       sync.Mutex
	reader   func()
	deps     map[anyCell]struct{}
	disposed bool
	// errored effects remain subscribed but do not re-arm until the next
	// dependency change triggers another attempt (spec §7).
	onError func(recovered any)
}

// NewEffect creates and immediately runs an effect. The returned Cleanup
// disposes it.
func NewEffect(reader func()) (*Effect, Cleanup) {
	return NewEffectWithRecover(reader, nil)
}

// NewEffectWithRecover is like NewEffect but lets the caller observe a
// panic recovered from the reader instead of losing it silently.
func NewEffectWithRecover(reader func(), onError func(recovered any)) (*Effect, Cleanup) {
	e := &Effect{reader: reader, onError: onError}
	e.run()
	return e, e.Dispose
}

func (e *Effect) run() {
	defer func() {
		if r := recover(); r != nil {
			if e.onError != nil {
				e.onError(r)
			}
		}
	}()

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	prevDeps := e.deps
	e.mu.Unlock()

	pushFrame()
	e.reader()
	newDeps := popFrame()

	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		// Disposed mid-run: drop the new subscriptions immediately.
		for c := range newDeps {
			c.removeDependent(e)
		}
		return
	}

	rewireDeps(e, prevDeps, newDeps)
	e.mu.Lock()
	e.deps = newDeps
	e.mu.Unlock()
}

// onDependencyChanged re-runs the effect's reader eagerly.
func (e *Effect) onDependencyChanged() {
	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return
	}
	e.run()
}

// Dispose removes the effect from every cell it depends on. Idempotent.
func (e *Effect) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	deps := e.deps
	e.deps = nil
	e.mu.Unlock()

	for c := range deps {
		c.removeDependent(e)
	}
}
