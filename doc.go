// Package lens implements the reactive client core of a type-safe API
// framework: field-granular reactivity (Cell, Computed, Effect, Batch),
// entity cells with per-field subscriptions (EntityCell), the operation
// executor's link chain and hybrid promise/observable Result, and a
// plugin host for cross-cutting lifecycle hooks.
//
// # Reactive primitives
//
// Cells hold a value and track readers:
//
//	name := lens.NewCell("Ada")
//	greeting := lens.NewComputed(func() string {
//	    return "Hello, " + name.Read()
//	})
//
//	_, dispose := lens.NewEffect(func() {
//	    fmt.Println(greeting.Read())
//	})
//	defer dispose()
//
//	name.Write("Grace") // re-runs the effect, recomputes greeting lazily
//
// Group writes so dependents settle once:
//
//	lens.Batch(func() {
//	    name.Write("A")
//	    name.Write("B")
//	})
//
// # Entity cells
//
// An EntityCell exposes one Cell per field plus an aggregate computed
// snapshot, and notifies a caller-supplied callback the first time each
// field is read — the hook a subscription multiplexer uses to lazily
// subscribe only to fields actually consumed:
//
//	entity := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada"},
//	    func(field string) { /* subscribe */ },
//	    func() { /* unsubscribe all */ },
//	)
//	entity.Field("name").Read()
//
// # Operation executor
//
// Links compose around a terminal transport call and return a hybrid
// awaitable/observable Result:
//
//	dispatch := lens.ComposeLinks(links, terminal)
//	result := dispatch(lens.NewOperationContext(ctx, lens.KindQuery, "User", "get", args, nil))
//	data, err := result.AwaitResult(ctx)
//
// # Plugins
//
// A PluginHost resolves dependency order at registration time and
// dispatches lifecycle hooks, isolating one plugin's failure from the
// rest:
//
//	host := lens.NewPluginHost(nil)
//	host.Register(myPlugin, nil)
//	host.Init()
//
// See the multiplex, query, optimistic, links, transport, and client
// subpackages for the subscription multiplexer (C3), query planner (C4),
// optimistic mutation engine (C5), default links, transport contracts,
// and the facade that wires all seven components together.
package lens
