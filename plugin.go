package lens

import (
	"fmt"
	"log"
	"sync"
)

// Plugin describes a registrable unit of cross-cutting behavior (spec
// §4.7), modeled directly on the teacher's Extension but scoped to the
// reactive core's own lifecycle events instead of a DI scope's.
type Plugin interface {
	Name() string
	Version() string
	// Dependencies lists plugin names that must already be registered.
	Dependencies() []string
	// DefaultConfig returns the configuration merged with whatever the
	// caller supplies at registration time (nil config if none).
	DefaultConfig() any
	// Factory builds the plugin instance from merged configuration.
	Factory(config any) (PluginInstance, error)
}

// PluginInstance may implement any of the optional hook interfaces
// below; a plugin that implements none of them is valid (e.g. a
// pure-API plugin).
type PluginInstance interface {
	// API returns the plugin's public surface, or nil if it has none.
	API() any
}

// QueryHooks brackets query execution.
type QueryHooks interface {
	OnBeforeQuery(ctx *OperationContext)
	OnAfterQuery(ctx *OperationContext, result *Result)
}

// MutationHooks brackets mutation execution.
type MutationHooks interface {
	OnBeforeMutation(ctx *OperationContext)
	OnAfterMutation(ctx *OperationContext, result *Result)
	OnMutationError(ctx *OperationContext, err *OpError)
}

// TransportHooks observes the transport's connection lifecycle.
type TransportHooks interface {
	OnConnect()
	OnDisconnect(err error)
	OnReconnect()
}

// Destroyable is implemented by plugins with resources to release.
type Destroyable interface {
	Destroy() error
}

// Logger is the ambient logging surface used by the plugin host and the
// default links (grounded on the teacher's plain fmt.Printf logging in
// extensions/logging.go — the pack has no third-party structured logger
// whose concern is "print a line", so this stays on the standard
// library, same as the teacher does).
type Logger interface {
	Printf(format string, args ...any)
}

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...any) { log.Printf(format, args...) }

// DefaultLogger is a Logger backed by the standard library's log package.
var DefaultLogger Logger = stdLogger{}

type registeredPlugin struct {
	name     string
	plugin   Plugin
	config   any
	instance PluginInstance
}

// PluginHost registers plugins, resolves their declared dependencies,
// dispatches lifecycle hooks in registration order, and exposes each
// plugin's API surface by name.
type PluginHost struct {
	mu          sync.Mutex
	logger      Logger
	order       []*registeredPlugin
	byName      map[string]*registeredPlugin
	initialized bool
}

// NewPluginHost creates an empty plugin host.
func NewPluginHost(logger Logger) *PluginHost {
	if logger == nil {
		logger = DefaultLogger
	}
	return &PluginHost{logger: logger, byName: make(map[string]*registeredPlugin)}
}

// Register adds a plugin with its configuration. Duplicate names are
// rejected with a logged warning and otherwise ignored (no error).
// Missing declared dependencies are a fatal registration error. If the
// host has already been initialized, the new plugin is initialized
// immediately.
func (h *PluginHost) Register(plugin Plugin, config any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := plugin.Name()
	if _, exists := h.byName[name]; exists {
		h.logger.Printf("lens: plugin %q already registered, ignoring duplicate", name)
		return nil
	}

	for _, dep := range plugin.Dependencies() {
		if _, ok := h.byName[dep]; !ok {
			return fmt.Errorf("lens: plugin %q depends on unregistered plugin %q", name, dep)
		}
	}

	merged := mergeConfig(plugin.DefaultConfig(), config)
	rp := &registeredPlugin{name: name, plugin: plugin, config: merged}
	h.byName[name] = rp
	h.order = append(h.order, rp)

	if h.initialized {
		instance, err := plugin.Factory(merged)
		if err != nil {
			return fmt.Errorf("lens: initializing plugin %q: %w", name, err)
		}
		rp.instance = instance
	}
	return nil
}

// mergeConfig overlays override on top of defaultCfg when both are
// map[string]any; otherwise a non-nil override wins outright.
func mergeConfig(defaultCfg, override any) any {
	if override == nil {
		return defaultCfg
	}
	dm, dOk := defaultCfg.(map[string]any)
	om, oOk := override.(map[string]any)
	if !dOk || !oOk {
		return override
	}
	merged := make(map[string]any, len(dm)+len(om))
	for k, v := range dm {
		merged[k] = v
	}
	for k, v := range om {
		merged[k] = v
	}
	return merged
}

// Init runs every pending plugin's factory in registration order. Safe
// to call more than once; already-initialized plugins are skipped.
func (h *PluginHost) Init() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, rp := range h.order {
		if rp.instance != nil {
			continue
		}
		instance, err := rp.plugin.Factory(rp.config)
		if err != nil {
			return fmt.Errorf("lens: initializing plugin %q: %w", rp.name, err)
		}
		rp.instance = instance
	}
	h.initialized = true
	return nil
}

// API returns the named plugin's public surface, or nil if absent or not
// yet initialized.
func (h *PluginHost) API(name string) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	rp, ok := h.byName[name]
	if !ok || rp.instance == nil {
		return nil
	}
	return rp.instance.API()
}

// instances returns a snapshot of initialized instances in registration
// order, for dispatching hooks without holding the host's lock.
func (h *PluginHost) instances() []PluginInstance {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PluginInstance, 0, len(h.order))
	for _, rp := range h.order {
		if rp.instance != nil {
			out = append(out, rp.instance)
		}
	}
	return out
}

// dispatch runs fn against every initialized plugin instance in
// registration order, recovering and logging any panic or error so that
// one plugin's failure never prevents later plugins from running.
func (h *PluginHost) dispatch(label string, fn func(PluginInstance) error) {
	for _, inst := range h.instances() {
		h.safeCall(label, inst, fn)
	}
}

func (h *PluginHost) safeCall(label string, inst PluginInstance, fn func(PluginInstance) error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("lens: plugin hook %s panicked: %v", label, r)
		}
	}()
	if err := fn(inst); err != nil {
		h.logger.Printf("lens: plugin hook %s returned error: %v", label, err)
	}
}

// DispatchBeforeQuery fires OnBeforeQuery on every plugin implementing QueryHooks.
func (h *PluginHost) DispatchBeforeQuery(ctx *OperationContext) {
	h.dispatch("OnBeforeQuery", func(p PluginInstance) error {
		if hooks, ok := p.(QueryHooks); ok {
			hooks.OnBeforeQuery(ctx)
		}
		return nil
	})
}

// DispatchAfterQuery fires OnAfterQuery on every plugin implementing QueryHooks.
func (h *PluginHost) DispatchAfterQuery(ctx *OperationContext, result *Result) {
	h.dispatch("OnAfterQuery", func(p PluginInstance) error {
		if hooks, ok := p.(QueryHooks); ok {
			hooks.OnAfterQuery(ctx, result)
		}
		return nil
	})
}

// DispatchBeforeMutation fires OnBeforeMutation on every plugin implementing MutationHooks.
func (h *PluginHost) DispatchBeforeMutation(ctx *OperationContext) {
	h.dispatch("OnBeforeMutation", func(p PluginInstance) error {
		if hooks, ok := p.(MutationHooks); ok {
			hooks.OnBeforeMutation(ctx)
		}
		return nil
	})
}

// DispatchAfterMutation fires OnAfterMutation on every plugin implementing MutationHooks.
func (h *PluginHost) DispatchAfterMutation(ctx *OperationContext, result *Result) {
	h.dispatch("OnAfterMutation", func(p PluginInstance) error {
		if hooks, ok := p.(MutationHooks); ok {
			hooks.OnAfterMutation(ctx, result)
		}
		return nil
	})
}

// DispatchMutationError fires OnMutationError on every plugin implementing MutationHooks.
func (h *PluginHost) DispatchMutationError(ctx *OperationContext, err *OpError) {
	h.dispatch("OnMutationError", func(p PluginInstance) error {
		if hooks, ok := p.(MutationHooks); ok {
			hooks.OnMutationError(ctx, err)
		}
		return nil
	})
}

// DispatchConnect/Disconnect/Reconnect fire the transport lifecycle hooks.
func (h *PluginHost) DispatchConnect() {
	h.dispatch("OnConnect", func(p PluginInstance) error {
		if hooks, ok := p.(TransportHooks); ok {
			hooks.OnConnect()
		}
		return nil
	})
}

func (h *PluginHost) DispatchDisconnect(err error) {
	h.dispatch("OnDisconnect", func(p PluginInstance) error {
		if hooks, ok := p.(TransportHooks); ok {
			hooks.OnDisconnect(err)
		}
		return nil
	})
}

func (h *PluginHost) DispatchReconnect() {
	h.dispatch("OnReconnect", func(p PluginInstance) error {
		if hooks, ok := p.(TransportHooks); ok {
			hooks.OnReconnect()
		}
		return nil
	})
}

// Destroy calls Destroy on every plugin implementing Destroyable, in
// reverse registration order (mirrors the teacher's reverse-order
// cleanup in scope.go's Dispose).
func (h *PluginHost) Destroy() error {
	instances := h.instances()
	var firstErr error
	for i := len(instances) - 1; i >= 0; i-- {
		if d, ok := instances[i].(Destroyable); ok {
			if err := d.Destroy(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Names returns registered plugin names in registration order.
func (h *PluginHost) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.order))
	for i, rp := range h.order {
		out[i] = rp.name
	}
	return out
}
