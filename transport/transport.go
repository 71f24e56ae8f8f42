// Package transport declares the external transport contracts consumed
// by the reactive core (spec §6). The core treats the transport layer as
// an out-of-scope collaborator: it only depends on these interfaces.
package transport

import "context"

// FieldSet is either an explicit list of field names or the wildcard
// "all fields" subscription.
type FieldSet struct {
	Fields   []string
	Wildcard bool
}

// AllFields is the "*" field set.
func AllFields() FieldSet { return FieldSet{Wildcard: true} }

// Fields builds an explicit field set.
func Fields(names ...string) FieldSet { return FieldSet{Fields: names} }

// SubscribeMessage is the outgoing {type:"subscribe", ...} wire shape.
type SubscribeMessage struct {
	Entity string
	ID     string
	Fields FieldSet
}

// UnsubscribeMessage is the outgoing {type:"unsubscribe", ...} wire shape.
type UnsubscribeMessage struct {
	Entity string
	ID     string
	Fields FieldSet
}

// UpdateStrategy mirrors lens.UpdateStrategy without importing the root
// package, keeping transport a leaf with no dependency on the core.
type UpdateStrategy string

const (
	StrategyValue UpdateStrategy = "value"
	StrategyDelta UpdateStrategy = "delta"
)

// DeltaOp is one string-splice edit (spec §6 "Field-delta format").
type DeltaOp struct {
	Position int
	Insert   string
	Delete   int
}

// FieldUpdate is the payload of an incoming update message.
type FieldUpdate struct {
	Strategy UpdateStrategy
	Data     any
	Ops      []DeltaOp
}

// UpdateMessage is the incoming {type:"update", ...} wire shape.
type UpdateMessage struct {
	Entity string
	ID     string
	Field  string
	Update FieldUpdate
}

// UpdateHandler is the single callback the transport delivers incoming
// updates to. Implementations MUST preserve ordering per (entity, id,
// field).
type UpdateHandler func(UpdateMessage)

// SubscriptionTransport is the subscription half of the transport
// contract (spec §6).
type SubscriptionTransport interface {
	// Subscribe and Unsubscribe each dispatch one intent. Fire and
	// forget from the caller's perspective: delivery failures are not
	// surfaced here (spec §4.3 failure semantics).
	Subscribe(ctx context.Context, msg SubscribeMessage)
	Unsubscribe(ctx context.Context, msg UnsubscribeMessage)
	// OnUpdate registers the single callback for incoming updates.
	OnUpdate(handler UpdateHandler)
}

// FetchRequest identifies a single entity fetch, optionally restricted
// to a field set.
type FetchRequest struct {
	Entity string
	ID     string
	Fields FieldSet
}

// RequestTransport is the request/response half of the transport
// contract (spec §6). BatchFetch is optional — callers detect support
// via the BatchCapable interface below.
type RequestTransport interface {
	Fetch(ctx context.Context, entity, id string, fields FieldSet) (map[string]any, error)
	FetchList(ctx context.Context, entity string, options any) ([]map[string]any, error)
}

// BatchCapable is implemented by transports that advertise a bulk fetch
// primitive. A nil entry in the returned slice means that request missed.
type BatchCapable interface {
	BatchFetch(ctx context.Context, requests []FetchRequest) ([]map[string]any, error)
}

// MutateRequest carries a validated mutation call.
type MutateRequest struct {
	Entity string
	Op     string
	Args   any
}

// MutationTransport executes the server-side half of a mutation. Delete
// mutations may return a nil record (spec §6 "Mutation wire contract").
type MutationTransport interface {
	Mutate(ctx context.Context, req MutateRequest) (map[string]any, error)
}

// Transport bundles the request and mutation contracts. The subscription
// half is not part of it: a consumer that subscribes supplies a
// SubscriptionTransport separately (client.WithSubscriptionTransport).
type Transport interface {
	RequestTransport
	MutationTransport
}
