// Package client is the reactive client core's public facade: it wires
// the multiplexer, query planner, optimistic engine, plugin host, and
// operation-executor link chain into a single entry point, the way the
// teacher's scope.go wires extensions and executors into one Scope.
package client

import (
	"context"
	"fmt"

	"github.com/sylphxai/lens-go"
	"github.com/sylphxai/lens-go/internal/graphviz"
	"github.com/sylphxai/lens-go/multiplex"
	"github.com/sylphxai/lens-go/optimistic"
	"github.com/sylphxai/lens-go/query"
	"github.com/sylphxai/lens-go/transport"
)

// Client is the facade a consumer builds once and shares across its
// entity reads, subscriptions, and mutations.
type Client struct {
	transport transport.Transport
	mux       *multiplex.Multiplexer
	planner   *query.Planner
	optimism  *optimistic.Engine
	plugins   *lens.PluginHost
	dispatch  lens.Next
	logger    lens.Logger
}

// Option configures a Client at construction time (spec's ambient
// "functional options" configuration convention).
type Option func(*settings)

type settings struct {
	subTransport transport.SubscriptionTransport
	links        []lens.Link
	logger       lens.Logger
	plugins      []pluginRegistration
}

type pluginRegistration struct {
	plugin lens.Plugin
	config any
}

// WithSubscriptionTransport supplies the transport half used for live
// field updates. Omit it for a client that only ever queries and
// mutates.
func WithSubscriptionTransport(t transport.SubscriptionTransport) Option {
	return func(s *settings) { s.subTransport = t }
}

// WithLinks sets the operation-executor link chain, applied left to
// right around the built-in query/mutation terminal (spec §4.6).
func WithLinks(links ...lens.Link) Option {
	return func(s *settings) { s.links = links }
}

// WithLogger overrides the plugin host's logger.
func WithLogger(logger lens.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithPlugin registers a plugin at construction time, ahead of the
// host's initialization (spec §4.7).
func WithPlugin(plugin lens.Plugin, config any) Option {
	return func(s *settings) { s.plugins = append(s.plugins, pluginRegistration{plugin, config}) }
}

// New builds a Client over t, applying opts in order.
func New(t transport.Transport, opts ...Option) (*Client, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	mux := multiplex.New(s.subTransport)
	planner := query.New(mux, t)
	optimism := optimistic.New()
	plugins := lens.NewPluginHost(s.logger)

	for _, reg := range s.plugins {
		if err := plugins.Register(reg.plugin, reg.config); err != nil {
			mux.Destroy()
			return nil, fmt.Errorf("client: registering plugin %q: %w", reg.plugin.Name(), err)
		}
	}
	if err := plugins.Init(); err != nil {
		mux.Destroy()
		return nil, fmt.Errorf("client: initializing plugins: %w", err)
	}

	c := &Client{
		transport: t,
		mux:       mux,
		planner:   planner,
		optimism:  optimism,
		plugins:   plugins,
		logger:    s.logger,
	}
	c.dispatch = lens.ComposeLinks(s.links, c.terminal)
	return c, nil
}

// Plugins exposes the plugin host so a caller can read plugin APIs.
func (c *Client) Plugins() *lens.PluginHost { return c.plugins }

// Multiplexer exposes the subscription multiplexer for advanced callers
// (tests, debug tooling) that need direct subscribe/unsubscribe control.
func (c *Client) Multiplexer() *multiplex.Multiplexer { return c.mux }

// DebugTree renders the live subscription table as a tree, grounded on
// the teacher's dependency-graph debug extension (spec §9 "debug
// introspection").
func (c *Client) DebugTree() string {
	return graphviz.Render(c.mux)
}

// Destroy releases the client's background resources (the multiplexer's
// batching ticker and every registered plugin).
func (c *Client) Destroy() {
	c.mux.Destroy()
	c.plugins.Destroy()
}

// terminal is the innermost lens.Next: it dispatches to the query or
// mutation implementation based on the operation's kind, the base case
// every configured link eventually calls into.
func (c *Client) terminal(ctx *lens.OperationContext) *lens.Result {
	switch ctx.Kind {
	case lens.KindQuery:
		return c.runQuery(ctx)
	case lens.KindMutation:
		return c.runMutation(ctx)
	default:
		result := lens.NewResult()
		result.Resolve(nil, lens.InternalError("unsupported-kind", fmt.Errorf("unsupported operation kind %q", ctx.Kind)))
		return result
	}
}

type queryArgs struct {
	ID     string
	Fields transport.FieldSet
}

// Query resolves one entity's record through the full link chain
// (logging, caching, retry, tracing — whatever was configured),
// returning the shared entity cell plugins and readers observe, or a
// derived view of it when an explicit field list is already covered by a
// live subscription.
func (c *Client) Query(ctx context.Context, entity, id string, fields transport.FieldSet) (*lens.EntityCell, error) {
	opCtx := lens.NewOperationContext(ctx, lens.KindQuery, entity, "get", queryArgs{ID: id, Fields: fields}, fields.Fields)

	c.plugins.DispatchBeforeQuery(opCtx)
	result := c.dispatch(opCtx)
	c.plugins.DispatchAfterQuery(opCtx, result)

	v, err := result.AwaitResult(ctx)
	if err != nil {
		return nil, err
	}
	cell, _ := v.(*lens.EntityCell)
	return cell, nil
}

func (c *Client) runQuery(ctx *lens.OperationContext) *lens.Result {
	result := lens.NewResult()
	args, _ := ctx.Args.(queryArgs)
	cell, err := c.planner.Query(ctx.Ctx, ctx.Entity, args.ID, args.Fields)
	if err != nil {
		result.Resolve(nil, lens.TransportError(err))
		return result
	}
	result.Resolve(cell, nil)
	return result
}

type mutationArgs struct {
	ID    string
	Patch map[string]any
}

// deleteOp is the mutation kind that installs a tombstone instead of
// writing a field patch (spec §4.5).
const deleteOp = "delete"

// Mutate applies patch optimistically to the entity's cell (creating a
// speculative cell when the record is not tracked yet, or installing a
// tombstone for a "delete"), dispatches the mutation through the link chain, and
// confirms or rolls back the optimistic entry against the server's
// result (spec §4.4, §4.6).
func (c *Client) Mutate(ctx context.Context, entity, id, op string, patch map[string]any) (*lens.Result, error) {
	opCtx := lens.NewOperationContext(ctx, lens.KindMutation, entity, op, mutationArgs{ID: id, Patch: patch}, nil)

	c.plugins.DispatchBeforeMutation(opCtx)
	result := c.dispatch(opCtx)
	c.plugins.DispatchAfterMutation(opCtx, result)

	_, err := result.AwaitResult(ctx)
	if err != nil {
		if opErr, ok := err.(*lens.OpError); ok {
			c.plugins.DispatchMutationError(opCtx, opErr)
		}
		return result, err
	}
	return result, nil
}

func (c *Client) runMutation(ctx *lens.OperationContext) *lens.Result {
	result := lens.NewResult()
	args, _ := ctx.Args.(mutationArgs)

	cell, hadCell := c.mux.Lookup(ctx.Entity, args.ID)
	var entryID string
	switch {
	case ctx.Op == deleteOp && hadCell:
		// A delete installs a tombstone field rather than writing the
		// caller's patch; rollback restores the entity to its full
		// pre-delete snapshot (spec §4.5 delete operation kind).
		entryID = c.optimism.ApplyDelete(ctx.Entity, args.ID, cell).ID
	case hadCell && len(args.Patch) > 0:
		entryID = c.optimism.Apply(ctx.Entity, args.ID, cell, args.Patch).ID
	case !hadCell && len(args.Patch) > 0:
		// No local cell yet: this mutation is speculatively creating the
		// record. Roll back by disposing the cell outright if the
		// transport call fails (spec §4.5 "create with no prior
		// snapshot").
		entryID = c.optimism.ApplyCreate(ctx.Entity, args.ID, func() *lens.EntityCell {
			return c.mux.GetOrCreate(ctx.Entity, args.ID, nil)
		}, args.Patch).ID
		cell, _ = c.mux.Lookup(ctx.Entity, args.ID)
		hadCell = true
	}

	mutateArgs := make(map[string]any, len(args.Patch)+1)
	for k, v := range args.Patch {
		mutateArgs[k] = v
	}
	mutateArgs["id"] = args.ID

	server, err := c.transport.Mutate(ctx.Ctx, transport.MutateRequest{Entity: ctx.Entity, Op: ctx.Op, Args: mutateArgs})
	if err != nil {
		if entryID != "" {
			c.optimism.Rollback(entryID)
		}
		result.Resolve(nil, lens.TransportError(err))
		return result
	}

	switch {
	case entryID != "" && ctx.Op == deleteOp:
		c.optimism.ConfirmDelete(entryID)
	case entryID != "":
		c.optimism.Confirm(entryID, server)
	case hadCell:
		cell.SetFields(server)
	case server != nil:
		c.mux.GetOrCreate(ctx.Entity, args.ID, server)
	}

	result.Resolve(server, nil)
	return result
}
