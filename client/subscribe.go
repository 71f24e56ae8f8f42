package client

import (
	"context"

	"github.com/sylphxai/lens-go"
	"github.com/sylphxai/lens-go/transport"
)

// Subscribe retains an explicit interest in one field of (entity, id)
// for as long as the returned Cleanup is not called, resolving the field
// through Query first (which fetches unless a live subscription already
// covers the field). It returns the field's
// reactive cell directly so a caller can Read or build an Effect over
// it.
func (c *Client) Subscribe(ctx context.Context, entity, id, field string) (*lens.Cell[any], lens.Cleanup, error) {
	cell, err := c.Query(ctx, entity, id, transport.Fields(field))
	if err != nil {
		return nil, nil, err
	}
	release := c.mux.SubscribeField(entity, id, field)
	return cell.Field(field), release, nil
}

// SubscribeAll is like Subscribe but retains interest in every field of
// the record, present and future.
func (c *Client) SubscribeAll(ctx context.Context, entity, id string) (*lens.EntityCell, lens.Cleanup, error) {
	cell, err := c.Query(ctx, entity, id, transport.AllFields())
	if err != nil {
		return nil, nil, err
	}
	release := c.mux.SubscribeFull(entity, id)
	return cell, release, nil
}

// QueryList resolves a list query directly through the planner, bypassing
// the link chain: list results are not cached or retried individually,
// since list-shaped queries already return a handle per item.
func (c *Client) QueryList(ctx context.Context, entity string, options any) ([]*lens.EntityCell, error) {
	return c.planner.QueryList(ctx, entity, options)
}

// QueryMany resolves several independent (entity, id) lookups, batching
// them into one transport call when the underlying transport supports
// it.
func (c *Client) QueryMany(ctx context.Context, requests []transport.FetchRequest) ([]*lens.EntityCell, error) {
	return c.planner.QueryMany(ctx, requests)
}
