package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sylphxai/lens-go"
	"github.com/sylphxai/lens-go/multiplex"
	"github.com/sylphxai/lens-go/transport"
)

// Planner is the query half of the operation pipeline (C4). It consults
// the multiplexer to avoid a redundant fetch when an existing
// subscription already covers the requested fields, and otherwise
// collapses concurrent identical fetches into one transport call via
// golang.org/x/sync/singleflight.
type Planner struct {
	mux *multiplex.Multiplexer
	rt  transport.RequestTransport

	group singleflight.Group
}

// New creates a planner over mux, issuing fetches through rt.
func New(mux *multiplex.Multiplexer, rt transport.RequestTransport) *Planner {
	return &Planner{mux: mux, rt: rt}
}

// Query resolves (entity, id, fields). If every requested field is
// already derivable from a live subscription on the record, no
// transport call is made at all (spec §4.3 "derive from existing
// subscriptions"): a wildcard request gets the shared entity cell, and
// an explicit field list gets a derived view restricted to those fields.
// Otherwise concurrent callers asking for the same (entity, id, fields)
// share a single in-flight fetch, and the shared entity cell is
// returned.
func (p *Planner) Query(ctx context.Context, entity, id string, fields transport.FieldSet) (*lens.EntityCell, error) {
	if cell, ok := p.mux.Lookup(entity, id); ok && p.isDerivable(entity, id, fields) {
		if fields.Wildcard {
			return cell, nil
		}
		return lens.NewDerivedView(cell, fields.Fields), nil
	}

	key := FieldSetKey(entity, id, fields)
	v, err, _ := p.group.Do(key, func() (any, error) {
		return p.rt.Fetch(ctx, entity, id, fields)
	})
	if err != nil {
		return nil, fmt.Errorf("query: fetch %s:%s: %w", entity, id, err)
	}

	data, _ := v.(map[string]any)
	cell, existed := p.mux.Lookup(entity, id)
	if !existed {
		cell = p.mux.GetOrCreate(entity, id, data)
	} else {
		cell.SetFields(data)
	}
	return cell, nil
}

// isDerivable reports whether every field named in fields is already
// covered by a live subscription (the whole-record one, or the field's
// own), so Query can skip issuing a new fetch entirely.
func (p *Planner) isDerivable(entity, id string, fields transport.FieldSet) bool {
	if fields.Wildcard {
		return p.mux.CanDerive(entity, id, "*")
	}
	for _, f := range fields.Fields {
		if !p.mux.CanDerive(entity, id, f) {
			return false
		}
	}
	return len(fields.Fields) > 0
}

// QueryList resolves a list query, populating one entity cell per
// returned record. It is never deduplicated against a single-record
// Query: list results can go stale independently of any one member.
func (p *Planner) QueryList(ctx context.Context, entity string, options any) ([]*lens.EntityCell, error) {
	records, err := p.rt.FetchList(ctx, entity, options)
	if err != nil {
		return nil, fmt.Errorf("query: fetch list %s: %w", entity, err)
	}

	cells := make([]*lens.EntityCell, len(records))
	for i, rec := range records {
		id, _ := rec["id"].(string)
		cell, existed := p.mux.Lookup(entity, id)
		if !existed {
			cell = p.mux.GetOrCreate(entity, id, rec)
		} else {
			cell.SetFields(rec)
		}
		cells[i] = cell
	}
	return cells, nil
}

// QueryMany resolves several independent (entity, id) requests
// concurrently. When rt implements transport.BatchCapable, all requests
// are folded into a single BatchFetch call; otherwise each is issued
// through Query (and so still benefits from singleflight dedup and
// subscription derivation) and run concurrently via
// golang.org/x/sync/errgroup.
func (p *Planner) QueryMany(ctx context.Context, requests []transport.FetchRequest) ([]*lens.EntityCell, error) {
	if batcher, ok := p.rt.(transport.BatchCapable); ok {
		records, err := batcher.BatchFetch(ctx, requests)
		if err != nil {
			return nil, fmt.Errorf("query: batch fetch: %w", err)
		}
		cells := make([]*lens.EntityCell, len(requests))
		for i, req := range requests {
			if records[i] == nil {
				continue
			}
			cell, existed := p.mux.Lookup(req.Entity, req.ID)
			if !existed {
				cell = p.mux.GetOrCreate(req.Entity, req.ID, records[i])
			} else {
				cell.SetFields(records[i])
			}
			cells[i] = cell
		}
		return cells, nil
	}

	cells := make([]*lens.EntityCell, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			cell, err := p.Query(gctx, req.Entity, req.ID, req.Fields)
			if err != nil {
				return err
			}
			cells[i] = cell
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cells, nil
}
