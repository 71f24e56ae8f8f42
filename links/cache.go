package links

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sylphxai/lens-go"
)

type cacheEntry struct {
	value   any
	err     *lens.OpError
	expires time.Time
}

// Cache returns a link that serves query results from an in-process
// cache keyed by the deterministic-JSON of the operation's kind, entity,
// op, and arguments, for ttl. A hit within ttl serves the cached value
// outright; a stale hit serves the cached value immediately and kicks off
// a revalidation in the background, pushing the fresh value through the
// stale call's Result once it lands (spec §4.6 "request caching ...
// stale-while-revalidate semantics"). Mutations and subscriptions always
// pass through untouched — caching only ever applies to KindQuery.
func Cache(ttl time.Duration) lens.Link {
	var mu sync.Mutex
	entries := make(map[string]cacheEntry)

	return func(ctx *lens.OperationContext, next lens.Next) *lens.Result {
		if ctx.Kind != lens.KindQuery {
			return next(ctx)
		}

		key := cacheKey(ctx)
		mu.Lock()
		entry, ok := entries[key]
		mu.Unlock()

		store := func(v any, err *lens.OpError) {
			mu.Lock()
			entries[key] = cacheEntry{value: v, err: err, expires: time.Now().Add(ttl)}
			mu.Unlock()
		}

		if !ok {
			result := next(ctx)
			result.Observe(func(v any, err *lens.OpError) { store(v, err) })
			return result
		}

		if time.Now().Before(entry.expires) {
			result := lens.NewResult()
			result.Resolve(entry.value, entry.err)
			return result
		}

		// Stale: serve what we have immediately, then revalidate in the
		// background and push the fresh value through the same Result.
		result := lens.NewResult()
		result.Resolve(entry.value, entry.err)
		go func() {
			fresh := next(ctx)
			v, err := fresh.AwaitResult(ctx.Ctx)
			var opErr *lens.OpError
			if err != nil {
				opErr, _ = err.(*lens.OpError)
				if opErr == nil {
					opErr = lens.InternalError("cache-revalidate", err)
				}
			}
			store(v, opErr)
			result.Push(v, opErr)
		}()
		return result
	}
}

func cacheKey(ctx *lens.OperationContext) string {
	argsJSON, err := json.Marshal(ctx.Args)
	if err != nil {
		argsJSON = []byte(`"unmarshalable"`)
	}
	kindJSON, _ := json.Marshal(ctx.Kind)
	entityJSON, _ := json.Marshal(ctx.Entity)
	opJSON, _ := json.Marshal(ctx.Op)
	return string(kindJSON) + string(entityJSON) + string(opJSON) + string(argsJSON)
}
