package links

import "github.com/sylphxai/lens-go"

// Split routes an operation to one of three links by kind, letting a
// caller apply, say, retry only to queries and optimistic bookkeeping
// only to mutations without teaching either link about OperationKind
// itself. A nil link for a given kind passes through to next unchanged.
func Split(query, mutation, subscription lens.Link) lens.Link {
	return func(ctx *lens.OperationContext, next lens.Next) *lens.Result {
		var chosen lens.Link
		switch ctx.Kind {
		case lens.KindQuery:
			chosen = query
		case lens.KindMutation:
			chosen = mutation
		case lens.KindSubscription:
			chosen = subscription
		}
		if chosen == nil {
			return next(ctx)
		}
		return chosen(ctx, next)
	}
}
