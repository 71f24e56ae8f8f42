// Package links provides the default operation-executor links (C6):
// logging, retry, caching, query/mutation splitting, and tracing. Each
// is a plain lens.Link, composable via lens.ComposeLinks in whatever
// order a caller chooses.
package links

import (
	"time"

	"github.com/sylphxai/lens-go"
)

// Logging returns a link that logs every operation's kind, entity, op
// name, and outcome latency, grounded on the teacher's plain-Printf
// logging extension.
func Logging(logger lens.Logger) lens.Link {
	if logger == nil {
		logger = lens.DefaultLogger
	}
	return func(ctx *lens.OperationContext, next lens.Next) *lens.Result {
		start := time.Now()
		logger.Printf("lens: %s %s.%s starting", ctx.Kind, ctx.Entity, ctx.Op)

		result := next(ctx)
		result.Observe(func(v any, err *lens.OpError) {
			elapsed := time.Since(start)
			if err != nil {
				logger.Printf("lens: %s %s.%s failed after %s: %v", ctx.Kind, ctx.Entity, ctx.Op, elapsed, err)
				return
			}
			logger.Printf("lens: %s %s.%s settled after %s", ctx.Kind, ctx.Entity, ctx.Op, elapsed)
		})
		return result
	}
}
