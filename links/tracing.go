package links

import (
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sylphxai/lens-go"
)

// Tracing returns a link that wraps each operation in an OpenTelemetry
// span named "<entity>.<op>", tagged with the operation kind and closed
// once the result settles.
func Tracing(tracer trace.Tracer) lens.Link {
	return func(ctx *lens.OperationContext, next lens.Next) *lens.Result {
		spanCtx, span := tracer.Start(ctx.Ctx, ctx.Entity+"."+ctx.Op,
			trace.WithAttributes(
				attribute.String("lens.kind", string(ctx.Kind)),
				attribute.String("lens.entity", ctx.Entity),
				attribute.String("lens.op", ctx.Op),
			),
		)
		ctx.Ctx = spanCtx

		var endOnce sync.Once
		result := next(ctx)
		result.Observe(func(v any, err *lens.OpError) {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			endOnce.Do(span.End)
		})
		return result
	}
}
