package links

import (
	"github.com/cenkalti/backoff/v4"

	"github.com/sylphxai/lens-go"
)

// RetryConfig tunes the retry link's backoff schedule.
type RetryConfig struct {
	// MaxAttempts bounds the number of terminal invocations, including
	// the first. Zero sets no count limit: retries then stop when the
	// operation's context is done or when the exponential backoff's
	// default elapsed-time limit (15 minutes) is reached.
	MaxAttempts uint64
	// ShouldRetry decides whether a given error is worth a retry attempt.
	// Nil defaults to retrying transport errors only, leaving validation
	// and application errors to fail fast (spec §7 "retry is
	// transport-only by default").
	ShouldRetry func(*lens.OpError) bool
}

func defaultShouldRetry(err *lens.OpError) bool {
	return err != nil && err.Kind == lens.KindTransport
}

// Retry returns a link that re-invokes the terminal dispatcher using an
// exponential backoff (github.com/cenkalti/backoff/v4) whenever the
// result settles with a retryable error. It never retries a result that
// has already delivered a successful value through Push, since later
// observers would otherwise see a spurious second settlement.
func Retry(cfg RetryConfig) lens.Link {
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = defaultShouldRetry
	}

	return func(ctx *lens.OperationContext, next lens.Next) *lens.Result {
		out := lens.NewResult()

		bo := backoff.NewExponentialBackOff()
		if cfg.MaxAttempts > 0 {
			var withCtx backoff.BackOff = backoff.WithContext(bo, ctx.Ctx)
			withCtx = backoff.WithMaxRetries(withCtx, cfg.MaxAttempts-1)
			runRetry(ctx, next, out, withCtx, shouldRetry)
		} else {
			runRetry(ctx, next, out, backoff.WithContext(bo, ctx.Ctx), shouldRetry)
		}
		return out
	}
}

func runRetry(ctx *lens.OperationContext, next lens.Next, out *lens.Result, bo backoff.BackOff, shouldRetry func(*lens.OpError) bool) {
	op := func() error {
		attempt := next(ctx)
		v, err := attempt.AwaitResult(ctx.Ctx)
		opErr, _ := err.(*lens.OpError)
		if err != nil && opErr == nil {
			opErr = lens.InternalError("retry", err)
		}
		if opErr != nil && shouldRetry(opErr) {
			return opErr
		}
		out.Resolve(v, opErr)
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		var opErr *lens.OpError
		if oe, ok := err.(*lens.OpError); ok {
			opErr = oe
		} else {
			opErr = lens.TransportError(err)
		}
		out.Resolve(nil, opErr)
	}
}
