package links

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sylphxai/lens-go"
)

type capturingLogger struct{ lines []string }

func (l *capturingLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func queryCtx() *lens.OperationContext {
	return lens.NewOperationContext(context.Background(), lens.KindQuery, "User", "get", nil, nil)
}

func TestLogging_RecordsStartAndSettle(t *testing.T) {
	logger := &capturingLogger{}
	link := Logging(logger)

	terminal := func(ctx *lens.OperationContext) *lens.Result {
		r := lens.NewResult()
		r.Resolve("ok", nil)
		return r
	}

	result := link(queryCtx(), terminal)
	if _, err := result.AwaitResult(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(logger.lines) != 2 {
		t.Fatalf("expected a start and a settle log line, got %v", logger.lines)
	}
}

func TestCache_SecondIdenticalQuerySkipsTerminal(t *testing.T) {
	link := Cache(time.Minute)
	var calls int32

	terminal := func(ctx *lens.OperationContext) *lens.Result {
		atomic.AddInt32(&calls, 1)
		r := lens.NewResult()
		r.Resolve("value", nil)
		return r
	}

	ctx1 := queryCtx()
	if _, err := link(ctx1, terminal).AwaitResult(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx2 := queryCtx()
	if _, err := link(ctx2, terminal).AwaitResult(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected terminal to run once, got %d", got)
	}
}

func TestCache_MutationsAreNeverCached(t *testing.T) {
	link := Cache(time.Minute)
	var calls int32

	terminal := func(ctx *lens.OperationContext) *lens.Result {
		atomic.AddInt32(&calls, 1)
		r := lens.NewResult()
		r.Resolve("value", nil)
		return r
	}

	mutCtx := func() *lens.OperationContext {
		return lens.NewOperationContext(context.Background(), lens.KindMutation, "User", "update", nil, nil)
	}

	link(mutCtx(), terminal)
	link(mutCtx(), terminal)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected every mutation to hit the terminal, got %d", got)
	}
}

func TestCache_DifferingArgsWithSameSelectAreNotConflated(t *testing.T) {
	link := Cache(time.Minute)
	var calls int32

	terminal := func(ctx *lens.OperationContext) *lens.Result {
		atomic.AddInt32(&calls, 1)
		r := lens.NewResult()
		r.Resolve(ctx.Args, nil)
		return r
	}

	ctx1 := lens.NewOperationContext(context.Background(), lens.KindQuery, "User", "get", map[string]any{"id": "u1"}, []string{"name"})
	ctx2 := lens.NewOperationContext(context.Background(), lens.KindQuery, "User", "get", map[string]any{"id": "u2"}, []string{"name"})

	if _, err := link(ctx1, terminal).AwaitResult(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := link(ctx2, terminal).AwaitResult(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected distinct args to each miss the cache, got %d calls", got)
	}
}

func TestCache_StaleEntryServesImmediatelyThenPushesFreshValue(t *testing.T) {
	link := Cache(time.Millisecond)
	var calls int32

	terminal := func(ctx *lens.OperationContext) *lens.Result {
		n := atomic.AddInt32(&calls, 1)
		r := lens.NewResult()
		if n == 1 {
			r.Resolve("stale", nil)
		} else {
			r.Resolve("fresh", nil)
		}
		return r
	}

	ctx1 := queryCtx()
	if _, err := link(ctx1, terminal).AwaitResult(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)

	ctx2 := queryCtx()
	result := link(ctx2, terminal)
	v, err := result.AwaitResult(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "stale" {
		t.Fatalf("expected the stale value to be served immediately, got %v", v)
	}

	pushed := make(chan any, 1)
	result.Observe(func(v any, err *lens.OpError) {
		if v == "fresh" {
			select {
			case pushed <- v:
			default:
			}
		}
	})

	select {
	case v := <-pushed:
		if v != "fresh" {
			t.Fatalf("expected fresh value pushed, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the revalidated value to be pushed within a second")
	}
}

func TestSplit_RoutesByKind(t *testing.T) {
	var queryRan, mutationRan bool
	queryLink := func(ctx *lens.OperationContext, next lens.Next) *lens.Result {
		queryRan = true
		return next(ctx)
	}
	mutationLink := func(ctx *lens.OperationContext, next lens.Next) *lens.Result {
		mutationRan = true
		return next(ctx)
	}
	split := Split(queryLink, mutationLink, nil)

	terminal := func(ctx *lens.OperationContext) *lens.Result {
		r := lens.NewResult()
		r.Resolve(nil, nil)
		return r
	}

	split(queryCtx(), terminal)
	if !queryRan || mutationRan {
		t.Fatal("expected only the query link to run for a query context")
	}
}

func TestRetry_RetriesTransportErrorsUntilSuccess(t *testing.T) {
	var attempts int32
	terminal := func(ctx *lens.OperationContext) *lens.Result {
		r := lens.NewResult()
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			r.Resolve(nil, lens.TransportError(errors.New("flaky")))
		} else {
			r.Resolve("ok", nil)
		}
		return r
	}

	link := Retry(RetryConfig{MaxAttempts: 5})
	result := link(queryCtx(), terminal)
	v, err := result.AwaitResult(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Fatalf("expected eventual success, got %v", v)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestRetry_DoesNotRetryValidationErrors(t *testing.T) {
	var attempts int32
	terminal := func(ctx *lens.OperationContext) *lens.Result {
		atomic.AddInt32(&attempts, 1)
		r := lens.NewResult()
		r.Resolve(nil, lens.ValidationError(errors.New("bad args")))
		return r
	}

	link := Retry(RetryConfig{MaxAttempts: 5})
	result := link(queryCtx(), terminal)
	_, err := result.AwaitResult(context.Background())
	if err == nil {
		t.Fatal("expected validation error to surface")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable error, got %d", attempts)
	}
}
