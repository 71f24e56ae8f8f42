package lens

import (
	"context"
	"testing"
)

func TestComposeLinks_RunsLeftToRightAroundTerminal(t *testing.T) {
	var order []string
	mk := func(name string) Link {
		return func(ctx *OperationContext, next Next) *Result {
			order = append(order, name+":before")
			r := next(ctx)
			order = append(order, name+":after")
			return r
		}
	}
	terminal := func(ctx *OperationContext) *Result {
		order = append(order, "terminal")
		r := NewResult()
		r.Resolve("ok", nil)
		return r
	}

	dispatch := ComposeLinks([]Link{mk("a"), mk("b")}, terminal)
	ctx := NewOperationContext(context.Background(), KindQuery, "User", "get", nil, nil)
	result := dispatch(ctx)

	val, err := result.AwaitResult(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" {
		t.Fatalf("expected ok, got %v", val)
	}

	want := []string{"a:before", "b:before", "terminal", "b:after", "a:after"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestComposeLinks_ShortCircuit(t *testing.T) {
	terminalCalled := false
	terminal := func(ctx *OperationContext) *Result {
		terminalCalled = true
		return NewResult()
	}
	blocking := func(ctx *OperationContext, next Next) *Result {
		r := NewResult()
		r.Resolve(nil, ValidationError(nil))
		return r
	}

	dispatch := ComposeLinks([]Link{blocking}, terminal)
	ctx := NewOperationContext(context.Background(), KindQuery, "User", "get", nil, nil)
	result := dispatch(ctx)
	_, err := result.AwaitResult(context.Background())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if terminalCalled {
		t.Fatal("expected terminal not to be called when a link short-circuits")
	}
}

func TestResult_ObserveReplaysSettledValue(t *testing.T) {
	r := NewResult()
	r.Resolve(42, nil)

	var got any
	r.Observe(func(v any, err *OpError) {
		got = v
	})
	if got != 42 {
		t.Fatalf("expected immediate replay of 42, got %v", got)
	}
}

func TestResult_ObservePushAfterSubscribe(t *testing.T) {
	r := NewResult()
	r.Resolve("first", nil)

	var values []any
	r.Observe(func(v any, err *OpError) {
		values = append(values, v)
	})
	r.Push("second", nil)

	if len(values) != 2 || values[0] != "first" || values[1] != "second" {
		t.Fatalf("expected [first second], got %v", values)
	}
}

func TestResult_CancelRunsHooksInReverseOrder(t *testing.T) {
	r := NewResult()
	var order []int
	r.OnCancel(func() { order = append(order, 1) })
	r.OnCancel(func() { order = append(order, 2) })

	r.Cancel()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected cancel hooks to run in reverse order, got %v", order)
	}
}
