package multiplex

import (
	"context"
	"testing"
	"time"

	"github.com/sylphxai/lens-go/transport"
)

type recordingTransport struct {
	subs   []transport.SubscribeMessage
	unsubs []transport.UnsubscribeMessage
	update transport.UpdateHandler
}

func (r *recordingTransport) Subscribe(ctx context.Context, msg transport.SubscribeMessage) {
	r.subs = append(r.subs, msg)
}

func (r *recordingTransport) Unsubscribe(ctx context.Context, msg transport.UnsubscribeMessage) {
	r.unsubs = append(r.unsubs, msg)
}

func (r *recordingTransport) OnUpdate(h transport.UpdateHandler) { r.update = h }

func TestMultiplexer_GetOrCreateReturnsSameCellForSameKey(t *testing.T) {
	m := New(nil)
	defer m.Destroy()

	a := m.GetOrCreate("User", "u1", map[string]any{"name": "Ada"})
	b := m.GetOrCreate("User", "u1", map[string]any{"name": "ignored"})
	if a != b {
		t.Fatal("expected the same entity cell for the same key")
	}
}

func TestMultiplexer_TwoFieldSubscribersCollapseToOneWireSubscribe(t *testing.T) {
	rt := &recordingTransport{}
	m := New(rt)
	defer m.Destroy()

	m.GetOrCreate("User", "u1", map[string]any{"name": "Ada"})
	c1 := m.SubscribeField("User", "u1", "name")
	c2 := m.SubscribeField("User", "u1", "name")
	defer c1()
	defer c2()

	m.flush()

	if len(rt.subs) != 1 {
		t.Fatalf("expected exactly one subscribe message, got %d: %v", len(rt.subs), rt.subs)
	}
	if rt.subs[0].Fields.Fields[0] != "name" {
		t.Fatalf("expected subscribe for field 'name', got %v", rt.subs[0].Fields)
	}
}

func TestMultiplexer_ReleasingAllRefsSendsUnsubscribe(t *testing.T) {
	rt := &recordingTransport{}
	m := New(rt)
	defer m.Destroy()

	m.GetOrCreate("User", "u1", map[string]any{"name": "Ada"})
	cleanup := m.SubscribeField("User", "u1", "name")
	m.flush()
	cleanup()
	m.flush()

	if len(rt.unsubs) != 1 {
		t.Fatalf("expected exactly one unsubscribe message, got %d", len(rt.unsubs))
	}
}

func TestMultiplexer_FieldAccessThroughEntityCellRetainsSubscription(t *testing.T) {
	rt := &recordingTransport{}
	m := New(rt)
	defer m.Destroy()

	cell := m.GetOrCreate("User", "u1", map[string]any{"name": "Ada"})
	cell.Field("name")

	m.flush()

	if len(rt.subs) != 1 {
		t.Fatalf("expected a field read to retain a subscription, got %d messages", len(rt.subs))
	}
}

func TestMultiplexer_CanDeriveFromFullSubscription(t *testing.T) {
	m := New(nil)
	defer m.Destroy()

	m.GetOrCreate("User", "u1", map[string]any{"name": "Ada"})
	if m.CanDerive("User", "u1", "name") {
		t.Fatal("expected no derivable subscription before any full subscribe")
	}

	cleanup := m.SubscribeFull("User", "u1")
	defer cleanup()
	if !m.CanDerive("User", "u1", "name") {
		t.Fatal("expected a field to be derivable once a full subscription exists")
	}
}

func TestMultiplexer_ApplyServerUpdateWritesField(t *testing.T) {
	rt := &recordingTransport{}
	m := New(rt)
	defer m.Destroy()

	cell := m.GetOrCreate("User", "u1", map[string]any{"name": "Ada"})

	rt.update(transport.UpdateMessage{
		Entity: "User",
		ID:     "u1",
		Field:  "name",
		Update: transport.FieldUpdate{Strategy: transport.StrategyValue, Data: "Grace"},
	})

	if got := cell.Field("name").Peek(); got != "Grace" {
		t.Fatalf("expected field to be updated to 'Grace', got %v", got)
	}
}

func TestMultiplexer_UnknownRecordUpdateIsIgnored(t *testing.T) {
	rt := &recordingTransport{}
	m := New(rt)
	defer m.Destroy()

	// No panic, no-op: nothing has ever called GetOrCreate for this key.
	rt.update(transport.UpdateMessage{Entity: "User", ID: "ghost", Field: "name",
		Update: transport.FieldUpdate{Strategy: transport.StrategyValue, Data: "x"}})
}

func TestMultiplexer_DestroyStopsTicker(t *testing.T) {
	m := New(nil)
	m.Destroy()
	// Give any in-flight tick a chance to observe closure; the ticker
	// goroutine must exit rather than panic on a closed channel reuse.
	time.Sleep(5 * time.Millisecond)
}
