// Package ws is a reference transport.Transport over a single JSON
// websocket connection, built on golang.org/x/net/websocket. It exists
// to give consumers a working starting point; production deployments are
// expected to bring their own transport tuned to their wire protocol.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/net/websocket"

	"github.com/sylphxai/lens-go/transport"
)

type envelope struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Entity  string          `json:"entity,omitempty"`
	EID     string          `json:"entityId,omitempty"`
	Field   string          `json:"field,omitempty"`
	Fields  []string        `json:"fields,omitempty"`
	Op      string          `json:"op,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Update  json.RawMessage `json:"update,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

type pending struct {
	result chan json.RawMessage
	err    chan string
}

// Transport is a transport.Transport + transport.SubscriptionTransport
// + transport.BatchCapable implementation dialed over one websocket
// connection. Requests are correlated by an incrementing id; server
// push ("update") frames carry no id and are routed to the registered
// UpdateHandler.
type Transport struct {
	conn    *websocket.Conn
	nextID  uint64
	mu      sync.Mutex
	waiting map[uint64]*pending

	handlerMu sync.Mutex
	handler   transport.UpdateHandler

	closed atomic.Bool
}

// Dial opens a websocket connection to url and starts its read loop.
func Dial(url, origin string) (*Transport, error) {
	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, fmt.Errorf("ws transport: dial: %w", err)
	}
	t := &Transport{conn: conn, waiting: make(map[uint64]*pending)}
	go t.readLoop()
	return t, nil
}

func (t *Transport) readLoop() {
	for {
		var env envelope
		if err := websocket.JSON.Receive(t.conn, &env); err != nil {
			t.failAllPending(err)
			return
		}
		switch env.Type {
		case "update":
			t.dispatchUpdate(env)
		default:
			t.resolvePending(env)
		}
	}
}

func (t *Transport) dispatchUpdate(env envelope) {
	var fu transport.FieldUpdate
	_ = json.Unmarshal(env.Update, &fu)

	t.handlerMu.Lock()
	h := t.handler
	t.handlerMu.Unlock()
	if h != nil {
		h(transport.UpdateMessage{Entity: env.Entity, ID: env.EID, Field: env.Field, Update: fu})
	}
}

func (t *Transport) resolvePending(env envelope) {
	t.mu.Lock()
	p, ok := t.waiting[env.ID]
	if ok {
		delete(t.waiting, env.ID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if env.Error != "" {
		p.err <- env.Error
		return
	}
	p.result <- env.Result
}

func (t *Transport) failAllPending(err error) {
	t.closed.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.waiting {
		p.err <- err.Error()
		delete(t.waiting, id)
	}
}

func (t *Transport) call(ctx context.Context, env envelope) (json.RawMessage, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("ws transport: connection closed")
	}
	id := atomic.AddUint64(&t.nextID, 1)
	env.ID = id
	p := &pending{result: make(chan json.RawMessage, 1), err: make(chan string, 1)}

	t.mu.Lock()
	t.waiting[id] = p
	t.mu.Unlock()

	if err := websocket.JSON.Send(t.conn, env); err != nil {
		t.mu.Lock()
		delete(t.waiting, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("ws transport: send: %w", err)
	}

	select {
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiting, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	case msg := <-p.err:
		return nil, fmt.Errorf("ws transport: %s", msg)
	case res := <-p.result:
		return res, nil
	}
}

func (t *Transport) Fetch(ctx context.Context, entity, id string, fields transport.FieldSet) (map[string]any, error) {
	res, err := t.call(ctx, envelope{Type: "fetch", Entity: entity, EID: id, Fields: fieldNames(fields)})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("ws transport: decode fetch result: %w", err)
	}
	return out, nil
}

func (t *Transport) FetchList(ctx context.Context, entity string, options any) ([]map[string]any, error) {
	opts, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("ws transport: encode options: %w", err)
	}
	res, err := t.call(ctx, envelope{Type: "fetchList", Entity: entity, Options: opts})
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("ws transport: decode fetchList result: %w", err)
	}
	return out, nil
}

func (t *Transport) BatchFetch(ctx context.Context, requests []transport.FetchRequest) ([]map[string]any, error) {
	args, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("ws transport: encode batch requests: %w", err)
	}
	res, err := t.call(ctx, envelope{Type: "batchFetch", Args: args})
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("ws transport: decode batchFetch result: %w", err)
	}
	return out, nil
}

func (t *Transport) Mutate(ctx context.Context, req transport.MutateRequest) (map[string]any, error) {
	args, err := json.Marshal(req.Args)
	if err != nil {
		return nil, fmt.Errorf("ws transport: encode mutation args: %w", err)
	}
	res, err := t.call(ctx, envelope{Type: "mutate", Entity: req.Entity, Op: req.Op, Args: args})
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("ws transport: decode mutate result: %w", err)
	}
	return out, nil
}

func (t *Transport) Subscribe(ctx context.Context, msg transport.SubscribeMessage) {
	_ = websocket.JSON.Send(t.conn, envelope{
		Type: "subscribe", Entity: msg.Entity, EID: msg.ID, Fields: fieldNames(msg.Fields),
	})
}

func (t *Transport) Unsubscribe(ctx context.Context, msg transport.UnsubscribeMessage) {
	_ = websocket.JSON.Send(t.conn, envelope{
		Type: "unsubscribe", Entity: msg.Entity, EID: msg.ID, Fields: fieldNames(msg.Fields),
	})
}

func (t *Transport) OnUpdate(handler transport.UpdateHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = handler
}

// Close closes the underlying connection, unblocking the read loop.
func (t *Transport) Close() error {
	t.closed.Store(true)
	return t.conn.Close()
}

func fieldNames(fields transport.FieldSet) []string {
	if fields.Wildcard {
		return []string{"*"}
	}
	return fields.Fields
}
