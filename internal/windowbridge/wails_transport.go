package windowbridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// WailsTransport relays bridge traffic over a wails/v2 application context.
// The main window listens for the request event via wails' JS-side EventsOn
// and answers by emitting a response event the Go side awaits through
// respond.
type WailsTransport struct {
	ctx     context.Context
	respond *responseRouter
}

// NewWailsTransport returns a Transport that emits request events to the
// main window and pop-out broadcast events to every window, using ctx's
// bound wails application.
func NewWailsTransport(ctx context.Context) *WailsTransport {
	t := &WailsTransport{ctx: ctx, respond: newResponseRouter()}
	runtime.EventsOn(ctx, "BRIDGE_RESPONSE", func(optionalData ...interface{}) {
		if len(optionalData) == 0 {
			return
		}
		payload, ok := optionalData[0].(map[string]any)
		if !ok {
			return
		}
		requestID, _ := payload["requestId"].(string)
		t.respond.deliver(requestID, payload["snapshot"])
	})
	return t
}

// RequestFromMain emits a request event carrying a generated request id and
// waits for the matching BRIDGE_RESPONSE, or for ctx to end.
func (t *WailsTransport) RequestFromMain(ctx context.Context, channel string, payload any) (any, error) {
	requestID := t.respond.register()
	defer t.respond.forget(requestID)

	runtime.EventsEmit(t.ctx, channel, map[string]any{
		"requestId": requestID,
		"payload":   payload,
	})

	select {
	case snapshot := <-t.respond.wait(requestID):
		return snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmitToPopouts broadcasts event to every window via wails' EventsEmit,
// which fans out to all windows bound to this application context.
func (t *WailsTransport) EmitToPopouts(event string, payload any) {
	runtime.EventsEmit(t.ctx, event, payload)
}

// responseRouter demultiplexes BRIDGE_RESPONSE events back to the
// RequestFromMain call awaiting each request id.
type responseRouter struct {
	mu   sync.Mutex
	next int
	subs map[string]chan any
}

func newResponseRouter() *responseRouter {
	return &responseRouter{subs: make(map[string]chan any)}
}

func (r *responseRouter) register() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := fmt.Sprintf("req-%d", r.next)
	r.subs[id] = make(chan any, 1)
	return id
}

func (r *responseRouter) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

func (r *responseRouter) wait(id string) <-chan any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id]
}

func (r *responseRouter) deliver(id string, snapshot any) {
	r.mu.Lock()
	ch, ok := r.subs[id]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
