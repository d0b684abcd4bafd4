// Package windowbridge implements the Window Bridge (C10): a request/response
// relay that lets late-joining pop-out windows catch up to the main window's
// agent/hub state and push window-scoped mutations back to it. Any number
// of relay channels may be outstanding concurrently; requesters for the
// same channel batch behind one in-flight relay.
package windowbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// relayTimeout bounds how long a pop-out waits for the main window to
// answer a relayed request. Responses arriving after this are discarded.
const relayTimeout = 1500 * time.Millisecond

// Transport delivers bridge traffic to windows. The bridge core never
// imports a rendering package beyond this seam.
type Transport interface {
	// RequestFromMain asks the main state-holder window to answer a
	// relayed request, returning the raw snapshot it responds with.
	RequestFromMain(ctx context.Context, channel string, payload any) (any, error)
	// EmitToPopouts forwards an event to every pop-out window.
	EmitToPopouts(event string, payload any)
}

// Timeout is returned when a relayed request exceeds relayTimeout.
type Timeout struct{ Channel string }

func (e *Timeout) Error() string {
	return fmt.Sprintf("windowbridge: relay for channel %q timed out", e.Channel)
}

// pendingRelay batches concurrent requesters for the same channel behind a
// single outstanding relay to the main window. done is closed once the
// result fields are set, so every waiter observes the same snapshot.
type pendingRelay struct {
	done     chan struct{}
	snapshot any
	err      error
}

// Bridge relays state requests and mutations between the main window and
// any number of pop-outs.
type Bridge struct {
	transport Transport

	mu      sync.Mutex
	cache   map[string]any           // channel -> last broadcast snapshot
	pending map[string]*pendingRelay // channel -> in-flight relay

	popoutMu sync.Mutex
	popouts  []Popout
}

// New returns a Bridge that relays over transport.
func New(transport Transport) *Bridge {
	return &Bridge{
		transport: transport,
		cache:     make(map[string]any),
		pending:   make(map[string]*pendingRelay),
	}
}

// cacheKey builds the per-channel cache/batch key for a state request.
// Agent state has one global channel; hub state is scoped per hub/scope/
// project so distinct hubs never share a cache entry or a batched relay.
func cacheKey(kind, hubID, scope, projectID string) string {
	if kind == "agent" {
		return "agent_state"
	}
	return fmt.Sprintf("hub_state:%s:%s:%s", hubID, scope, projectID)
}

// RequestAgentState answers a pop-out's REQUEST_AGENT_STATE(requestId).
func (b *Bridge) RequestAgentState(ctx context.Context) (any, error) {
	return b.request(ctx, cacheKey("agent", "", "", ""), "REQUEST_AGENT_STATE", nil)
}

// RequestHubState answers a pop-out's REQUEST_HUB_STATE(requestId, hubId,
// scope, projectId).
func (b *Bridge) RequestHubState(ctx context.Context, hubID, scope, projectID string) (any, error) {
	key := cacheKey("hub", hubID, scope, projectID)
	return b.request(ctx, key, "REQUEST_HUB_STATE", map[string]string{
		"hubId": hubID, "scope": scope, "projectId": projectID,
	})
}

// request serves from cache when present, otherwise relays to the main
// window — batching concurrent callers for the same channel onto a single
// outstanding relay.
func (b *Bridge) request(ctx context.Context, channel, requestKind string, payload any) (any, error) {
	b.mu.Lock()
	if snap, ok := b.cache[channel]; ok {
		b.mu.Unlock()
		return snap, nil
	}

	if pr, ok := b.pending[channel]; ok {
		b.mu.Unlock()
		return b.awaitRelay(ctx, channel, pr)
	}

	pr := &pendingRelay{done: make(chan struct{})}
	b.pending[channel] = pr
	b.mu.Unlock()

	go b.relay(channel, requestKind, payload, pr)

	return b.awaitRelay(ctx, channel, pr)
}

func (b *Bridge) relay(channel, requestKind string, payload any, pr *pendingRelay) {
	relayCtx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	snapshot, err := b.transport.RequestFromMain(relayCtx, requestKind, payload)
	if errors.Is(err, context.DeadlineExceeded) {
		err = &Timeout{Channel: channel}
	}

	b.mu.Lock()
	delete(b.pending, channel)
	if err == nil {
		b.cache[channel] = snapshot
	}
	b.mu.Unlock()

	pr.snapshot = snapshot
	pr.err = err
	close(pr.done)
}

func (b *Bridge) awaitRelay(ctx context.Context, channel string, pr *pendingRelay) (any, error) {
	select {
	case <-pr.done:
		return pr.snapshot, pr.err
	case <-time.After(relayTimeout):
		return nil, &Timeout{Channel: channel}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnAgentStateChanged handles a main-window AGENT_STATE_CHANGED broadcast:
// updates the cache and forwards the snapshot to every pop-out.
func (b *Bridge) OnAgentStateChanged(snapshot any) {
	b.updateCacheAndForward(cacheKey("agent", "", "", ""), "AGENT_STATE_CHANGED", snapshot)
}

// OnHubStateChanged handles a main-window HUB_STATE_CHANGED broadcast.
func (b *Bridge) OnHubStateChanged(hubID, scope, projectID string, snapshot any) {
	b.updateCacheAndForward(cacheKey("hub", hubID, scope, projectID), "HUB_STATE_CHANGED", snapshot)
}

func (b *Bridge) updateCacheAndForward(channel, event string, snapshot any) {
	b.mu.Lock()
	b.cache[channel] = snapshot
	b.mu.Unlock()

	b.transport.EmitToPopouts(event, snapshot)
}

// EmitEvent forwards an arbitrary event straight to every pop-out without
// touching the state-snapshot cache. Used for transient, non-resumable
// traffic (e.g. a structured session's raw event stream) that a late
// joiner is expected to catch up on via REQUEST_AGENT_STATE instead of
// replay.
func (b *Bridge) EmitEvent(event string, payload any) {
	b.transport.EmitToPopouts(event, payload)
}

// RelayMutation forwards a pop-out's HUB_MUTATION(hubId, scope, mutation) to
// the main window. Mutations are never applied locally by the bridge.
func (b *Bridge) RelayMutation(hubID, scope string, mutation any) {
	id := uuid.New().String()
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	if _, err := b.transport.RequestFromMain(ctx, "HUB_MUTATION", map[string]any{
		"mutationId": id, "hubId": hubID, "scope": scope, "mutation": mutation,
	}); err != nil {
		logger.Warn().Err(err).Str("hub_id", hubID).Msg("windowbridge: mutation relay failed")
	}
}

// InvalidateCache drops every cached snapshot, forcing the next request on
// each channel to relay to the main window again.
func (b *Bridge) InvalidateCache() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = make(map[string]any)
}
