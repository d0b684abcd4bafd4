package structsession

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
)

type fakeAdapter struct {
	events    chan adapter.StructuredEvent
	cancelled bool
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{StructuredOutput: true}
}
func (f *fakeAdapter) SpawnInteractive(ctx context.Context, opts adapter.StartOpts) (adapter.SpawnPlan, error) {
	return adapter.SpawnPlan{}, nil
}
func (f *fakeAdapter) ParseHookEvent(raw json.RawMessage) (*adapter.HookEvent, error) {
	return nil, nil
}
func (f *fakeAdapter) ToolVerb(toolName string) (string, bool) { return "", false }
func (f *fakeAdapter) StartStructured(ctx context.Context, opts adapter.StartOpts) (<-chan adapter.StructuredEvent, error) {
	return f.events, nil
}
func (f *fakeAdapter) SendMessage(ctx context.Context, agentID, text string) error { return nil }
func (f *fakeAdapter) RespondToPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error {
	return nil
}
func (f *fakeAdapter) Cancel(agentID string) error {
	f.cancelled = true
	close(f.events)
	return nil
}
func (f *fakeAdapter) Dispose() error { return nil }
func (f *fakeAdapter) ReadQuickSummary(ctx context.Context, agentID string) (*adapter.QuickSummary, error) {
	return nil, nil
}
func (f *fakeAdapter) BuildSummaryInstruction(agentID string) string { return "" }

type fakeBus struct {
	mu     sync.Mutex
	events []adapter.HookEvent
}

func (b *fakeBus) PublishHookEvent(agentID string, ev adapter.HookEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

type fakeUI struct {
	mu     sync.Mutex
	events []adapter.StructuredEvent
}

func (u *fakeUI) BroadcastStructuredEvent(agentID string, ev adapter.StructuredEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, ev)
}

type fakeObserver struct {
	done chan struct{}
	end  *adapter.EndPayload
	err  error
}

func (o *fakeObserver) OnSessionEnded(agentID string, lastEnd *adapter.EndPayload, err error) {
	o.end = lastEnd
	o.err = err
	close(o.done)
}

func TestStructuredSessionHappyPath(t *testing.T) {
	dir := t.TempDir()
	bus := &fakeBus{}
	ui := &fakeUI{}
	obs := &fakeObserver{done: make(chan struct{})}
	m := NewManager(dir, bus, ui, obs)

	ad := &fakeAdapter{events: make(chan adapter.StructuredEvent, 8)}
	ad.events <- adapter.StructuredEvent{Kind: adapter.EventTextDelta, TextDelta: "Hel"}
	ad.events <- adapter.StructuredEvent{Kind: adapter.EventTextDelta, TextDelta: "lo"}
	ad.events <- adapter.StructuredEvent{Kind: adapter.EventError, Error: &adapter.ErrorPayload{Code: "RATE_LIMIT", Message: "too many"}}
	ad.events <- adapter.StructuredEvent{Kind: adapter.EventEnd, End: &adapter.EndPayload{Reason: "error"}}
	close(ad.events)

	require.NoError(t, m.Start(context.Background(), "agent-1", ad, adapter.StartOpts{}))

	select {
	case <-obs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session end")
	}

	require.Len(t, ui.events, 4)
	assert.Equal(t, adapter.EventTextDelta, ui.events[0].Kind)
	assert.Equal(t, adapter.EventEnd, ui.events[3].Kind)

	require.Len(t, bus.events, 2) // error->tool_error, end->stop
	assert.Equal(t, adapter.HookToolError, bus.events[0].Kind)
	assert.Equal(t, adapter.HookStop, bus.events[1].Kind)

	require.NotNil(t, obs.end)
	assert.Equal(t, "error", obs.end.Reason)

	data, err := os.ReadFile(filepath.Join(dir, "agent-1-structured.jsonl"))
	require.NoError(t, err)
	lines := strings.Count(strings.TrimRight(string(data), "\n"), "\n") + 1
	assert.Equal(t, 4, lines)
}

func TestNoSuchSessionForUnknownAgent(t *testing.T) {
	m := NewManager(t.TempDir(), &fakeBus{}, &fakeUI{}, nil)

	err := m.SendMessage(context.Background(), "missing", "hi")
	var nss *NoSuchSession
	assert.ErrorAs(t, err, &nss)
}

func TestCancelCompletesStreamPromptly(t *testing.T) {
	dir := t.TempDir()
	obs := &fakeObserver{done: make(chan struct{})}
	m := NewManager(dir, &fakeBus{}, &fakeUI{}, obs)

	ad := &fakeAdapter{events: make(chan adapter.StructuredEvent)}
	require.NoError(t, m.Start(context.Background(), "agent-1", ad, adapter.StartOpts{}))

	require.NoError(t, m.Cancel("agent-1"))

	select {
	case <-obs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not complete the stream promptly")
	}
	assert.True(t, ad.cancelled)
}

// routingAdapter serves several agents from one instance, recording which
// agent each control call addressed — the shape of a registered provider
// adapter shared by every concurrently running agent.
type routingAdapter struct {
	mu    sync.Mutex
	chans map[string]chan adapter.StructuredEvent
	sent  map[string][]string
}

func newRoutingAdapter() *routingAdapter {
	return &routingAdapter{
		chans: map[string]chan adapter.StructuredEvent{},
		sent:  map[string][]string{},
	}
}

func (r *routingAdapter) Name() string { return "routing" }
func (r *routingAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{StructuredOutput: true}
}
func (r *routingAdapter) SpawnInteractive(ctx context.Context, opts adapter.StartOpts) (adapter.SpawnPlan, error) {
	return adapter.SpawnPlan{}, nil
}
func (r *routingAdapter) ParseHookEvent(raw json.RawMessage) (*adapter.HookEvent, error) {
	return nil, nil
}
func (r *routingAdapter) ToolVerb(toolName string) (string, bool) { return "", false }
func (r *routingAdapter) StartStructured(ctx context.Context, opts adapter.StartOpts) (<-chan adapter.StructuredEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan adapter.StructuredEvent, 1)
	r.chans[opts.AgentID] = ch
	return ch, nil
}
func (r *routingAdapter) SendMessage(ctx context.Context, agentID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[agentID] = append(r.sent[agentID], text)
	return nil
}
func (r *routingAdapter) RespondToPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error {
	return nil
}
func (r *routingAdapter) Cancel(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.chans[agentID]; ok {
		close(ch)
		delete(r.chans, agentID)
	}
	return nil
}
func (r *routingAdapter) Dispose() error { return nil }
func (r *routingAdapter) ReadQuickSummary(ctx context.Context, agentID string) (*adapter.QuickSummary, error) {
	return nil, nil
}
func (r *routingAdapter) BuildSummaryInstruction(agentID string) string { return "" }

func TestConcurrentSessionsSendMessageRoutesByAgent(t *testing.T) {
	dir := t.TempDir()
	ended := make(chan string, 2)
	m := NewManager(dir, &fakeBus{}, &fakeUI{}, observerFunc(func(agentID string) { ended <- agentID }))

	ad := newRoutingAdapter()
	require.NoError(t, m.Start(context.Background(), "agent-a", ad, adapter.StartOpts{AgentID: "agent-a"}))
	require.NoError(t, m.Start(context.Background(), "agent-b", ad, adapter.StartOpts{AgentID: "agent-b"}))

	require.NoError(t, m.SendMessage(context.Background(), "agent-b", "only for b"))

	ad.mu.Lock()
	assert.Empty(t, ad.sent["agent-a"])
	assert.Equal(t, []string{"only for b"}, ad.sent["agent-b"])
	ad.mu.Unlock()

	require.NoError(t, m.Cancel("agent-a"))
	require.NoError(t, m.Cancel("agent-b"))
	for i := 0; i < 2; i++ {
		select {
		case <-ended:
		case <-time.After(2 * time.Second):
			t.Fatal("session never reported ending")
		}
	}
}

// observerFunc adapts a closure to the Observer interface.
type observerFunc func(agentID string)

func (f observerFunc) OnSessionEnded(agentID string, lastEnd *adapter.EndPayload, err error) {
	f(agentID)
}
