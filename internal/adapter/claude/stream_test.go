package claude

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
)

// testDecoder feeds a fixed sequence of events to an ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }
func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}
func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return nil }

// stubMessagesClient hands out one queued stream per NewStreaming call, and
// an empty stream once the queue is drained (a turn with no events).
type stubMessagesClient struct {
	mu      sync.Mutex
	streams []*ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, _ sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{}, nil)
	}
	st := s.streams[0]
	s.streams = s.streams[1:]
	return st
}

func messageStopStream(t *testing.T) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	t.Helper()
	stop := unionFromJSON(t, `{"type": "message_stop"}`)
	dec := &testDecoder{events: []ssestream.Event{
		{Type: "message_stop", Data: mustJSON(stop)},
	}}
	return ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unionFromJSON(t *testing.T, raw string) sdk.MessageStreamEventUnion {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestStartStructured_TextAndToolCall(t *testing.T) {
	textDelta := unionFromJSON(t, `{
		"type": "content_block_delta",
		"index": 0,
		"delta": {"type": "text_delta", "text": "hello"}
	}`)
	toolStart := unionFromJSON(t, `{
		"type": "content_block_start",
		"index": 1,
		"content_block": {"type": "tool_use", "id": "t1", "name": "Read"}
	}`)
	toolStop := unionFromJSON(t, `{
		"type": "content_block_stop",
		"index": 1
	}`)
	stop := unionFromJSON(t, `{"type": "message_stop"}`)

	dec := &testDecoder{events: []ssestream.Event{
		{Type: "content_block_delta", Data: mustJSON(textDelta)},
		{Type: "content_block_start", Data: mustJSON(toolStart)},
		{Type: "content_block_stop", Data: mustJSON(toolStop)},
		{Type: "message_stop", Data: mustJSON(stop)},
	}}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)

	a := New(Options{
		ModelID:        "claude-3.5-sonnet",
		messagesClient: &stubMessagesClient{streams: []*ssestream.Stream[sdk.MessageStreamEventUnion]{stream}},
	})

	events, err := a.StartStructured(context.Background(), adapter.StartOpts{
		AgentID: "agent-1",
		Mission: "fix the bug",
		OneShot: true,
	})
	if err != nil {
		t.Fatalf("StartStructured failed: %v", err)
	}

	var kinds []adapter.StructuredEventKind
	var end *adapter.EndPayload
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == adapter.EventEnd {
			end = ev.End
		}
	}

	want := []adapter.StructuredEventKind{
		adapter.EventTextDelta,
		adapter.EventToolStart,
		adapter.EventToolEnd,
		adapter.EventEnd,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got %v kinds, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
	if end == nil || end.Reason != "complete" {
		t.Fatalf("end payload = %+v, want reason complete", end)
	}
	if len(end.ToolsUsed) != 1 || end.ToolsUsed[0] != "Read" {
		t.Errorf("ToolsUsed = %v, want [Read]", end.ToolsUsed)
	}
}

func TestStartStructuredCancelEndsSession(t *testing.T) {
	a := New(Options{
		ModelID:        "claude-3.5-sonnet",
		messagesClient: &stubMessagesClient{streams: []*ssestream.Stream[sdk.MessageStreamEventUnion]{messageStopStream(t)}},
	})

	events, err := a.StartStructured(context.Background(), adapter.StartOpts{
		AgentID: "agent-2",
		Mission: "keep the conversation open",
	})
	if err != nil {
		t.Fatalf("StartStructured failed: %v", err)
	}

	if err := a.Cancel("agent-2"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	var last adapter.StructuredEvent
	for ev := range events {
		last = ev
	}
	if last.Kind != adapter.EventEnd || last.End == nil || last.End.Reason != "cancelled" {
		t.Fatalf("terminal event = %+v, want end/cancelled", last)
	}
}

// Two concurrent durable sessions on the one registered adapter instance:
// the agent-keyed controls must route to the right session instead of
// refusing because more than one is active.
func TestConcurrentSessionsRouteControlsByAgent(t *testing.T) {
	a := New(Options{
		ModelID: "claude-3.5-sonnet",
		messagesClient: &stubMessagesClient{streams: []*ssestream.Stream[sdk.MessageStreamEventUnion]{
			messageStopStream(t),
			messageStopStream(t),
		}},
	})

	eventsA, err := a.StartStructured(context.Background(), adapter.StartOpts{
		AgentID: "agent-a",
		Mission: "mission a",
	})
	if err != nil {
		t.Fatalf("StartStructured(agent-a) failed: %v", err)
	}
	eventsB, err := a.StartStructured(context.Background(), adapter.StartOpts{
		AgentID: "agent-b",
		Mission: "mission b",
	})
	if err != nil {
		t.Fatalf("StartStructured(agent-b) failed: %v", err)
	}

	if err := a.SendMessage(context.Background(), "agent-a", "follow-up for a"); err != nil {
		t.Fatalf("SendMessage(agent-a) with two active sessions failed: %v", err)
	}
	if err := a.SendMessage(context.Background(), "ghost", "nobody home"); err == nil {
		t.Error("SendMessage for an unknown agent should fail")
	}

	// A pending permission on agent-a must not be resolvable through
	// agent-b's session.
	sessA, err := a.session("agent-a")
	if err != nil {
		t.Fatalf("session(agent-a): %v", err)
	}
	approved := make(chan bool, 1)
	sessA.mu.Lock()
	sessA.pending["req-a"] = approved
	sessA.mu.Unlock()

	if err := a.RespondToPermission(context.Background(), "agent-b", "req-a", true, ""); err == nil {
		t.Error("RespondToPermission via the wrong agent should fail")
	}
	if err := a.RespondToPermission(context.Background(), "agent-a", "req-a", true, ""); err != nil {
		t.Fatalf("RespondToPermission(agent-a) failed: %v", err)
	}
	select {
	case ok := <-approved:
		if !ok {
			t.Error("approval = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("approval never delivered")
	}

	for id, events := range map[string]<-chan adapter.StructuredEvent{"agent-a": eventsA, "agent-b": eventsB} {
		if err := a.Cancel(id); err != nil {
			t.Fatalf("Cancel(%s) failed: %v", id, err)
		}
		var last adapter.StructuredEvent
		for ev := range events {
			last = ev
		}
		if last.Kind != adapter.EventEnd {
			t.Errorf("%s terminal event = %s, want end", id, last.Kind)
		}
	}
}

func TestExtractSummary(t *testing.T) {
	text := "did the work\nSUMMARY: fixed the typo\n"
	if got := extractSummary(text); got != "fixed the typo" {
		t.Errorf("extractSummary = %q", got)
	}
	if got := extractSummary("no summary line"); got != "" {
		t.Errorf("extractSummary = %q, want empty", got)
	}
}

func TestStartStructuredRequiresMission(t *testing.T) {
	a := New(Options{})
	if _, err := a.StartStructured(context.Background(), adapter.StartOpts{}); err == nil {
		t.Error("expected error for empty mission")
	}
}

func TestRespondToPermissionNoSession(t *testing.T) {
	a := New(Options{})
	if err := a.RespondToPermission(context.Background(), "agent-1", "req-1", true, ""); err == nil {
		t.Error("expected error for an agent with no session")
	}
}
