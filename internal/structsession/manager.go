// Package structsession implements the Structured Session Manager (C4):
// the non-PTY execution path. Exactly one session runs per agent; starting
// a second cancels and replaces the first. Every event is written to an
// append-only JSONL transcript, broadcast to UI windows, and — where the
// translation table defines one — published as a normalized HookEvent on
// the Event Bus.
package structsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/persistence"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// NoSuchSession is returned by SendMessage/RespondToPermission when the
// agent has no active structured session.
type NoSuchSession struct{ AgentID string }

func (e *NoSuchSession) Error() string {
	return fmt.Sprintf("structsession: no active session for agent %s", e.AgentID)
}

// HookPublisher is the subset of the Event Bus (C6) this manager needs.
type HookPublisher interface {
	PublishHookEvent(agentID string, event adapter.HookEvent)
}

// UIBroadcaster fans a raw StructuredEvent out to subscribed UI windows.
// Defined here (rather than imported from a UI package) so this manager
// has no dependency on any rendering concern — only a narrow callback.
type UIBroadcaster interface {
	BroadcastStructuredEvent(agentID string, event adapter.StructuredEvent)
}

// Observer is notified when a session's event stream ends, for any
// reason — adapter-initiated "end", cancellation, or internal failure.
// The Lifecycle Orchestrator implements this to drive its exit sequencing.
type Observer interface {
	OnSessionEnded(agentID string, lastEnd *adapter.EndPayload, err error)
}

// session is the live handle for one agent's structured run.
type session struct {
	adapter    adapter.Adapter
	cancel     context.CancelFunc
	transcript *persistence.TranscriptWriter
	startedAt  time.Time

	mu      sync.Mutex
	lastEnd *adapter.EndPayload
}

// Manager runs at most one structured session per agent.
type Manager struct {
	bus      HookPublisher
	ui       UIBroadcaster
	observer Observer
	logsDir  string

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager returns a Manager that writes transcripts under logsDir,
// broadcasts raw events via ui, publishes translated HookEvents via bus,
// and notifies observer when a session ends.
func NewManager(logsDir string, bus HookPublisher, ui UIBroadcaster, observer Observer) *Manager {
	return &Manager{
		bus:      bus,
		ui:       ui,
		observer: observer,
		logsDir:  logsDir,
		sessions: make(map[string]*session),
	}
}

// Start begins a structured session for agentID, cancelling and replacing
// any existing one first.
func (m *Manager) Start(ctx context.Context, agentID string, ad adapter.Adapter, opts adapter.StartOpts) error {
	m.mu.Lock()
	if old, ok := m.sessions[agentID]; ok {
		m.mu.Unlock()
		m.cancelAndWait(agentID, old)
		m.mu.Lock()
	}
	m.mu.Unlock()

	transcript, err := persistence.OpenTranscript(m.logsDir, agentID)
	if err != nil {
		return fmt.Errorf("structsession: open transcript: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	events, err := ad.StartStructured(sessionCtx, opts)
	if err != nil {
		cancel()
		transcript.Close()
		return fmt.Errorf("structsession: start: %w", err)
	}

	sess := &session{adapter: ad, cancel: cancel, transcript: transcript, startedAt: time.Now()}

	m.mu.Lock()
	m.sessions[agentID] = sess
	m.mu.Unlock()

	go m.consume(agentID, sess, events)
	return nil
}

// cancelAndWait cancels an existing session and blocks briefly (up to 2s)
// for its consumer to close the transcript and drop it from the session
// table, so Start never races the replaced session's cleanup.
func (m *Manager) cancelAndWait(agentID string, old *session) {
	_ = old.adapter.Cancel(agentID)
	old.cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		cur, ok := m.sessions[agentID]
		m.mu.Unlock()
		if !ok || cur != old {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// translation maps a StructuredEventKind onto the HookEvent kind it
// produces. Kinds absent from this table are
// written and broadcast but not translated.
var translation = map[adapter.StructuredEventKind]adapter.HookKind{
	adapter.EventToolStart:         adapter.HookPreTool,
	adapter.EventToolEnd:           adapter.HookPostTool,
	adapter.EventPermissionRequest: adapter.HookPermissionRequest,
	adapter.EventError:             adapter.HookToolError,
	adapter.EventEnd:               adapter.HookStop,
}

func (m *Manager) consume(agentID string, sess *session, events <-chan adapter.StructuredEvent) {
	var endErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				endErr = fmt.Errorf("structsession: consumer panic: %v", r)
				m.emitAdapterError(agentID, sess, endErr)
			}
		}()

		for ev := range events {
			m.handleEvent(agentID, sess, ev)
		}
	}()

	sess.transcript.Close()

	m.mu.Lock()
	delete(m.sessions, agentID)
	m.mu.Unlock()

	sess.mu.Lock()
	lastEnd := sess.lastEnd
	sess.mu.Unlock()

	if m.observer != nil {
		m.observer.OnSessionEnded(agentID, lastEnd, endErr)
	}
}

func (m *Manager) handleEvent(agentID string, sess *session, ev adapter.StructuredEvent) {
	if ev.Kind == adapter.EventEnd && ev.End != nil {
		sess.mu.Lock()
		sess.lastEnd = ev.End
		sess.mu.Unlock()
	}

	if err := sess.transcript.WriteEvent(ev); err != nil {
		logger.Warn().Err(err).Str("agent_id", agentID).Msg("structsession: transcript write failed")
	}

	if m.ui != nil {
		m.ui.BroadcastStructuredEvent(agentID, ev)
	}

	if hookKind, ok := translation[ev.Kind]; ok && m.bus != nil {
		m.bus.PublishHookEvent(agentID, toHookEvent(hookKind, ev))
	}
}

func toHookEvent(kind adapter.HookKind, ev adapter.StructuredEvent) adapter.HookEvent {
	out := adapter.HookEvent{Kind: kind, Timestamp: ev.Timestamp}

	switch {
	case ev.ToolStart != nil:
		out.ToolName = ev.ToolStart.Name
		out.ToolInput = ev.ToolStart.Input
	case ev.ToolEnd != nil:
		out.ToolName = ev.ToolEnd.Name
	case ev.PermissionRequest != nil:
		out.ToolName = ev.PermissionRequest.ToolName
		out.ToolInput = ev.PermissionRequest.Input
		out.Message = ev.PermissionRequest.Reason
	case ev.Error != nil:
		out.Message = ev.Error.Message
	case ev.End != nil:
		out.Message = ev.End.Reason
	}
	return out
}

// emitAdapterError synthesizes and delivers an ADAPTER_ERROR event when
// the consumer itself fails, containing the failure to the owning agent
// instead of crashing the process.
func (m *Manager) emitAdapterError(agentID string, sess *session, err error) {
	ev := adapter.StructuredEvent{
		Kind:      adapter.EventError,
		Timestamp: time.Now(),
		Error:     &adapter.ErrorPayload{Code: adapter.ErrorCodeAdapterError, Message: err.Error()},
	}
	_ = sess.transcript.WriteEvent(ev)
	if m.ui != nil {
		m.ui.BroadcastStructuredEvent(agentID, ev)
	}
	if m.bus != nil {
		m.bus.PublishHookEvent(agentID, toHookEvent(adapter.HookToolError, ev))
	}
}

// Cancel stops the agent's structured session, causing its stream to
// complete promptly; OnSessionEnded still fires once the consumer drains.
func (m *Manager) Cancel(agentID string) error {
	sess, err := m.get(agentID)
	if err != nil {
		return err
	}
	if cerr := sess.adapter.Cancel(agentID); cerr != nil {
		logger.Warn().Err(cerr).Str("agent_id", agentID).Msg("structsession: adapter cancel failed")
	}
	sess.cancel()
	return nil
}

// SendMessage forwards text to the agent's active session.
func (m *Manager) SendMessage(ctx context.Context, agentID, text string) error {
	sess, err := m.get(agentID)
	if err != nil {
		return err
	}
	return sess.adapter.SendMessage(ctx, agentID, text)
}

// RespondToPermission forwards a permission decision to the agent's active
// session.
func (m *Manager) RespondToPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error {
	sess, err := m.get(agentID)
	if err != nil {
		return err
	}
	return sess.adapter.RespondToPermission(ctx, agentID, requestID, approved, reason)
}

func (m *Manager) get(agentID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[agentID]
	if !ok {
		return nil, &NoSuchSession{AgentID: agentID}
	}
	return sess, nil
}

// Active reports whether agentID currently has a live structured session.
func (m *Manager) Active(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[agentID]
	return ok
}
