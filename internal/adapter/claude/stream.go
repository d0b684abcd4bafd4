package claude

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
)

// structuredSession holds the running conversation state for one agent's
// structured (non-PTY) execution, including the stream goroutine driving it
// and the pending-permission bookkeeping RespondToPermission consults.
type structuredSession struct {
	agentID   string
	cancel    context.CancelFunc
	events    chan adapter.StructuredEvent
	turns     chan string
	oneShot   bool
	startedAt time.Time

	mu       sync.Mutex
	messages []sdk.MessageParam
	pending  map[string]chan bool // requestID -> approval channel
	closed   bool
}

func (s *structuredSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
}

// StartStructured opens a structured session backed by the Anthropic
// Messages streaming API and returns a channel of normalized
// StructuredEvents. Each tool_use content block becomes a tool_start /
// tool_end pair; text deltas become text_delta events; the session's
// terminal event is a single end. One-shot sessions end after the mission's
// first turn; otherwise the session idles between turns waiting for
// SendMessage, and ends when cancelled.
func (a *Adapter) StartStructured(ctx context.Context, opts adapter.StartOpts) (<-chan adapter.StructuredEvent, error) {
	if opts.Mission == "" {
		return nil, &adapter.AdapterError{
			Code:    adapter.ErrCodeStreamFailed,
			Adapter: a.Name(),
			Message: "mission is required to start a structured session",
		}
	}

	mission := opts.Mission
	if opts.OneShot {
		mission += "\n\nWhen the task is complete, end your final message with a " +
			"line starting with \"SUMMARY: \" followed by a one-sentence summary."
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &structuredSession{
		agentID:   opts.AgentID,
		cancel:    cancel,
		events:    make(chan adapter.StructuredEvent, 64),
		turns:     make(chan string, 4),
		oneShot:   opts.OneShot,
		startedAt: time.Now(),
		pending:   make(map[string]chan bool),
	}
	sess.messages = append(sess.messages, sdk.NewUserMessage(sdk.NewTextBlock(mission)))

	a.mu.Lock()
	a.sessions[opts.AgentID] = sess
	a.mu.Unlock()

	model := opts.ModelID
	if model == "" {
		model = a.modelID
	}

	go a.runStructuredSession(sctx, sess, model)

	return sess.events, nil
}

// turnResult is what one streaming turn leaves behind for the session loop.
type turnResult struct {
	text      string
	toolsUsed []string
}

func (a *Adapter) runStructuredSession(ctx context.Context, sess *structuredSession, model string) {
	defer close(sess.events)
	defer a.evict(sess)

	var toolsUsed []string

	for {
		result, err := a.streamOneTurn(ctx, sess, model)
		if err != nil {
			a.emit(sess, adapter.StructuredEvent{
				Kind:      adapter.EventError,
				Timestamp: time.Now(),
				Error:     &adapter.ErrorPayload{Code: adapter.ErrorCodeAdapterError, Message: err.Error()},
			})
			a.emitEnd(sess, &adapter.EndPayload{
				Reason:     "error",
				ToolsUsed:  toolsUsed,
				DurationMS: time.Since(sess.startedAt).Milliseconds(),
			})
			return
		}

		toolsUsed = append(toolsUsed, result.toolsUsed...)

		sess.mu.Lock()
		sess.messages = append(sess.messages, sdk.NewAssistantMessage(sdk.NewTextBlock(result.text)))
		sess.mu.Unlock()

		if sess.oneShot {
			a.emitEnd(sess, &adapter.EndPayload{
				Reason:     "complete",
				Summary:    extractSummary(result.text),
				ToolsUsed:  toolsUsed,
				DurationMS: time.Since(sess.startedAt).Milliseconds(),
			})
			return
		}

		select {
		case text := <-sess.turns:
			sess.mu.Lock()
			sess.messages = append(sess.messages, sdk.NewUserMessage(sdk.NewTextBlock(text)))
			sess.mu.Unlock()
		case <-ctx.Done():
			a.emitEnd(sess, &adapter.EndPayload{
				Reason:     "cancelled",
				ToolsUsed:  toolsUsed,
				DurationMS: time.Since(sess.startedAt).Milliseconds(),
			})
			return
		}
	}
}

// streamOneTurn drives one Messages streaming call against the accumulated
// conversation, emitting structured events as they arrive and returning the
// turn's full assistant text.
func (a *Adapter) streamOneTurn(ctx context.Context, sess *structuredSession, model string) (turnResult, error) {
	sess.mu.Lock()
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(a.maxTokens),
		Messages:  append([]sdk.MessageParam(nil), sess.messages...),
	}
	sess.mu.Unlock()

	stream := a.messages().NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text      strings.Builder
		toolsUsed []string
		toolNames = make(map[int]string)
		toolIDs   = make(map[int]string)
	)

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			idx := int(ev.Index)
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolNames[idx] = toolUse.Name
				toolIDs[idx] = toolUse.ID
				toolsUsed = append(toolsUsed, toolUse.Name)
				a.emit(sess, adapter.StructuredEvent{
					Kind:      adapter.EventToolStart,
					Timestamp: time.Now(),
					ToolStart: &adapter.ToolStartPayload{ID: toolUse.ID, Name: toolUse.Name},
				})
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					text.WriteString(delta.Text)
					a.emit(sess, adapter.StructuredEvent{
						Kind:      adapter.EventTextDelta,
						Timestamp: time.Now(),
						TextDelta: delta.Text,
					})
				}
			case sdk.ThinkingDelta:
				if delta.Thinking != "" {
					a.emit(sess, adapter.StructuredEvent{
						Kind:      adapter.EventThinking,
						Timestamp: time.Now(),
						Thinking:  delta.Thinking,
					})
				}
			}
		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if name, ok := toolNames[idx]; ok {
				a.emit(sess, adapter.StructuredEvent{
					Kind:      adapter.EventToolEnd,
					Timestamp: time.Now(),
					ToolEnd:   &adapter.ToolEndPayload{ID: toolIDs[idx], Name: name},
				})
				delete(toolNames, idx)
				delete(toolIDs, idx)
			} else {
				a.emit(sess, adapter.StructuredEvent{Kind: adapter.EventTextDone, Timestamp: time.Now()})
			}
		case sdk.MessageDeltaEvent:
			a.emit(sess, adapter.StructuredEvent{
				Kind:      adapter.EventUsage,
				Timestamp: time.Now(),
				Usage: &adapter.UsagePayload{
					InputTokens:  int(ev.Usage.InputTokens),
					OutputTokens: int(ev.Usage.OutputTokens),
				},
			})
		}
	}

	if err := stream.Err(); err != nil {
		return turnResult{}, err
	}
	return turnResult{text: text.String(), toolsUsed: toolsUsed}, nil
}

func (a *Adapter) emitEnd(sess *structuredSession, end *adapter.EndPayload) {
	a.emit(sess, adapter.StructuredEvent{
		Kind:      adapter.EventEnd,
		Timestamp: time.Now(),
		End:       end,
	})
}

// extractSummary pulls the trailing "SUMMARY:" line a one-shot mission is
// instructed to finish with, or returns "" when the model skipped it.
func extractSummary(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if rest, ok := strings.CutPrefix(line, "SUMMARY:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// evict removes sess from the session table, but only if it is still the
// registered session for its agent — a replacement session started under
// the same id must not be torn out by the old goroutine's cleanup.
func (a *Adapter) evict(sess *structuredSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessions[sess.agentID] == sess {
		delete(a.sessions, sess.agentID)
	}
}

func (a *Adapter) emit(sess *structuredSession, ev adapter.StructuredEvent) {
	select {
	case sess.events <- ev:
	default:
		log := a.logf()
		log.Warn().Str("agent_id", sess.agentID).Msg("structured event dropped: consumer too slow")
	}
}

// SendMessage enqueues text as the next user turn of agentID's structured
// session.
func (a *Adapter) SendMessage(ctx context.Context, agentID, text string) error {
	sess, err := a.session(agentID)
	if err != nil {
		return err
	}
	if sess.oneShot {
		return fmt.Errorf("claude: session for agent %s is one-shot, follow-up turns are not accepted", agentID)
	}

	select {
	case sess.turns <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RespondToPermission resolves a pending permission_request on agentID's
// session by requestID.
func (a *Adapter) RespondToPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error {
	sess, err := a.session(agentID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	ch, ok := sess.pending[requestID]
	if ok {
		delete(sess.pending, requestID)
	}
	sess.mu.Unlock()
	if !ok {
		return fmt.Errorf("claude: no pending permission request %q for agent %s", requestID, agentID)
	}

	select {
	case ch <- approved:
	default:
	}
	return nil
}

func (a *Adapter) session(agentID string) (*structuredSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.sessions[agentID]
	if !ok {
		return nil, fmt.Errorf("claude: no active structured session for agent %s", agentID)
	}
	return sess, nil
}
