package claude

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
)

// hookPayloadSchemaDoc is the subset of Claude Code's hook payload contract
// the substrate relies on: every hook carries hook_event_name and, depending
// on kind, tool_name/tool_input/message. Validating against it before
// touching individual fields means a malformed or future-version payload is
// dropped at ParseHookEvent (nil, nil) instead of producing a zero-value
// HookEvent.
const hookPayloadSchemaDoc = `{
	"type": "object",
	"required": ["hook_event_name"],
	"properties": {
		"hook_event_name": {"type": "string"},
		"tool_name": {"type": "string"},
		"tool_input": {"type": "object"},
		"message": {"type": "string"}
	}
}`

var (
	hookSchema     *jsonschema.Schema
	hookSchemaOnce sync.Once
	hookSchemaErr  error
)

func compiledHookSchema() (*jsonschema.Schema, error) {
	hookSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(hookPayloadSchemaDoc), &doc); err != nil {
			hookSchemaErr = fmt.Errorf("decode hook schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("claude-hook.json", doc); err != nil {
			hookSchemaErr = fmt.Errorf("add hook schema resource: %w", err)
			return
		}
		hookSchema, hookSchemaErr = c.Compile("claude-hook.json")
	})
	return hookSchema, hookSchemaErr
}

// rawHookPayload mirrors the JSON shape Claude Code's hook callbacks POST.
// hook_event_name is one of PreToolUse, PostToolUse, Notification, Stop.
type rawHookPayload struct {
	HookEventName string         `json:"hook_event_name"`
	ToolName      string         `json:"tool_name"`
	ToolInput     map[string]any `json:"tool_input"`
	Message       string         `json:"message"`
}

var hookKindByEventName = map[string]adapter.HookKind{
	"PreToolUse":   adapter.HookPreTool,
	"PostToolUse":  adapter.HookPostTool,
	"Notification": adapter.HookPermissionRequest,
	"Stop":         adapter.HookStop,
	"SubagentStop": adapter.HookStop,
}

// ParseHookEvent validates raw against the claude hook payload schema, then
// normalizes it into an adapter.HookEvent. Per the adapter contract, unknown
// shapes return (nil, nil) rather than an error: a schema-invalid body or an
// unrecognized hook_event_name is silently dropped, not surfaced as a
// processing failure.
func (a *Adapter) ParseHookEvent(raw json.RawMessage) (*adapter.HookEvent, error) {
	schema, err := compiledHookSchema()
	if err != nil {
		return nil, fmt.Errorf("claude: compile hook schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, nil
	}
	if err := schema.Validate(instance); err != nil {
		return nil, nil
	}

	var payload rawHookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil
	}

	kind, ok := hookKindByEventName[payload.HookEventName]
	if !ok {
		return nil, nil
	}

	event := &adapter.HookEvent{
		Kind:      kind,
		ToolName:  payload.ToolName,
		ToolInput: payload.ToolInput,
		Message:   payload.Message,
		Timestamp: time.Now(),
	}
	if verb, ok := a.ToolVerb(payload.ToolName); ok {
		event.Verb = verb
	}
	return event, nil
}
