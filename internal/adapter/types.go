// Package adapter defines the Orchestrator Adapter contract (C2): the
// uniform surface each AI-provider implementation presents so the rest of
// the supervision substrate never has to know which provider it is driving.
package adapter

import (
	"context"
	"encoding/json"
	"time"
)

// SpawnPlan is what an adapter hands back for an interactive (PTY) spawn.
type SpawnPlan struct {
	Executable string
	Argv       []string
	Env        []string
	Cwd        string
}

// HookKind enumerates the normalized out-of-band callback kinds a provider
// can report.
type HookKind string

const (
	HookPreTool           HookKind = "pre_tool"
	HookPostTool          HookKind = "post_tool"
	HookPermissionRequest HookKind = "permission_request"
	HookToolError         HookKind = "tool_error"
	HookStop              HookKind = "stop"
)

// HookEvent is the normalized form of a provider-specific raw hook payload.
// Raw payloads never cross this boundary outward — only HookEvent does.
type HookEvent struct {
	Kind      HookKind       `json:"kind"`
	ToolName  string         `json:"toolName,omitempty"`
	ToolInput map[string]any `json:"toolInput,omitempty"`
	Message   string         `json:"message,omitempty"`
	Verb      string         `json:"verb,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StructuredEventKind discriminates the StructuredEvent tagged union.
type StructuredEventKind string

const (
	EventTextDelta         StructuredEventKind = "text_delta"
	EventTextDone          StructuredEventKind = "text_done"
	EventToolStart         StructuredEventKind = "tool_start"
	EventToolOutput        StructuredEventKind = "tool_output"
	EventToolEnd           StructuredEventKind = "tool_end"
	EventFileDiff          StructuredEventKind = "file_diff"
	EventCommandOutput     StructuredEventKind = "command_output"
	EventPermissionRequest StructuredEventKind = "permission_request"
	EventPlanUpdate        StructuredEventKind = "plan_update"
	EventThinking          StructuredEventKind = "thinking"
	EventError             StructuredEventKind = "error"
	EventUsage             StructuredEventKind = "usage"
	EventEnd               StructuredEventKind = "end"
)

// StructuredEvent is a discriminated variant over the non-PTY execution
// path's typed event stream. Exactly one of the payload
// fields is populated per Kind; unknown kinds (from a future provider
// version) are still written and broadcast by the Structured Session
// Manager, just not translated into a HookEvent.
type StructuredEvent struct {
	Kind      StructuredEventKind `json:"kind"`
	Timestamp time.Time           `json:"timestamp"`

	TextDelta         string                `json:"textDelta,omitempty"`
	ToolStart         *ToolStartPayload     `json:"toolStart,omitempty"`
	ToolOutput        *ToolOutputPayload    `json:"toolOutput,omitempty"`
	ToolEnd           *ToolEndPayload       `json:"toolEnd,omitempty"`
	FileDiff          *FileDiffPayload      `json:"fileDiff,omitempty"`
	CommandOutput     *CommandOutputPayload `json:"commandOutput,omitempty"`
	PermissionRequest *PermissionPayload    `json:"permissionRequest,omitempty"`
	PlanUpdate        *PlanUpdatePayload    `json:"planUpdate,omitempty"`
	Thinking          string                `json:"thinking,omitempty"`
	Error             *ErrorPayload         `json:"error,omitempty"`
	Usage             *UsagePayload         `json:"usage,omitempty"`
	End               *EndPayload           `json:"end,omitempty"`
	Extra             map[string]any        `json:"extra,omitempty"`
}

type ToolStartPayload struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type ToolOutputPayload struct {
	ID     string `json:"id"`
	Output string `json:"output"`
}

type ToolEndPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsError    bool   `json:"isError,omitempty"`
	DurationMS int64  `json:"durationMs,omitempty"`
}

type FileDiffPayload struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

type CommandOutputPayload struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

type PermissionPayload struct {
	RequestID string         `json:"requestId"`
	ToolName  string         `json:"toolName"`
	Input     map[string]any `json:"input,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

type PlanUpdatePayload struct {
	Steps []string `json:"steps"`
}

// ErrorPayload's Code is the machine-readable error kind; ADAPTER_ERROR marks
// a failed stream: the Structured Session Manager injects it when its own
// consumer fails, and the claude adapter emits it when a turn's provider
// stream errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const ErrorCodeAdapterError = "ADAPTER_ERROR"

type UsagePayload struct {
	InputTokens  int      `json:"inputTokens"`
	OutputTokens int      `json:"outputTokens"`
	CostUSD      *float64 `json:"costUsd,omitempty"`
}

type EndPayload struct {
	Reason        string   `json:"reason"`
	Summary       string   `json:"summary,omitempty"`
	ModifiedFiles []string `json:"modifiedFiles,omitempty"`
	ToolsUsed     []string `json:"toolsUsed,omitempty"`
	DurationMS    int64    `json:"durationMs,omitempty"`
	CostUSD       *float64 `json:"costUsd,omitempty"`
}

// Capabilities advertises what an adapter can do so the Lifecycle
// Orchestrator can select an execution mode without type-switching on a
// concrete adapter implementation.
type Capabilities struct {
	Headless         bool
	StructuredOutput bool
	Hooks            bool
	SessionResume    bool
	Permissions      bool
}

// StartOpts carries what an adapter needs to start a structured session.
type StartOpts struct {
	AgentID string
	Cwd     string
	Mission string
	ModelID string
	Resume  string // last session id, if SessionResume is advertised
	HookURL string
	Nonce   string

	// OneShot marks a quick-agent run: the session ends on its own once
	// the mission's first turn completes, instead of idling for follow-up
	// SendMessage turns.
	OneShot bool
}

// Adapter is the uniform contract each orchestrator provider implements.
// Polymorphism is over the Capabilities() descriptor, not inheritance: a
// PTY-only adapter simply returns a Capabilities with every field false and
// leaves the structured-only methods unreachable (the Lifecycle Orchestrator
// never calls StartStructured unless Capabilities().StructuredOutput is
// true).
//
// The registry holds one Adapter per provider name, shared by every agent
// running under that provider, so the bidirectional session controls are
// keyed by agent id: each call routes to that agent's session, and agents
// never observe one another's traffic.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	SpawnInteractive(ctx context.Context, opts StartOpts) (SpawnPlan, error)
	ParseHookEvent(raw json.RawMessage) (*HookEvent, error)
	ToolVerb(toolName string) (string, bool)

	StartStructured(ctx context.Context, opts StartOpts) (<-chan StructuredEvent, error)
	SendMessage(ctx context.Context, agentID, text string) error
	RespondToPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error
	Cancel(agentID string) error
	Dispose() error

	ReadQuickSummary(ctx context.Context, agentID string) (*QuickSummary, error)
	BuildSummaryInstruction(agentID string) string
}

// QuickSummary is the parsed contents of the end-of-task summary artifact a
// quick agent writes (or the equivalent parsed from a structured
// transcript's terminal event).
type QuickSummary struct {
	Summary       string
	ModifiedFiles []string
}
