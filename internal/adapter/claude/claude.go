// Package claude implements the Orchestrator Adapter contract (C2) for the
// Claude Code CLI: SpawnInteractive drives the CLI itself inside a PTY,
// while StartStructured bypasses the CLI entirely and talks to the
// Anthropic Messages streaming API directly via
// github.com/anthropics/anthropic-sdk-go, translating the SDK's event union
// into the substrate's StructuredEvent tagged union.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/rs/zerolog"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

const defaultMaxTokens = 8192

// toolVerbs maps the tool names Claude Code's CLI and Messages API share
// onto the short present-participle verb shown in a detailed-status
// annotation.
var toolVerbs = map[string]string{
	"Read":      "reading",
	"Write":     "writing",
	"Edit":      "editing",
	"Bash":      "running a command",
	"Grep":      "searching",
	"Glob":      "searching files",
	"WebFetch":  "fetching a page",
	"WebSearch": "searching the web",
	"Task":      "delegating a task",
}

// messagesClient captures the subset of the Anthropic SDK client the
// structured path needs, so tests can substitute a stub instead of hitting
// the network.
type messagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Adapter drives the Claude Code CLI (interactively) and the Anthropic
// Messages API (structured mode).
type Adapter struct {
	binaryPath string
	apiKey     string
	modelID    string
	maxTokens  int

	msg     messagesClient
	msgOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*structuredSession
}

// Options configures an Adapter.
type Options struct {
	// BinaryPath is the resolved path to the claude CLI, typically produced
	// by internal/binlocator. Required only for interactive spawns.
	BinaryPath string
	// APIKey is the Anthropic API key used by the structured path. If
	// empty, NewFromEnv-style resolution inside anthropic-sdk-go applies
	// (ANTHROPIC_API_KEY).
	APIKey string
	// ModelID is the default model identifier for structured sessions
	// (e.g. string(sdk.ModelClaudeSonnet4_5_20250929)).
	ModelID string
	// MaxTokens bounds a single structured completion. Defaults to 8192.
	MaxTokens int
	// messagesClient overrides the Anthropic Messages client used by the
	// structured path. Exposed only to this package's tests.
	messagesClient messagesClient
}

// New constructs a claude Adapter.
func New(opts Options) *Adapter {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Adapter{
		binaryPath: opts.BinaryPath,
		apiKey:     opts.APIKey,
		modelID:    opts.ModelID,
		maxTokens:  maxTokens,
		msg:        opts.messagesClient,
		sessions:   make(map[string]*structuredSession),
	}
}

func (a *Adapter) Name() string { return "claude" }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Headless:         true,
		StructuredOutput: true,
		Hooks:            true,
		SessionResume:    true,
		Permissions:      true,
	}
}

func (a *Adapter) SpawnInteractive(ctx context.Context, opts adapter.StartOpts) (adapter.SpawnPlan, error) {
	if a.binaryPath == "" {
		return adapter.SpawnPlan{}, &adapter.AdapterError{
			Code:    adapter.ErrCodeSpawnFailed,
			Adapter: a.Name(),
			Message: "claude binary path not resolved (internal/binlocator must run first)",
		}
	}

	argv := []string{}
	if opts.ModelID != "" {
		argv = append(argv, "--model", opts.ModelID)
	}
	if opts.Resume != "" {
		argv = append(argv, "--resume", opts.Resume)
	}
	if opts.HookURL != "" {
		argv = append(argv, "--settings", hookSettingsJSON(opts.HookURL, opts.Nonce))
	}
	if opts.Mission != "" {
		argv = append(argv, opts.Mission)
	}

	return adapter.SpawnPlan{
		Executable: a.binaryPath,
		Argv:       argv,
		Cwd:        opts.Cwd,
	}, nil
}

func (a *Adapter) ToolVerb(toolName string) (string, bool) {
	verb, ok := toolVerbs[toolName]
	return verb, ok
}

// Cancel aborts agentID's structured session stream, causing it to emit
// its terminal end event and complete promptly. Cancelling an agent with
// no session is a no-op.
func (a *Adapter) Cancel(agentID string) error {
	a.mu.Lock()
	s, ok := a.sessions[agentID]
	a.mu.Unlock()
	if ok {
		s.close()
	}
	return nil
}

func (a *Adapter) Dispose() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, s := range a.sessions {
		s.close()
		delete(a.sessions, id)
	}
	return nil
}

// summaryPath is where a quick PTY agent is asked to drop its end-of-task
// summary; ReadQuickSummary consumes and deletes it.
func summaryPath(agentID string) string {
	return filepath.Join(os.TempDir(), "clubhouse-summary-"+agentID+".json")
}

func (a *Adapter) BuildSummaryInstruction(agentID string) string {
	return fmt.Sprintf(
		"Before finishing, write a JSON file to %s of the form "+
			`{"summary":"<one-paragraph summary of what you did>","filesModified":["<path>",...]}`+
			" describing your changes.",
		summaryPath(agentID))
}

// ReadQuickSummary reads the summary artifact a quick PTY agent wrote to
// the temp location named by BuildSummaryInstruction. Read-once: the file
// is deleted after a successful parse.
func (a *Adapter) ReadQuickSummary(ctx context.Context, agentID string) (*adapter.QuickSummary, error) {
	path := summaryPath(agentID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("claude: read quick summary: %w", err)
	}

	var payload struct {
		Summary       string   `json:"summary"`
		FilesModified []string `json:"filesModified"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("claude: decode quick summary: %w", err)
	}

	_ = os.Remove(path)
	return &adapter.QuickSummary{
		Summary:       payload.Summary,
		ModifiedFiles: payload.FilesModified,
	}, nil
}

func (a *Adapter) messages() messagesClient {
	a.msgOnce.Do(func() {
		if a.msg != nil {
			return
		}
		var opts []option.RequestOption
		if a.apiKey != "" {
			opts = append(opts, option.WithAPIKey(a.apiKey))
		}
		c := sdk.NewClient(opts...)
		a.msg = &c.Messages
	})
	return a.msg
}

func hookSettingsJSON(hookURL, nonce string) string {
	return fmt.Sprintf(`{"hooks":{"url":%q,"nonce":%q}}`, hookURL, nonce)
}

func (a *Adapter) logf() zerolog.Logger {
	return logger.WithComponent("adapter:" + a.Name())
}
