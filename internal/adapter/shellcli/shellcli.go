// Package shellcli implements a PTY-only Orchestrator Adapter for any
// command-line coding tool that has no structured/headless execution mode
// of its own — it is driven purely through its interactive terminal UI.
// Capabilities() returns every field false, so the Lifecycle Orchestrator
// never attempts StartStructured, hooks, or permission routing against it.
package shellcli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
)

// Adapter drives a bare CLI executable inside a PTY with no structured
// output, no hooks, and no session resume.
type Adapter struct {
	name       string
	executable string
	baseArgs   []string
}

// New returns a shellcli Adapter named name, spawning executable with
// baseArgs prepended to the mission text on every SpawnInteractive call.
func New(name, executable string, baseArgs ...string) *Adapter {
	return &Adapter{name: name, executable: executable, baseArgs: baseArgs}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{}
}

func (a *Adapter) SpawnInteractive(ctx context.Context, opts adapter.StartOpts) (adapter.SpawnPlan, error) {
	if a.executable == "" {
		return adapter.SpawnPlan{}, &adapter.AdapterError{
			Code:    adapter.ErrCodeSpawnFailed,
			Adapter: a.name,
			Message: "no executable configured",
		}
	}

	argv := make([]string, 0, len(a.baseArgs)+1)
	argv = append(argv, a.baseArgs...)
	if opts.Mission != "" {
		argv = append(argv, opts.Mission)
	}

	return adapter.SpawnPlan{
		Executable: a.executable,
		Argv:       argv,
		Cwd:        opts.Cwd,
	}, nil
}

func (a *Adapter) ParseHookEvent(raw json.RawMessage) (*adapter.HookEvent, error) {
	return nil, adapter.NewUnsupported(a.name, "ParseHookEvent")
}

func (a *Adapter) ToolVerb(toolName string) (string, bool) { return "", false }

func (a *Adapter) StartStructured(ctx context.Context, opts adapter.StartOpts) (<-chan adapter.StructuredEvent, error) {
	return nil, adapter.NewUnsupported(a.name, "StartStructured")
}

func (a *Adapter) SendMessage(ctx context.Context, agentID, text string) error {
	return adapter.NewUnsupported(a.name, "SendMessage")
}

func (a *Adapter) RespondToPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error {
	return adapter.NewUnsupported(a.name, "RespondToPermission")
}

func (a *Adapter) Cancel(agentID string) error { return nil }
func (a *Adapter) Dispose() error              { return nil }

func (a *Adapter) ReadQuickSummary(ctx context.Context, agentID string) (*adapter.QuickSummary, error) {
	return nil, adapter.NewUnsupported(a.name, "ReadQuickSummary")
}

func (a *Adapter) BuildSummaryInstruction(agentID string) string {
	return fmt.Sprintf("summarize what you did for agent %s before exiting", agentID)
}
