// Package agent defines the core data model shared by the registry,
// lifecycle orchestrator, and persistence layer: the Agent record, its
// durable on-disk configuration, and the summary written when a quick
// agent completes.
package agent

import "time"

// Kind distinguishes a durable agent (survives restarts, pauses to
// "sleeping") from a quick agent (one mission, yields a CompletedQuickAgent).
type Kind string

const (
	KindDurable Kind = "durable"
	KindQuick   Kind = "quick"
)

// Status is a lifecycle state as defined by the Lifecycle Orchestrator's
// state machine.
type Status string

const (
	StatusSpawning Status = "spawning"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusSleeping Status = "sleeping"
	StatusError    Status = "error"
)

// Mode selects the execution path chosen at spawn time.
type Mode string

const (
	ModePTY        Mode = "pty"
	ModeStructured Mode = "structured"
)

// Agent is the in-memory record of a supervised orchestrator child process.
// Exactly one record exists per ID (see Registry); it is created by the
// Lifecycle Orchestrator and mutated only through Registry methods.
type Agent struct {
	ID        string
	ProjectID string
	Name      string
	Kind      Kind
	Status    Status
	Mode      Mode
	Color     string
	Mission   string
	ParentID  string
	ModelID   string
	Provider  string
	Nonce     string
	SpawnedAt time.Time

	ExitCode     *int
	LastOutput   string
	ErrorMessage string
	WorktreePath string
	Headless     bool

	// DetailedStatus is a short transient annotation ("Thinking…",
	// "Searching files") cleared by the stall-detection sweep once it goes
	// stale.
	DetailedStatus   string
	DetailedStatusAt time.Time

	// Cancelled records that killAgent was called for this agent, consulted
	// when computing the effective exit code of a quick agent on exit.
	Cancelled bool
}

// Clone returns a deep-enough copy for safe hand-off across goroutine
// boundaries (Registry never returns its internal pointer to callers).
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	cp := *a
	if a.ExitCode != nil {
		code := *a.ExitCode
		cp.ExitCode = &code
	}
	return &cp
}

// DurableAgentConfig is the persisted-on-disk form of a durable agent,
// stored as an ordered sequence under <project>/.clubhouse/agents.json.
// Order is user-facing and must be preserved exactly.
type DurableAgentConfig struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Color          string            `json:"color"`
	CreatedAt      time.Time         `json:"createdAt"`
	Model          string            `json:"model,omitempty"`
	Orchestrator   string            `json:"orchestrator,omitempty"`
	LastSessionID  string            `json:"lastSessionId,omitempty"`
	SessionNameMap map[string]string `json:"sessionNames,omitempty"`
}

// CompletedQuickAgent is the summary handed to the UI-registered sink when
// a quick agent exits.
type CompletedQuickAgent struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"projectId"`
	Name          string    `json:"name"`
	Mission       string    `json:"mission"`
	Summary       string    `json:"summary,omitempty"`
	ModifiedFiles []string  `json:"modifiedFiles"`
	ExitCode      int       `json:"exitCode"`
	CompletedAt   time.Time `json:"completedAt"`
	ParentID      string    `json:"parentId,omitempty"`
	Headless      bool      `json:"headless"`
	Cancelled     bool      `json:"cancelled"`
	CostUSD       *float64  `json:"costUsd,omitempty"`
	DurationMS    int64     `json:"durationMs"`
	ToolsUsed     []string  `json:"toolsUsed"`
	Orchestrator  string    `json:"orchestrator"`
	Model         string    `json:"model,omitempty"`
}
