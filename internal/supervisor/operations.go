package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/agent"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/lifecycle"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/persistence"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/ptymgr"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// This file is the operation surface the UI front-end calls. Every method
// either succeeds, returns a typed error, or publishes an error event on
// the bus — never a panic across the boundary.

// ---- Projects ----

// ListProjects returns every registered project.
func (s *Supervisor) ListProjects() ([]persistence.Project, error) {
	return s.projects.List()
}

// AddProject registers path as a project.
func (s *Supervisor) AddProject(path string) (persistence.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return persistence.Project{}, fmt.Errorf("supervisor: resolve project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return persistence.Project{}, fmt.Errorf("supervisor: project path: %w", err)
	}
	if !info.IsDir() {
		return persistence.Project{}, fmt.Errorf("supervisor: project path %s is not a directory", abs)
	}
	return s.projects.Add(abs)
}

// RemoveProject unregisters the project with the given id; its files are
// untouched.
func (s *Supervisor) RemoveProject(id string) error {
	return s.projects.Remove(id)
}

// CheckGit reports whether path itself holds a .git directory. Parent
// directories are not searched, and a .git file (as in a linked worktree)
// does not count.
func (s *Supervisor) CheckGit(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}

// GitInit initializes a git repository at path.
func (s *Supervisor) GitInit(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "git", "init")
	cmd.Dir = path
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("supervisor: git init: %w: %s", err, out)
	}
	return nil
}

// ---- Per-project settings ----

// GetSettings returns the project's settings document. The core treats the
// body as opaque; front-end keys round-trip losslessly.
func (s *Supervisor) GetSettings(projectPath string) (map[string]json.RawMessage, error) {
	return s.settingsStoreFor(projectPath).Get()
}

// SaveSettings atomically replaces the project's settings document.
func (s *Supervisor) SaveSettings(projectPath string, settings map[string]json.RawMessage) error {
	return s.settingsStoreFor(projectPath).Save(settings)
}

// ---- Durable agent configs ----

// ListDurable returns the project's durable agent configs in persisted
// order.
func (s *Supervisor) ListDurable(projectPath string) ([]agent.DurableAgentConfig, error) {
	return s.Lifecycle.ListDurable(projectPath)
}

// CreateDurable persists a new durable agent config.
func (s *Supervisor) CreateDurable(projectPath string, cfg agent.DurableAgentConfig) error {
	return s.Lifecycle.CreateDurable(projectPath, cfg)
}

// DeleteDurable removes a durable agent config, best-effort removing any
// worktree captured alongside it.
func (s *Supervisor) DeleteDurable(projectPath, id string) error {
	return s.Lifecycle.DeleteDurable(projectPath, id)
}

// ---- Spawning and runtime control ----

// SpawnDurableOpts carries the per-spawn knobs beyond the persisted config.
type SpawnDurableOpts struct {
	Resume           bool
	PreferStructured bool
	Cols, Rows       uint16
	QuitSequence     string
}

// SpawnDurable starts a durable agent from its persisted config.
func (s *Supervisor) SpawnDurable(ctx context.Context, projectPath string, cfg agent.DurableAgentConfig, opts SpawnDurableOpts) (string, error) {
	resume := ""
	if opts.Resume {
		resume = cfg.LastSessionID
	}
	return s.Lifecycle.Spawn(ctx, lifecycle.SpawnRequest{
		ProjectID:        projectPath,
		Name:             cfg.Name,
		Color:            cfg.Color,
		Kind:             agent.KindDurable,
		ModelID:          cfg.Model,
		Orchestrator:     cfg.Orchestrator,
		Resume:           resume,
		PreferStructured: opts.PreferStructured,
		Cols:             opts.Cols,
		Rows:             opts.Rows,
		QuitSequence:     opts.QuitSequence,
	})
}

// SpawnQuickOpts carries a quick spawn's optional knobs.
type SpawnQuickOpts struct {
	Name             string
	ModelID          string
	Orchestrator     string
	ParentID         string
	Headless         bool
	PreferStructured bool
	Cols, Rows       uint16
	QuitSequence     string
}

// SpawnQuick starts a quick agent for a single mission.
func (s *Supervisor) SpawnQuick(ctx context.Context, projectPath, mission string, opts SpawnQuickOpts) (string, error) {
	return s.Lifecycle.Spawn(ctx, lifecycle.SpawnRequest{
		ProjectID:        projectPath,
		Name:             opts.Name,
		Kind:             agent.KindQuick,
		Mission:          mission,
		ModelID:          opts.ModelID,
		Orchestrator:     opts.Orchestrator,
		ParentID:         opts.ParentID,
		Headless:         opts.Headless,
		PreferStructured: opts.PreferStructured,
		Cols:             opts.Cols,
		Rows:             opts.Rows,
		QuitSequence:     opts.QuitSequence,
	})
}

// KillAgent requests a graceful-then-forceful stop of agentID.
func (s *Supervisor) KillAgent(agentID string) error {
	return s.Lifecycle.Kill(agentID)
}

// SendMessage forwards text to a structured-mode agent.
func (s *Supervisor) SendMessage(ctx context.Context, agentID, text string) error {
	return s.Lifecycle.SendMessage(ctx, agentID, text)
}

// RespondPermission forwards a permission decision to a structured-mode
// agent.
func (s *Supervisor) RespondPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error {
	return s.Lifecycle.RespondToPermission(ctx, agentID, requestID, approved, reason)
}

// WriteAgent forwards terminal input to a PTY-mode agent.
func (s *Supervisor) WriteAgent(agentID string, data []byte) error {
	return s.Lifecycle.Write(agentID, data)
}

// ResizeAgent requests a new terminal size for a PTY-mode agent.
func (s *Supervisor) ResizeAgent(agentID string, cols, rows uint16) error {
	return s.Lifecycle.Resize(agentID, cols, rows)
}

// GetAgentBuffer returns a PTY-mode agent's scrollback.
func (s *Supervisor) GetAgentBuffer(agentID string) ([]byte, error) {
	return s.Lifecycle.GetBuffer(agentID)
}

// ListAgents returns every live agent bound to projectPath (or every agent
// when projectPath is empty).
func (s *Supervisor) ListAgents(projectPath string) []*agent.Agent {
	return s.Registry.List(projectPath)
}

// ReadQuickSummary delegates to the agent's adapter, which owns the
// summary-artifact contract.
func (s *Supervisor) ReadQuickSummary(ctx context.Context, agentID string) (*adapter.QuickSummary, error) {
	orchestrator, ok := s.Registry.GetOrchestrator(agentID)
	if !ok {
		return nil, fmt.Errorf("supervisor: no agent %s", agentID)
	}
	ad, ok := adapter.Get(orchestrator)
	if !ok {
		return nil, fmt.Errorf("supervisor: no adapter registered for %q", orchestrator)
	}
	return ad.ReadQuickSummary(ctx, agentID)
}

// ---- Sessions and transcripts ----

// RecordSession records that agentID's orchestrator reported sessionID,
// making it available to ListSessions. How a session id is discovered is
// adapter-defined; adapters (or the UI layer observing them) call this when
// one surfaces.
func (s *Supervisor) RecordSession(agentID, orchestrator, sessionID string) error {
	if s.sessionIndex == nil {
		return nil
	}
	return s.sessionIndex.Upsert(agentID, orchestrator, sessionID, "")
}

// ListSessions returns the recorded sessions for agentID from the
// supplemental index. An adapter that maintains its own session layout is
// free to answer the UI directly instead.
func (s *Supervisor) ListSessions(agentID string) ([]persistence.SessionRecord, error) {
	if s.sessionIndex == nil {
		return nil, nil
	}
	return s.sessionIndex.ListSessions(agentID)
}

// UpdateSessionName renames (or clears) a session's display name in both
// the supplemental index and the durable config's session-name map. A
// session the index never recorded (an adapter resolving its own layout)
// still gets its config-map entry updated.
func (s *Supervisor) UpdateSessionName(projectPath, agentID, sessionID, name string) error {
	if s.sessionIndex != nil {
		if err := s.sessionIndex.UpdateSessionName(agentID, sessionID, name); err != nil {
			logger.Debug().Err(err).Str("agent_id", agentID).Msg("supervisor: session index rename skipped")
		}
	}
	return s.configStoreFor(projectPath).Update(agentID, func(cfg *agent.DurableAgentConfig) {
		if name == "" {
			delete(cfg.SessionNameMap, sessionID)
			return
		}
		if cfg.SessionNameMap == nil {
			cfg.SessionNameMap = make(map[string]string)
		}
		cfg.SessionNameMap[sessionID] = name
	})
}

// ReadTranscript returns every recorded event of agentID's structured
// transcript, oldest first.
func (s *Supervisor) ReadTranscript(agentID string) ([]json.RawMessage, error) {
	return persistence.ReadTranscript(s.logsDir, agentID)
}

// ConfigDrift is one field whose live value has diverged from the persisted
// durable config.
type ConfigDrift struct {
	Field  string `json:"field"`
	Stored string `json:"stored"`
	Live   string `json:"live"`
}

// ComputeConfigDiff compares a durable agent's persisted config against its
// live registry record, reporting every field that has drifted. A sleeping
// agent with no live record yields an empty diff.
func (s *Supervisor) ComputeConfigDiff(projectPath, agentID string) ([]ConfigDrift, error) {
	configs, err := s.configStoreFor(projectPath).List()
	if err != nil {
		return nil, err
	}

	var stored *agent.DurableAgentConfig
	for i := range configs {
		if configs[i].ID == agentID {
			stored = &configs[i]
			break
		}
	}
	if stored == nil {
		return nil, &persistence.NotFound{ID: agentID}
	}

	live, ok := s.Registry.Get(agentID)
	if !ok {
		return nil, nil
	}

	var diffs []ConfigDrift
	compare := func(field, storedVal, liveVal string) {
		if storedVal != liveVal {
			diffs = append(diffs, ConfigDrift{Field: field, Stored: storedVal, Live: liveVal})
		}
	}
	compare("name", stored.Name, live.Name)
	compare("color", stored.Color, live.Color)
	compare("model", stored.Model, live.ModelID)
	compare("orchestrator", stored.Orchestrator, live.Provider)
	return diffs, nil
}

// ---- Plain shells ----

// SpawnShell starts the user's shell in a PTY rooted at projectPath,
// registered under id alongside agent PTYs. Shell sessions are not agents:
// they have no lifecycle record, and their I/O uses the same pty-data /
// pty-exit channels keyed by id.
func (s *Supervisor) SpawnShell(id, projectPath string, cols, rows uint16) error {
	shell := os.Getenv("SHELL")
	if shell == "" {
		if runtime.GOOS == "windows" {
			shell = "cmd.exe"
		} else {
			shell = "/bin/sh"
		}
	}
	return s.PTY.Spawn(id, adapter.SpawnPlan{Executable: shell, Cwd: projectPath}, ptymgr.SpawnOpts{
		Cols: cols,
		Rows: rows,
	})
}

// WriteShell forwards input to a shell session.
func (s *Supervisor) WriteShell(id string, data []byte) error {
	return s.PTY.Write(id, data)
}

// ResizeShell requests a new size for a shell session.
func (s *Supervisor) ResizeShell(id string, cols, rows uint16) error {
	return s.PTY.Resize(id, cols, rows)
}

// KillShell force-kills a shell session; shells have no quit sequence to
// try first.
func (s *Supervisor) KillShell(id string) error {
	return s.PTY.ForceKill(id)
}

// GetShellBuffer returns a shell session's scrollback.
func (s *Supervisor) GetShellBuffer(id string) ([]byte, error) {
	return s.PTY.GetBuffer(id)
}

// ---- Structured session controls addressed directly ----

// CancelStructured cancels agentID's structured session without driving the
// full lifecycle stop path; the session's cleanup still produces the usual
// exit sequencing.
func (s *Supervisor) CancelStructured(agentID string) error {
	return s.Structured.Cancel(agentID)
}
