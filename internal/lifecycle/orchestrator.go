// Package lifecycle implements the Lifecycle Orchestrator (C8): the state
// machine that drives an agent from spawn through run, stop, and exit, and
// mediates every runtime operation (write, resize, sendMessage,
// respondPermission) between the UI-facing surface and the PTY and
// structured-session managers.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/agent"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/eventbus"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/persistence"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/ptymgr"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// detailedStatusTTL bounds how long a "Thinking…"-style annotation survives
// without a fresh hook refreshing it before the stall sweep clears it.
const detailedStatusTTL = 15 * time.Second

// WrongMode is returned when a runtime operation (write/resize vs
// sendMessage/respondPermission) is issued against an agent running in the
// other execution mode.
type WrongMode struct {
	AgentID string
	Have    agent.Mode
	Want    agent.Mode
}

func (e *WrongMode) Error() string {
	return fmt.Sprintf("lifecycle: agent %s is running in %s mode, not %s", e.AgentID, e.Have, e.Want)
}

// AgentStore is the subset of the Agent Registry (C7) the orchestrator
// needs.
type AgentStore interface {
	Upsert(a *agent.Agent)
	Get(id string) (*agent.Agent, bool)
	List(projectID string) []*agent.Agent
	Update(id string, patch func(*agent.Agent)) error
	Remove(id string) error
}

// PTYRunner is the subset of the PTY Manager (C3) the orchestrator needs.
type PTYRunner interface {
	Spawn(agentID string, plan adapter.SpawnPlan, opts ptymgr.SpawnOpts) error
	Write(agentID string, data []byte) error
	Resize(agentID string, cols, rows uint16) error
	GracefulKill(agentID string) error
	GetBuffer(agentID string) ([]byte, error)
}

// StructRunner is the subset of the Structured Session Manager (C4) the
// orchestrator needs.
type StructRunner interface {
	Start(ctx context.Context, agentID string, ad adapter.Adapter, opts adapter.StartOpts) error
	SendMessage(ctx context.Context, agentID, text string) error
	RespondToPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error
	Cancel(agentID string) error
}

// AdapterResolver looks a registered Orchestrator Adapter up by name,
// matching adapter.Get's signature.
type AdapterResolver func(name string) (adapter.Adapter, bool)

// ConfigStoreFactory lazily builds (or returns a cached) durable-config
// store for a project, keyed by the project's path.
type ConfigStoreFactory func(projectPath string) *persistence.ConfigStore

// QuickLogFactory lazily builds (or returns a cached) completed-quick-agent
// sink for a project.
type QuickLogFactory func(projectPath string) *persistence.QuickAgentLog

// CompletedListener is notified whenever any agent (durable or quick)
// reaches a terminal state, regardless of kind — the plugin-level
// "agent:completed" notification.
type CompletedListener func(agentID string, kind agent.Kind)

// SpawnRequest carries everything Spawn needs to reserve and start an
// agent.
type SpawnRequest struct {
	ProjectID    string
	Name         string
	Color        string
	Kind         agent.Kind
	Mission      string
	ModelID      string
	Orchestrator string
	Resume       string
	Headless     bool
	ParentID     string

	// ModeOverride, if non-empty, forces pty or structured regardless of
	// capability/preference. Empty defers to the selection policy.
	ModeOverride     agent.Mode
	PreferStructured bool

	Cols, Rows   uint16
	QuitSequence string
}

// Orchestrator owns the full agent state machine.
type Orchestrator struct {
	agents      AgentStore
	pty         PTYRunner
	structured  StructRunner
	bus         *eventbus.Bus
	adapters    AdapterResolver
	configStore ConfigStoreFactory
	quickLog    QuickLogFactory
	hookURL     func() string
	onCompleted CompletedListener

	cronSched          *cron.Cron
	stallSweepInterval time.Duration
	quickAutoExitDelay time.Duration

	unsubPTYExit   eventbus.Unsubscribe
	unsubHookEvent eventbus.Unsubscribe
}

// Options configures a new Orchestrator.
type Options struct {
	Agents             AgentStore
	PTY                PTYRunner
	Structured         StructRunner
	Bus                *eventbus.Bus
	Adapters           AdapterResolver
	ConfigStore        ConfigStoreFactory
	QuickLog           QuickLogFactory
	HookURL            func() string
	OnCompleted        CompletedListener
	StallSweepInterval time.Duration
	QuickAutoExitDelay time.Duration
}

// New builds an Orchestrator and wires it to bus for pty-exit and hook
// events. Call Start to begin the stall-detection sweep.
func New(opts Options) *Orchestrator {
	if opts.StallSweepInterval <= 0 {
		opts.StallSweepInterval = 10 * time.Second
	}
	if opts.QuickAutoExitDelay <= 0 {
		opts.QuickAutoExitDelay = 2 * time.Second
	}

	o := &Orchestrator{
		agents:             opts.Agents,
		pty:                opts.PTY,
		structured:         opts.Structured,
		bus:                opts.Bus,
		adapters:           opts.Adapters,
		configStore:        opts.ConfigStore,
		quickLog:           opts.QuickLog,
		hookURL:            opts.HookURL,
		onCompleted:        opts.OnCompleted,
		stallSweepInterval: opts.StallSweepInterval,
		quickAutoExitDelay: opts.QuickAutoExitDelay,
	}

	o.unsubPTYExit = o.bus.OnPTYExit(o.onPTYExit)
	o.unsubHookEvent = o.bus.OnHookEvent(o.onHookEvent)

	return o
}

// Start begins the cron-scheduled stall-detection sweep.
func (o *Orchestrator) Start() error {
	o.cronSched = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %s", o.stallSweepInterval)
	if _, err := o.cronSched.AddFunc(spec, o.sweepStalls); err != nil {
		return fmt.Errorf("lifecycle: schedule stall sweep: %w", err)
	}
	o.cronSched.Start()
	return nil
}

// Stop halts the stall sweep and unsubscribes from the Event Bus.
func (o *Orchestrator) Stop() {
	if o.cronSched != nil {
		ctx := o.cronSched.Stop()
		<-ctx.Done()
	}
	if o.unsubPTYExit != nil {
		o.unsubPTYExit()
	}
	if o.unsubHookEvent != nil {
		o.unsubHookEvent()
	}
}

// Spawn reserves an Agent record, resolves its adapter, decides an
// execution mode, and starts the child through C3 or C4.
func (o *Orchestrator) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	agentID := uuid.New().String()
	nonce := uuid.New().String()

	a := &agent.Agent{
		ID:        agentID,
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Kind:      req.Kind,
		Status:    agent.StatusSpawning,
		Color:     req.Color,
		Mission:   req.Mission,
		ParentID:  req.ParentID,
		ModelID:   req.ModelID,
		Provider:  req.Orchestrator,
		Nonce:     nonce,
		SpawnedAt: time.Now(),
		Headless:  req.Headless,
	}
	o.agents.Upsert(a)

	ad, ok := o.adapters(req.Orchestrator)
	if !ok {
		o.fail(agentID, fmt.Sprintf("no adapter registered for %q", req.Orchestrator))
		return agentID, fmt.Errorf("lifecycle: no adapter registered for %q", req.Orchestrator)
	}

	mode := o.selectMode(ad, req)
	mission := req.Mission
	if req.Kind == agent.KindQuick && mode == agent.ModePTY {
		mission = mission + "\n\n" + ad.BuildSummaryInstruction(agentID)
	}

	startOpts := adapter.StartOpts{
		AgentID: agentID,
		Cwd:     req.ProjectID,
		Mission: mission,
		ModelID: req.ModelID,
		Resume:  req.Resume,
		HookURL: o.hookURL(),
		Nonce:   nonce,
		OneShot: req.Kind == agent.KindQuick,
	}

	var startErr error
	switch mode {
	case agent.ModeStructured:
		startErr = o.structured.Start(ctx, agentID, ad, startOpts)
	default:
		mode = agent.ModePTY
		startErr = o.spawnPTY(ctx, agentID, ad, startOpts, req)
	}

	if startErr != nil {
		o.fail(agentID, startErr.Error())
		return agentID, fmt.Errorf("lifecycle: spawn agent %s: %w", agentID, startErr)
	}

	_ = o.agents.Update(agentID, func(ag *agent.Agent) {
		ag.Status = agent.StatusRunning
		ag.Mode = mode
	})

	o.bus.PublishAgentSpawned(agentID, string(req.Kind), req.ProjectID, map[string]any{
		"name": req.Name,
		"mode": string(mode),
	})

	return agentID, nil
}

func (o *Orchestrator) spawnPTY(ctx context.Context, agentID string, ad adapter.Adapter, opts adapter.StartOpts, req SpawnRequest) error {
	plan, err := ad.SpawnInteractive(ctx, opts)
	if err != nil {
		return err
	}
	plan.Env = append(plan.Env,
		fmt.Sprintf("CLUBHOUSE_HOOK_URL=%s/hook/%s", o.hookURL(), agentID),
		fmt.Sprintf("CLUBHOUSE_NONCE=%s", opts.Nonce),
	)
	return o.pty.Spawn(agentID, plan, ptymgr.SpawnOpts{
		Cols:         req.Cols,
		Rows:         req.Rows,
		QuitSequence: req.QuitSequence,
	})
}

// selectMode respects an explicit mode request; else selects structured
// iff the adapter advertises it and the caller opted in; else pty.
func (o *Orchestrator) selectMode(ad adapter.Adapter, req SpawnRequest) agent.Mode {
	if req.ModeOverride != "" {
		return req.ModeOverride
	}
	if ad.Capabilities().StructuredOutput && req.PreferStructured {
		return agent.ModeStructured
	}
	return agent.ModePTY
}

func (o *Orchestrator) fail(agentID, message string) {
	_ = o.agents.Update(agentID, func(ag *agent.Agent) {
		ag.Status = agent.StatusError
		ag.ErrorMessage = message
	})
}

// Kill requests that an agent stop: marks it stopping and cancelled, then
// delegates to the runner matching its execution mode.
func (o *Orchestrator) Kill(agentID string) error {
	a, ok := o.agents.Get(agentID)
	if !ok {
		return fmt.Errorf("lifecycle: kill: no agent %s", agentID)
	}

	_ = o.agents.Update(agentID, func(ag *agent.Agent) {
		ag.Status = agent.StatusStopping
		ag.Cancelled = true
	})

	if a.Mode == agent.ModeStructured {
		return o.structured.Cancel(agentID)
	}
	return o.pty.GracefulKill(agentID)
}

// Write forwards terminal input to a PTY-mode agent.
func (o *Orchestrator) Write(agentID string, data []byte) error {
	a, err := o.requirePTY(agentID)
	if err != nil {
		return err
	}
	return o.pty.Write(a.ID, data)
}

// Resize requests a new terminal size for a PTY-mode agent.
func (o *Orchestrator) Resize(agentID string, cols, rows uint16) error {
	a, err := o.requirePTY(agentID)
	if err != nil {
		return err
	}
	return o.pty.Resize(a.ID, cols, rows)
}

// GetBuffer returns a PTY-mode agent's scrollback.
func (o *Orchestrator) GetBuffer(agentID string) ([]byte, error) {
	a, err := o.requirePTY(agentID)
	if err != nil {
		return nil, err
	}
	return o.pty.GetBuffer(a.ID)
}

// SendMessage forwards text to a structured-mode agent's active session.
func (o *Orchestrator) SendMessage(ctx context.Context, agentID, text string) error {
	a, err := o.requireStructured(agentID)
	if err != nil {
		return err
	}
	return o.structured.SendMessage(ctx, a.ID, text)
}

// RespondToPermission forwards a permission decision to a structured-mode
// agent's active session. The orchestrator is the single place that
// mediates permission responses.
func (o *Orchestrator) RespondToPermission(ctx context.Context, agentID, requestID string, approved bool, reason string) error {
	a, err := o.requireStructured(agentID)
	if err != nil {
		return err
	}
	return o.structured.RespondToPermission(ctx, a.ID, requestID, approved, reason)
}

func (o *Orchestrator) requirePTY(agentID string) (*agent.Agent, error) {
	a, ok := o.agents.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("lifecycle: no agent %s", agentID)
	}
	if a.Mode != agent.ModePTY {
		return nil, &WrongMode{AgentID: agentID, Have: a.Mode, Want: agent.ModePTY}
	}
	return a, nil
}

func (o *Orchestrator) requireStructured(agentID string) (*agent.Agent, error) {
	a, ok := o.agents.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("lifecycle: no agent %s", agentID)
	}
	if a.Mode != agent.ModeStructured {
		return nil, &WrongMode{AgentID: agentID, Have: a.Mode, Want: agent.ModeStructured}
	}
	return a, nil
}

// SetDetailedStatus records a transient annotation ("Thinking…", "Searching
// files") for agentID, consulted by the UI and cleared by the stall sweep
// once it goes stale.
func (o *Orchestrator) SetDetailedStatus(agentID, status string) {
	_ = o.agents.Update(agentID, func(ag *agent.Agent) {
		ag.DetailedStatus = status
		ag.DetailedStatusAt = time.Now()
	})
}

// sweepStalls clears detailed-status annotations older than
// detailedStatusTTL so the UI never displays a stuck "Thinking…" label
// after a child stops emitting hooks.
func (o *Orchestrator) sweepStalls() {
	now := time.Now()
	for _, a := range o.agents.List("") {
		if a.DetailedStatus == "" {
			continue
		}
		if now.Sub(a.DetailedStatusAt) > detailedStatusTTL {
			_ = o.agents.Update(a.ID, func(ag *agent.Agent) {
				ag.DetailedStatus = ""
			})
		}
	}
}

// onPTYExit is registered with the Event Bus at construction and drives
// exit handling for PTY-mode agents.
func (o *Orchestrator) onPTYExit(agentID string, exitCode int, lastOutput string, err error) {
	o.handleExit(agentID, exitCode, lastOutput, nil, err)
}

// OnSessionEnded implements structsession.Observer, driving exit handling
// for structured-mode agents.
func (o *Orchestrator) OnSessionEnded(agentID string, lastEnd *adapter.EndPayload, err error) {
	o.handleExit(agentID, 0, "", lastEnd, err)
}

// handleExit is the single path both execution modes funnel through on
// their terminal event: transition to sleeping, compute the effective exit
// code, hand a completed-quick-agent record to persistence if applicable,
// and remove quick agents from the registry.
func (o *Orchestrator) handleExit(agentID string, rawExitCode int, lastOutput string, end *adapter.EndPayload, sessionErr error) {
	a, ok := o.agents.Get(agentID)
	if !ok {
		return
	}

	var quickSummary *adapter.QuickSummary
	if a.Kind == agent.KindQuick && end == nil {
		if ad, ok := o.adapters(a.Provider); ok {
			if qs, qerr := ad.ReadQuickSummary(context.Background(), agentID); qerr == nil {
				quickSummary = qs
			}
		}
	}

	summaryPresent := (end != nil && end.Summary != "") || quickSummary != nil
	effectiveExitCode := rawExitCode
	if summaryPresent {
		effectiveExitCode = 0
	}

	_ = o.agents.Update(agentID, func(ag *agent.Agent) {
		ag.Status = agent.StatusSleeping
		code := effectiveExitCode
		ag.ExitCode = &code
		ag.LastOutput = lastOutput
		if sessionErr != nil {
			ag.ErrorMessage = sessionErr.Error()
		}
	})

	if a.Kind == agent.KindQuick {
		rec := agent.CompletedQuickAgent{
			ID:           agentID,
			ProjectID:    a.ProjectID,
			Name:         a.Name,
			Mission:      a.Mission,
			ExitCode:     effectiveExitCode,
			CompletedAt:  time.Now(),
			ParentID:     a.ParentID,
			Headless:     a.Headless,
			Cancelled:    a.Cancelled,
			Orchestrator: a.Provider,
			Model:        a.ModelID,
		}
		switch {
		case end != nil:
			rec.Summary = end.Summary
			rec.ModifiedFiles = end.ModifiedFiles
			rec.ToolsUsed = end.ToolsUsed
			rec.DurationMS = end.DurationMS
			rec.CostUSD = end.CostUSD
		case quickSummary != nil:
			rec.Summary = quickSummary.Summary
			rec.ModifiedFiles = quickSummary.ModifiedFiles
		}

		if o.quickLog != nil {
			if sink := o.quickLog(a.ProjectID); sink != nil {
				sink.HandleCompletedQuickAgent(rec)
			}
		}
		if rerr := o.agents.Remove(agentID); rerr != nil {
			logger.Warn().Err(rerr).Str("agent_id", agentID).Msg("lifecycle: remove completed quick agent")
		}
	}

	if o.onCompleted != nil {
		o.onCompleted(agentID, a.Kind)
	}
}

// onHookEvent is registered with the Event Bus and implements the
// quick-PTY auto-exit: when a "stop" hook arrives for a quick, non-headless
// PTY agent, schedule a delayed killAgent to let the child flush its
// summary file.
func (o *Orchestrator) onHookEvent(agentID string, event adapter.HookEvent) {
	if event.Kind != adapter.HookStop {
		return
	}
	a, ok := o.agents.Get(agentID)
	if !ok || a.Kind != agent.KindQuick || a.Mode != agent.ModePTY || a.Headless {
		return
	}

	time.AfterFunc(o.quickAutoExitDelay, func() {
		cur, ok := o.agents.Get(agentID)
		if !ok || cur.Status != agent.StatusRunning {
			return
		}
		if err := o.Kill(agentID); err != nil {
			logger.Warn().Err(err).Str("agent_id", agentID).Msg("lifecycle: quick-agent auto-exit kill failed")
		}
	})
}

// CreateDurable persists a new durable agent's config record.
func (o *Orchestrator) CreateDurable(projectPath string, cfg agent.DurableAgentConfig) error {
	return o.configStore(projectPath).Create(cfg)
}

// UpdateDurable patches a durable agent's persisted config record.
func (o *Orchestrator) UpdateDurable(projectPath, id string, patch func(*agent.DurableAgentConfig)) error {
	return o.configStore(projectPath).Update(id, patch)
}

// DeleteDurable removes a durable agent's persisted config record,
// best-effort removing any captured worktree path.
func (o *Orchestrator) DeleteDurable(projectPath, id string) error {
	return o.configStore(projectPath).Delete(id)
}

// ListDurable returns every durable agent config for a project, in
// persisted order.
func (o *Orchestrator) ListDurable(projectPath string) ([]agent.DurableAgentConfig, error) {
	return o.configStore(projectPath).List()
}
