// Package supervisor consolidates the supervision substrate into a single
// root value: one struct owning the binary locator, event bus, registry,
// PTY and structured-session managers, hook ingress, lifecycle
// orchestrator, window bridge, and persistence stores, with every field
// injectable for tests.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/agent"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/binlocator"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/config"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/eventbus"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/hookserver"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/lifecycle"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/persistence"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/ptymgr"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/registry"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/structsession"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/windowbridge"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// observerRelay breaks the construction cycle between the Structured
// Session Manager (which wants an Observer at NewManager time) and the
// Lifecycle Orchestrator (which wants a StructRunner at New time, and is
// itself the Observer). The relay is built first, handed to the session
// manager, then pointed at the orchestrator once it exists.
type observerRelay struct {
	target structsession.Observer
}

func (r *observerRelay) OnSessionEnded(agentID string, lastEnd *adapter.EndPayload, err error) {
	if r.target != nil {
		r.target.OnSessionEnded(agentID, lastEnd, err)
	}
}

// Supervisor owns every C1-C10 component plus the ambient config/logging
// it was constructed from. Its exported fields are the dependency-injection
// seam tests use to substitute fakes for any one component while keeping
// the rest real.
type Supervisor struct {
	Config *config.Config

	Binlocator *binlocator.Locator
	Bus        *eventbus.Bus
	Registry   *registry.Registry
	PTY        *ptymgr.Manager
	Structured *structsession.Manager
	Hooks      *hookserver.Server
	Lifecycle  *lifecycle.Orchestrator
	Bridge     *windowbridge.Bridge

	dataDir string
	logsDir string

	mu             sync.Mutex
	configStores   map[string]*persistence.ConfigStore
	quickLogs      map[string]*persistence.QuickAgentLog
	settingsStores map[string]*persistence.SettingsStore
	watchers       map[string]*persistence.ConfigWatcher
	projects       *persistence.ProjectStore
	sessionIndex   *persistence.SessionIndex
}

// Options configures a new Supervisor.
type Options struct {
	Config *config.Config
	// DataDir roots the process-wide stores (projects.json, the session
	// index). Defaults to ~/.clubhouse.
	DataDir   string
	LogsDir   string
	Transport windowbridge.Transport
}

// New wires C1-C10 together. It does not start any of them; call Start.
func New(opts Options) (*Supervisor, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("supervisor: Config is required")
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		var err error
		if dataDir, err = config.DefaultConfigDir(); err != nil {
			return nil, fmt.Errorf("supervisor: resolve data dir: %w", err)
		}
	}

	s := &Supervisor{
		Config:         opts.Config,
		Binlocator:     binlocator.New(),
		Bus:            eventbus.New(),
		Registry:       registry.New(),
		dataDir:        dataDir,
		logsDir:        opts.LogsDir,
		configStores:   make(map[string]*persistence.ConfigStore),
		quickLogs:      make(map[string]*persistence.QuickAgentLog),
		settingsStores: make(map[string]*persistence.SettingsStore),
		watchers:       make(map[string]*persistence.ConfigWatcher),
		projects:       persistence.NewProjectStore(dataDir),
	}

	s.PTY = ptymgr.NewManager(s.Bus)
	s.Hooks = hookserver.New(s.Registry, adapter.Get, s.Bus)

	var ui structsession.UIBroadcaster = noopUIBroadcaster{}
	if opts.Transport != nil {
		s.Bridge = windowbridge.New(opts.Transport)
		ui = bridgeUIBroadcaster{bridge: s.Bridge}
	}

	relay := &observerRelay{}
	s.Structured = structsession.NewManager(opts.LogsDir, s.Bus, ui, relay)

	s.Lifecycle = lifecycle.New(lifecycle.Options{
		Agents:      s.Registry,
		PTY:         s.PTY,
		Structured:  s.Structured,
		Bus:         s.Bus,
		Adapters:    adapter.Get,
		ConfigStore: s.configStoreFor,
		QuickLog:    s.quickLogFor,
		HookURL:     s.Hooks.URL,
		OnCompleted: func(agentID string, kind agent.Kind) {
			if s.Bridge != nil {
				s.Bridge.EmitEvent("AGENT_COMPLETED", map[string]any{
					"agentId": agentID,
					"kind":    string(kind),
				})
			}
		},
		StallSweepInterval: opts.Config.Lifecycle.StallSweepInterval,
		QuickAutoExitDelay: opts.Config.Lifecycle.QuickAutoExitDelay,
	})
	relay.target = s.Lifecycle

	return s, nil
}

// noopUIBroadcaster satisfies structsession.UIBroadcaster for a Supervisor
// built without a window bridge (e.g. tests that only exercise the
// lifecycle/persistence path).
type noopUIBroadcaster struct{}

func (noopUIBroadcaster) BroadcastStructuredEvent(agentID string, event adapter.StructuredEvent) {}

// bridgeUIBroadcaster routes a structured session's raw event stream to
// every pop-out window through the Window Bridge's transport, tagging each
// event with the agent it belongs to.
type bridgeUIBroadcaster struct {
	bridge *windowbridge.Bridge
}

func (b bridgeUIBroadcaster) BroadcastStructuredEvent(agentID string, event adapter.StructuredEvent) {
	b.bridge.EmitEvent("STRUCTURED_EVENT", map[string]any{
		"agentId": agentID,
		"event":   event,
	})
}

// configStoreFor lazily builds (or returns the cached) durable-config store
// for projectPath.
func (s *Supervisor) configStoreFor(projectPath string) *persistence.ConfigStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.configStores[projectPath]; ok {
		return cs
	}
	cs := persistence.NewConfigStore(projectPath)
	s.configStores[projectPath] = cs
	return cs
}

// quickLogFor lazily builds (or returns the cached) completed-quick-agent
// sink for projectPath.
func (s *Supervisor) quickLogFor(projectPath string) *persistence.QuickAgentLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ql, ok := s.quickLogs[projectPath]; ok {
		return ql
	}
	ql := persistence.NewQuickAgentLog(projectPath)
	s.quickLogs[projectPath] = ql
	return ql
}

// settingsStoreFor lazily builds (or returns the cached) settings store for
// projectPath.
func (s *Supervisor) settingsStoreFor(projectPath string) *persistence.SettingsStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.settingsStores[projectPath]; ok {
		return ss
	}
	ss := persistence.NewSettingsStore(projectPath)
	s.settingsStores[projectPath] = ss
	return ss
}

// Start brings up the process-wide pieces that need an explicit lifetime:
// the loopback hook server, the optional sqlite-backed session-resume
// index, and the lifecycle orchestrator's stall-detection sweep.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.Hooks.Start(); err != nil {
		return fmt.Errorf("supervisor: start hook server: %w", err)
	}
	<-s.Hooks.WaitReady()

	indexPath := filepath.Join(s.dataDir, "clubhouse.db")
	if idx, ierr := persistence.OpenSessionIndex(indexPath); ierr == nil {
		s.sessionIndex = idx
	} else {
		logger.Warn().Err(ierr).Msg("supervisor: open session index, listSessions/updateSessionName fall back to adapter-only resolution")
	}

	if err := s.Lifecycle.Start(); err != nil {
		return fmt.Errorf("supervisor: start lifecycle: %w", err)
	}

	logger.Info().Int("hook_port", s.Hooks.Port()).Msg("supervisor: started")
	return nil
}

// SessionIndex returns the supplemental session-resume index, or nil if it
// could not be opened (adapters fall back to resolving their own sessions).
func (s *Supervisor) SessionIndex() *persistence.SessionIndex {
	return s.sessionIndex
}

// WatchProject begins watching projectPath's agents.json for edits made
// outside this process, broadcasting DURABLE_CONFIGS_CHANGED so every UI
// window reloads its durable-agent list. Idempotent per path.
func (s *Supervisor) WatchProject(projectPath string) error {
	s.mu.Lock()
	if _, ok := s.watchers[projectPath]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	w, err := persistence.WatchConfig(projectPath, func() {
		if s.Bridge != nil {
			s.Bridge.EmitEvent("DURABLE_CONFIGS_CHANGED", map[string]string{
				"projectPath": projectPath,
			})
		}
	})
	if err != nil {
		return fmt.Errorf("supervisor: watch project %s: %w", projectPath, err)
	}

	s.mu.Lock()
	if _, ok := s.watchers[projectPath]; ok {
		// Lost a race with a concurrent WatchProject for the same path.
		s.mu.Unlock()
		w.Stop()
		return nil
	}
	s.watchers[projectPath] = w
	s.mu.Unlock()
	return nil
}

// UnwatchProject stops the agents.json watcher for projectPath, if any.
func (s *Supervisor) UnwatchProject(projectPath string) {
	s.mu.Lock()
	w, ok := s.watchers[projectPath]
	if ok {
		delete(s.watchers, projectPath)
	}
	s.mu.Unlock()
	if ok {
		w.Stop()
	}
}

// Stop tears down every component with an explicit lifetime, in reverse
// dependency order: lifecycle sweep, project watchers, hook server, session
// index, then the event bus's listener set.
func (s *Supervisor) Stop() {
	s.Lifecycle.Stop()

	s.mu.Lock()
	watchers := s.watchers
	s.watchers = make(map[string]*persistence.ConfigWatcher)
	s.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}
	if err := s.Hooks.Stop(); err != nil {
		logger.Warn().Err(err).Msg("supervisor: stop hook server")
	}
	if s.sessionIndex != nil {
		if err := s.sessionIndex.Close(); err != nil {
			logger.Warn().Err(err).Msg("supervisor: close session index")
		}
	}
	s.Bus.RemoveAllListeners()
}
