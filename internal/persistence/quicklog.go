package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/agent"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/config"
)

// CompletedQuickAgentSink is the hand-off contract the Lifecycle
// Orchestrator uses when a quick agent exits: the record goes to whatever
// completion handler the UI front-end registered. QuickAgentLog below is
// one convenience implementation, not a mandated source of truth.
type CompletedQuickAgentSink interface {
	HandleCompletedQuickAgent(rec agent.CompletedQuickAgent)
}

// maxQuickAgentEntries caps the convenience log so it does not grow
// unbounded across a long-lived project; the UI applies its own display
// cap independently.
const maxQuickAgentEntries = 200

// QuickAgentLog is an optional per-project append-prepended record of
// completed quick agents, most-recent first, stored at
// <project>/.clubhouse/completed-quick-agents.json.
type QuickAgentLog struct {
	mu          sync.Mutex
	projectPath string
}

// NewQuickAgentLog returns a QuickAgentLog rooted at projectPath.
func NewQuickAgentLog(projectPath string) *QuickAgentLog {
	return &QuickAgentLog{projectPath: projectPath}
}

func (l *QuickAgentLog) path() string {
	return filepath.Join(config.ProjectDir(l.projectPath), "completed-quick-agents.json")
}

// HandleCompletedQuickAgent implements CompletedQuickAgentSink.
func (l *QuickAgentLog) HandleCompletedQuickAgent(rec agent.CompletedQuickAgent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return
	}

	entries = append([]agent.CompletedQuickAgent{rec}, entries...)
	if len(entries) > maxQuickAgentEntries {
		entries = entries[:maxQuickAgentEntries]
	}

	_ = l.writeLocked(entries)
}

// List returns the stored completed-quick-agent records, most recent
// first.
func (l *QuickAgentLog) List() ([]agent.CompletedQuickAgent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

func (l *QuickAgentLog) readLocked() ([]agent.CompletedQuickAgent, error) {
	data, err := os.ReadFile(l.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: read completed-quick-agents.json: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []agent.CompletedQuickAgent
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("persistence: decode completed-quick-agents.json: %w", err)
	}
	return entries, nil
}

func (l *QuickAgentLog) writeLocked(entries []agent.CompletedQuickAgent) error {
	dir := filepath.Dir(l.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "quick-agents-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, l.path())
}
