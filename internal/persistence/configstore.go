// Package persistence implements the Persistence layer (C9): the
// per-project durable agent config file, the completed-quick-agent
// hand-off, per-session JSONL transcripts, and a supplemental sqlite
// session-resume index.
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

// record is a single agents.json entry decoded as a raw JSON object so
// fields this version of the struct doesn't know about still round-trip
// losslessly on rewrite.
type record map[string]json.RawMessage

var knownConfigFields = []string{
	"id", "name", "color", "createdAt", "model", "orchestrator",
	"lastSessionId", "sessionNames",
}

// ConfigStore manages the durable agent config file for one project
// (<project>/.clubhouse/agents.json). Order is preserved exactly — it is
// user-facing.
type ConfigStore struct {
	mu          sync.Mutex
	projectPath string
}

// NewConfigStore returns a ConfigStore rooted at projectPath.
func NewConfigStore(projectPath string) *ConfigStore {
	return &ConfigStore{projectPath: projectPath}
}

func (s *ConfigStore) path() string {
	return config.AgentsConfigPath(s.projectPath)
}

// List returns every durable agent config, in on-disk order.
func (s *ConfigStore) List() ([]agent.DurableAgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, typed, err := s.load()
	return typed, err
}

// load reads agents.json, returning both the raw records (for lossless
// rewrite) and their typed decoding (for callers).
func (s *ConfigStore) load() ([]record, []agent.DurableAgentConfig, error) {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("persistence: read agents.json: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, nil
	}

	var raw []record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("persistence: decode agents.json: %w", err)
	}

	typed := make([]agent.DurableAgentConfig, 0, len(raw))
	for _, r := range raw {
		var cfg agent.DurableAgentConfig
		if err := decodeRecord(r, &cfg); err != nil {
			return nil, nil, err
		}
		typed = append(typed, cfg)
	}
	return raw, typed, nil
}

func decodeRecord(r record, cfg *agent.DurableAgentConfig) error {
	buf, err := json.Marshal(map[string]json.RawMessage(r))
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, cfg)
}

// save atomically rewrites agents.json: tempfile + os.Rename in the same
// directory, so a crash mid-write never leaves a truncated file.
func (s *ConfigStore) save(raw []record) error {
	dir := filepath.Dir(s.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persistence: create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: encode agents.json: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "agents-*.json.tmp")
	if err != nil {
		return fmt.Errorf("persistence: create tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: write tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: close tempfile: %w", err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: rename tempfile: %w", err)
	}
	return nil
}

// Create appends cfg to the end of the sequence.
func (s *ConfigStore) Create(cfg agent.DurableAgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, _, err := s.load()
	if err != nil {
		return err
	}

	buf, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("persistence: encode config: %w", err)
	}
	var newRecord record
	if err := json.Unmarshal(buf, &newRecord); err != nil {
		return err
	}

	raw = append(raw, newRecord)
	return s.save(raw)
}

// Update applies patch to the config identified by id and rewrites only
// the known fields, leaving any unrecognized on-disk keys untouched.
func (s *ConfigStore) Update(id string, patch func(*agent.DurableAgentConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, typed, err := s.load()
	if err != nil {
		return err
	}

	for i := range typed {
		if typed[i].ID != id {
			continue
		}
		patch(&typed[i])

		buf, err := json.Marshal(typed[i])
		if err != nil {
			return err
		}
		var patched map[string]json.RawMessage
		if err := json.Unmarshal(buf, &patched); err != nil {
			return err
		}

		if raw[i] == nil {
			raw[i] = record{}
		}
		for _, key := range knownConfigFields {
			if v, ok := patched[key]; ok {
				raw[i][key] = v
			} else {
				delete(raw[i], key)
			}
		}
		return s.save(raw)
	}
	return &NotFound{ID: id}
}

// Delete removes the config identified by id and best-effort removes any
// worktree path captured alongside it (an unknown-to-this-struct field,
// "worktreePath", read directly off the raw record).
func (s *ConfigStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, _, err := s.load()
	if err != nil {
		return err
	}

	for i, r := range raw {
		var typedID string
		if v, ok := r["id"]; ok {
			_ = json.Unmarshal(v, &typedID)
		}
		if typedID != id {
			continue
		}

		if v, ok := r["worktreePath"]; ok {
			var worktree string
			if json.Unmarshal(v, &worktree) == nil && worktree != "" {
				_ = os.RemoveAll(worktree)
			}
		}

		raw = append(raw[:i], raw[i+1:]...)
		return s.save(raw)
	}
	return &NotFound{ID: id}
}

// NotFound is returned when no config matches the requested id.
type NotFound struct{ ID string }

func (e *NotFound) Error() string {
	return fmt.Sprintf("persistence: no durable agent config %s", e.ID)
}
