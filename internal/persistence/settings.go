package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/config"
)

// SettingsStore manages a project's settings file
// (<project>/.clubhouse/settings.json). The settings body is treated as an
// opaque keyed document: the core stores and returns it without
// interpreting any field, so front-end-owned keys round-trip losslessly.
type SettingsStore struct {
	mu          sync.Mutex
	projectPath string
}

// NewSettingsStore returns a SettingsStore rooted at projectPath.
func NewSettingsStore(projectPath string) *SettingsStore {
	return &SettingsStore{projectPath: projectPath}
}

func (s *SettingsStore) path() string {
	return filepath.Join(config.ProjectDir(s.projectPath), "settings.json")
}

// Get returns the project's settings document, or an empty document when
// none has been saved yet.
func (s *SettingsStore) Get() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: read settings.json: %w", err)
	}

	var settings map[string]json.RawMessage
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("persistence: decode settings.json: %w", err)
	}
	if settings == nil {
		settings = map[string]json.RawMessage{}
	}
	return settings, nil
}

// Save atomically replaces the project's settings document.
func (s *SettingsStore) Save(settings map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "settings-*.json.tmp")
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
	return os.Rename(tmpPath, s.path())
}
