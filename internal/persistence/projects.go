package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Project is one workspace root the supervisor manages agents for.
type Project struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"addedAt"`
}

// ProjectStore is the process-wide list of registered projects, stored at
// <user-data>/projects.json with the same atomic-replace discipline as
// agents.json.
type ProjectStore struct {
	mu   sync.Mutex
	path string
}

// NewProjectStore returns a ProjectStore persisting under dataDir.
func NewProjectStore(dataDir string) *ProjectStore {
	return &ProjectStore{path: filepath.Join(dataDir, "projects.json")}
}

// List returns every registered project, in registration order.
func (s *ProjectStore) List() ([]Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Add registers path as a project, minting an id. Re-adding an already
// registered path returns the existing record unchanged.
func (s *ProjectStore) Add(path string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects, err := s.loadLocked()
	if err != nil {
		return Project{}, err
	}

	for _, p := range projects {
		if p.Path == path {
			return p, nil
		}
	}

	p := Project{
		ID:      uuid.New().String(),
		Path:    path,
		Name:    filepath.Base(path),
		AddedAt: time.Now(),
	}
	projects = append(projects, p)
	if err := s.saveLocked(projects); err != nil {
		return Project{}, err
	}
	return p, nil
}

// Remove unregisters the project with the given id. The project's files on
// disk are untouched.
func (s *ProjectStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects, err := s.loadLocked()
	if err != nil {
		return err
	}

	for i, p := range projects {
		if p.ID == id {
			projects = append(projects[:i], projects[i+1:]...)
			return s.saveLocked(projects)
		}
	}
	return fmt.Errorf("persistence: no project %s", id)
}

// Get returns the project with the given id.
func (s *ProjectStore) Get(id string) (Project, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects, err := s.loadLocked()
	if err != nil {
		return Project{}, false, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, true, nil
		}
	}
	return Project{}, false, nil
}

func (s *ProjectStore) loadLocked() ([]Project, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: read projects.json: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var projects []Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("persistence: decode projects.json: %w", err)
	}
	return projects, nil
}

func (s *ProjectStore) saveLocked(projects []Project) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "projects-*.json.tmp")
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
	return os.Rename(tmpPath, s.path)
}
