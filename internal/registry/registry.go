// Package registry implements the Agent Registry (C7): the in-memory
// source-of-truth table of live agents, keyed by id, with a reverse index
// by project for listing. The registry never persists; durable identities
// are reloaded from the persistence layer on project load.
package registry

import (
	"fmt"
	"sync"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/agent"
)

// NotFound is returned by any accessor addressing an unknown agent id.
type NotFound struct{ AgentID string }

func (e *NotFound) Error() string {
	return fmt.Sprintf("registry: no agent %s", e.AgentID)
}

// NotTerminal is returned by Remove when the agent is not in a terminal
// status (sleeping or error); removal is only valid in terminal states.
type NotTerminal struct {
	AgentID string
	Status  agent.Status
}

func (e *NotTerminal) Error() string {
	return fmt.Sprintf("registry: agent %s is not terminal (status=%s)", e.AgentID, e.Status)
}

// Registry is the process-wide agent table. The zero value is not usable;
// use New.
type Registry struct {
	mu sync.RWMutex

	agents    map[string]*agent.Agent
	byProject map[string][]string // projectID -> ordered agent ids
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		agents:    make(map[string]*agent.Agent),
		byProject: make(map[string][]string),
	}
}

// Upsert inserts a new agent record or replaces the existing one by id.
func (r *Registry) Upsert(a *agent.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID]; !exists {
		r.byProject[a.ProjectID] = append(r.byProject[a.ProjectID], a.ID)
	}
	r.agents[a.ID] = a.Clone()
}

// Get returns a copy of the agent record for id.
func (r *Registry) Get(id string) (*agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// List returns a copy of every agent bound to projectID, in insertion
// order. An empty projectID lists every agent across all projects; agents
// keep insertion order within each project, but the order of the projects
// themselves is not defined.
func (r *Registry) List(projectID string) []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if projectID == "" {
		out := make([]*agent.Agent, 0, len(r.agents))
		for _, ids := range r.byProject {
			for _, id := range ids {
				if a, ok := r.agents[id]; ok {
					out = append(out, a.Clone())
				}
			}
		}
		return out
	}

	ids := r.byProject[projectID]
	out := make([]*agent.Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.agents[id]; ok {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Update applies patch to the stored agent record for id. patch mutates the
// record in place; all writes to a live agent go through this method, never
// direct mutation of a pointer returned by Get/List.
func (r *Registry) Update(id string, patch func(*agent.Agent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return &NotFound{AgentID: id}
	}
	patch(a)
	return nil
}

// Remove deletes the agent record for id. Valid only when the agent is in
// a terminal status (sleeping or error).
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return &NotFound{AgentID: id}
	}
	if a.Status != agent.StatusSleeping && a.Status != agent.StatusError {
		return &NotTerminal{AgentID: id, Status: a.Status}
	}

	delete(r.agents, id)
	ids := r.byProject[a.ProjectID]
	for i, existing := range ids {
		if existing == id {
			r.byProject[a.ProjectID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// GetProjectPath returns the filesystem path bound to agentID's project.
// Consulted by the Hook HTTP Ingress (C5). This substrate treats a
// project's id and its on-disk path as the same opaque string (no separate
// project registry is in scope here), so it is simply the agent's
// ProjectID field.
func (r *Registry) GetProjectPath(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return "", false
	}
	return a.ProjectID, true
}

// GetOrchestrator returns the provider/orchestrator name bound to agentID.
func (r *Registry) GetOrchestrator(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return "", false
	}
	return a.Provider, true
}

// GetNonce returns the per-agent nonce minted at spawn.
func (r *Registry) GetNonce(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return "", false
	}
	return a.Nonce, true
}

// Exists reports whether agentID is currently registered. Used by the Hook
// HTTP Ingress to decide whether to drop a request for an unknown agent.
func (r *Registry) Exists(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}
