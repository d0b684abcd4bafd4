// Package eventbus implements the Event Bus (C6): in-process fan-out of
// pty-data / hook-event / pty-exit / agent-spawned notifications to any
// number of subscribers (UI windows, the Structured Session Manager):
// register/unregister/broadcast guarded by one mutex, with four typed
// channels keyed by agent ID.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
)

// Unsubscribe removes a previously registered listener. Calling it more
// than once is a no-op.
type Unsubscribe func()

// PTYDataListener receives raw bytes emitted by a PTY-backed child.
type PTYDataListener func(agentID string, data []byte)

// HookEventListener receives a normalized out-of-band callback.
type HookEventListener func(agentID string, event adapter.HookEvent)

// PTYExitListener receives the single terminal event for a PTY session.
type PTYExitListener func(agentID string, exitCode int, lastOutput string, err error)

// AgentSpawnedListener receives notice that a new agent has started.
type AgentSpawnedListener func(agentID, kind, projectID string, meta map[string]any)

type ptyDataEntry struct {
	id uint64
	fn PTYDataListener
}
type hookEventEntry struct {
	id uint64
	fn HookEventListener
}
type ptyExitEntry struct {
	id uint64
	fn PTYExitListener
}
type agentSpawnedEntry struct {
	id uint64
	fn AgentSpawnedListener
}

// Bus is the process-wide fan-out hub. The zero value is not usable; use
// New. The listener sets of all four channels are guarded by the same
// mutex; a publish snapshots the set under it and calls the listeners on the
// publishing goroutine, so publishes from different goroutines are not
// serialized against each other. Emit order within a channel is exactly
// registration order, and within a single agent's events it is exactly
// emission order.
type Bus struct {
	mu     sync.Mutex
	active atomic.Bool
	nextID uint64

	ptyData      []ptyDataEntry
	hookEvent    []hookEventEntry
	ptyExit      []ptyExitEntry
	agentSpawned []agentSpawnedEntry
}

// New returns an active Bus.
func New() *Bus {
	b := &Bus{}
	b.active.Store(true)
	return b
}

// SetActive flips the global active flag. While inactive, every Publish*
// call is a no-op — used to isolate tests from stray background activity.
func (b *Bus) SetActive(active bool) {
	b.active.Store(active)
}

func (b *Bus) nextListenerID() uint64 {
	b.nextID++
	return b.nextID
}

// OnPTYData registers fn for every pty-data event, returning an unregister
// token.
func (b *Bus) OnPTYData(fn PTYDataListener) Unsubscribe {
	b.mu.Lock()
	id := b.nextListenerID()
	b.ptyData = append(b.ptyData, ptyDataEntry{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.ptyData = removePTYData(b.ptyData, id)
	}
}

// OnHookEvent registers fn for every hook-event.
func (b *Bus) OnHookEvent(fn HookEventListener) Unsubscribe {
	b.mu.Lock()
	id := b.nextListenerID()
	b.hookEvent = append(b.hookEvent, hookEventEntry{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.hookEvent = removeHookEvent(b.hookEvent, id)
	}
}

// OnPTYExit registers fn for the single terminal pty-exit event per agent.
func (b *Bus) OnPTYExit(fn PTYExitListener) Unsubscribe {
	b.mu.Lock()
	id := b.nextListenerID()
	b.ptyExit = append(b.ptyExit, ptyExitEntry{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.ptyExit = removePTYExit(b.ptyExit, id)
	}
}

// OnAgentSpawned registers fn for every agent-spawned event.
func (b *Bus) OnAgentSpawned(fn AgentSpawnedListener) Unsubscribe {
	b.mu.Lock()
	id := b.nextListenerID()
	b.agentSpawned = append(b.agentSpawned, agentSpawnedEntry{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.agentSpawned = removeAgentSpawned(b.agentSpawned, id)
	}
}

// PublishPTYData fans data out to every pty-data listener, in registration
// order. Implements ptymgr.Publisher.
func (b *Bus) PublishPTYData(agentID string, data []byte) {
	if !b.active.Load() {
		return
	}
	b.mu.Lock()
	listeners := append([]ptyDataEntry(nil), b.ptyData...)
	b.mu.Unlock()
	for _, l := range listeners {
		l.fn(agentID, data)
	}
}

// PublishPTYExit fans the terminal exit event out. Implements
// ptymgr.Publisher.
func (b *Bus) PublishPTYExit(agentID string, exitCode int, lastOutput string, err error) {
	if !b.active.Load() {
		return
	}
	b.mu.Lock()
	listeners := append([]ptyExitEntry(nil), b.ptyExit...)
	b.mu.Unlock()
	for _, l := range listeners {
		l.fn(agentID, exitCode, lastOutput, err)
	}
}

// PublishHookEvent fans a normalized hook callback out.
func (b *Bus) PublishHookEvent(agentID string, event adapter.HookEvent) {
	if !b.active.Load() {
		return
	}
	b.mu.Lock()
	listeners := append([]hookEventEntry(nil), b.hookEvent...)
	b.mu.Unlock()
	for _, l := range listeners {
		l.fn(agentID, event)
	}
}

// PublishAgentSpawned fans a spawn notice out.
func (b *Bus) PublishAgentSpawned(agentID, kind, projectID string, meta map[string]any) {
	if !b.active.Load() {
		return
	}
	b.mu.Lock()
	listeners := append([]agentSpawnedEntry(nil), b.agentSpawned...)
	b.mu.Unlock()
	for _, l := range listeners {
		l.fn(agentID, kind, projectID, meta)
	}
}

// RemoveAllListeners clears every channel's listener set. Called at
// shutdown so a restarted Supervisor never double-delivers to stale
// closures.
func (b *Bus) RemoveAllListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ptyData = nil
	b.hookEvent = nil
	b.ptyExit = nil
	b.agentSpawned = nil
}

// ListenerCounts is a diagnostic snapshot used to catch listener leaks in
// tests: every count must return to zero after shutdown.
type ListenerCounts struct {
	PTYData      int
	HookEvent    int
	PTYExit      int
	AgentSpawned int
}

// GetListenerCounts returns the current listener count per channel.
func (b *Bus) GetListenerCounts() ListenerCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ListenerCounts{
		PTYData:      len(b.ptyData),
		HookEvent:    len(b.hookEvent),
		PTYExit:      len(b.ptyExit),
		AgentSpawned: len(b.agentSpawned),
	}
}

func removePTYData(s []ptyDataEntry, id uint64) []ptyDataEntry {
	for i, e := range s {
		if e.id == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func removeHookEvent(s []hookEventEntry, id uint64) []hookEventEntry {
	for i, e := range s {
		if e.id == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func removePTYExit(s []ptyExitEntry, id uint64) []ptyExitEntry {
	for i, e := range s {
		if e.id == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func removeAgentSpawned(s []agentSpawnedEntry, id uint64) []agentSpawnedEntry {
	for i, e := range s {
		if e.id == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
