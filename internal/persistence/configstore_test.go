package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/agent"
)

func TestConfigStoreCreateListOrderPreserved(t *testing.T) {
	dir := t.TempDir()
	s := NewConfigStore(dir)

	require.NoError(t, s.Create(agent.DurableAgentConfig{ID: "a1", Name: "one", CreatedAt: time.Now()}))
	require.NoError(t, s.Create(agent.DurableAgentConfig{ID: "a2", Name: "two", CreatedAt: time.Now()}))
	require.NoError(t, s.Create(agent.DurableAgentConfig{ID: "a3", Name: "three", CreatedAt: time.Now()}))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a1", "a2", "a3"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestConfigStoreUpdatePreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	s := NewConfigStore(dir)
	require.NoError(t, s.Create(agent.DurableAgentConfig{ID: "a1", Name: "one"}))

	// Simulate a future schema version having written a field this
	// version doesn't know about.
	raw, _, err := s.load()
	require.NoError(t, err)
	raw[0]["futureField"] = json.RawMessage(`"keep-me"`)
	require.NoError(t, s.save(raw))

	require.NoError(t, s.Update("a1", func(cfg *agent.DurableAgentConfig) { cfg.Name = "renamed" }))

	raw, typed, err := s.load()
	require.NoError(t, err)
	assert.Equal(t, "renamed", typed[0].Name)

	var future string
	require.NoError(t, json.Unmarshal(raw[0]["futureField"], &future))
	assert.Equal(t, "keep-me", future)
}

func TestConfigStoreDeleteRemovesWorktree(t *testing.T) {
	dir := t.TempDir()
	s := NewConfigStore(dir)
	require.NoError(t, s.Create(agent.DurableAgentConfig{ID: "a1", Name: "one"}))

	worktree := filepath.Join(dir, "worktree-a1")
	require.NoError(t, os.MkdirAll(worktree, 0o755))

	raw, _, err := s.load()
	require.NoError(t, err)
	buf, _ := json.Marshal(worktree)
	raw[0]["worktreePath"] = buf
	require.NoError(t, s.save(raw))

	require.NoError(t, s.Delete("a1"))

	_, err = os.Stat(worktree)
	assert.True(t, os.IsNotExist(err))

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConfigStoreUpdateMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s := NewConfigStore(dir)
	err := s.Update("missing", func(*agent.DurableAgentConfig) {})
	var nf *NotFound
	assert.ErrorAs(t, err, &nf)
}
