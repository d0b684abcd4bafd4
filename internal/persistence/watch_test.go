package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/agent"
)

func TestWatchConfigObservesExternalWrite(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)
	require.NoError(t, store.Create(agent.DurableAgentConfig{ID: "a1", Name: "one"}))

	changed := make(chan struct{}, 4)
	w, err := WatchConfig(dir, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	// Simulate an external edit through a second store handle.
	require.NoError(t, NewConfigStore(dir).Create(agent.DurableAgentConfig{ID: "a2", Name: "two"}))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never observed the external write")
	}
}

func TestWatchConfigStopIsClean(t *testing.T) {
	dir := t.TempDir()
	w, err := WatchConfig(dir, func() {})
	require.NoError(t, err)
	w.Stop()
}
