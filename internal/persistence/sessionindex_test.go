package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIndexUpsertListUpdate(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenSessionIndex(filepath.Join(dir, "clubhouse.db"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Upsert("a1", "claude", "sess-1", "first run"))
	require.NoError(t, idx.Upsert("a1", "claude", "sess-2", "second run"))

	sessions, err := idx.ListSessions("a1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, idx.UpdateSessionName("a1", "sess-1", "renamed"))
	sessions, err = idx.ListSessions("a1")
	require.NoError(t, err)

	names := map[string]string{}
	for _, s := range sessions {
		names[s.SessionID] = s.Name
	}
	assert.Equal(t, "renamed", names["sess-1"])
	assert.Equal(t, "second run", names["sess-2"])
}

func TestSessionIndexUpsertWithEmptyNameKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenSessionIndex(filepath.Join(dir, "clubhouse.db"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Upsert("a1", "claude", "sess-1", "named"))
	require.NoError(t, idx.Upsert("a1", "claude", "sess-1", ""))

	sessions, err := idx.ListSessions("a1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "named", sessions[0].Name)
}

func TestSessionIndexUpdateMissingErrors(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenSessionIndex(filepath.Join(dir, "clubhouse.db"))
	require.NoError(t, err)
	defer idx.Close()

	err = idx.UpdateSessionName("a1", "missing", "x")
	assert.Error(t, err)
}
