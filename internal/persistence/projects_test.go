package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectStoreAddIsIdempotentPerPath(t *testing.T) {
	s := NewProjectStore(t.TempDir())

	p1, err := s.Add("/work/alpha")
	require.NoError(t, err)
	p2, err := s.Add("/work/alpha")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)

	projects, err := s.List()
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "alpha", projects[0].Name)
}

func TestProjectStoreRemove(t *testing.T) {
	s := NewProjectStore(t.TempDir())

	p, err := s.Add("/work/beta")
	require.NoError(t, err)
	require.NoError(t, s.Remove(p.ID))

	projects, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, projects)

	require.Error(t, s.Remove(p.ID))
}

func TestProjectStoreGet(t *testing.T) {
	s := NewProjectStore(t.TempDir())

	p, err := s.Add("/work/gamma")
	require.NoError(t, err)

	got, ok, err := s.Get(p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/work/gamma", got.Path)

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjectStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s := NewProjectStore(dir)
	_, err := s.Add("/work/delta")
	require.NoError(t, err)

	reopened := NewProjectStore(dir)
	projects, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "/work/delta", projects[0].Path)
}
