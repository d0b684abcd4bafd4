package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/agent"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/config"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/persistence"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	sup, err := New(Options{Config: cfg, DataDir: t.TempDir(), LogsDir: t.TempDir()})
	require.NoError(t, err)
	return sup
}

func TestProjectAddListRemove(t *testing.T) {
	sup := newTestSupervisor(t)
	dir := t.TempDir()

	p, err := sup.AddProject(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, p.Path)
	assert.NotEmpty(t, p.ID)

	// Re-adding the same path returns the existing record.
	again, err := sup.AddProject(dir)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	projects, err := sup.ListProjects()
	require.NoError(t, err)
	require.Len(t, projects, 1)

	require.NoError(t, sup.RemoveProject(p.ID))
	projects, err = sup.ListProjects()
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestAddProjectRejectsFiles(t *testing.T) {
	sup := newTestSupervisor(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := sup.AddProject(file)
	require.Error(t, err)
}

func TestCheckGit(t *testing.T) {
	sup := newTestSupervisor(t)
	dir := t.TempDir()

	assert.False(t, sup.CheckGit(dir))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	assert.True(t, sup.CheckGit(dir))
}

func TestSettingsRoundTripPreservesUnknownKeys(t *testing.T) {
	sup := newTestSupervisor(t)
	dir := t.TempDir()

	in := map[string]json.RawMessage{
		"theme":       json.RawMessage(`"dark"`),
		"futureKnob":  json.RawMessage(`{"nested":[1,2,3]}`),
		"soundVolume": json.RawMessage(`0.5`),
	}
	require.NoError(t, sup.SaveSettings(dir, in))

	out, err := sup.GetSettings(dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nested":[1,2,3]}`, string(out["futureKnob"]))
	assert.JSONEq(t, `"dark"`, string(out["theme"]))
}

func TestGetSettingsEmptyWhenUnsaved(t *testing.T) {
	sup := newTestSupervisor(t)
	out, err := sup.GetSettings(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestComputeConfigDiff(t *testing.T) {
	sup := newTestSupervisor(t)
	dir := t.TempDir()

	cfg := agent.DurableAgentConfig{ID: "dur-1", Name: "helper", Color: "blue", Model: "m1"}
	require.NoError(t, sup.CreateDurable(dir, cfg))

	// No live record: empty diff, no error.
	diffs, err := sup.ComputeConfigDiff(dir, "dur-1")
	require.NoError(t, err)
	assert.Empty(t, diffs)

	sup.Registry.Upsert(&agent.Agent{
		ID: "dur-1", ProjectID: dir, Name: "helper", Color: "red", ModelID: "m2",
	})

	diffs, err = sup.ComputeConfigDiff(dir, "dur-1")
	require.NoError(t, err)
	require.Len(t, diffs, 2)

	byField := map[string]ConfigDrift{}
	for _, d := range diffs {
		byField[d.Field] = d
	}
	assert.Equal(t, "blue", byField["color"].Stored)
	assert.Equal(t, "red", byField["color"].Live)
	assert.Equal(t, "m1", byField["model"].Stored)
	assert.Equal(t, "m2", byField["model"].Live)
}

func TestComputeConfigDiffUnknownAgent(t *testing.T) {
	sup := newTestSupervisor(t)
	_, err := sup.ComputeConfigDiff(t.TempDir(), "nope")
	var notFound *persistence.NotFound
	require.ErrorAs(t, err, &notFound)
}

func TestReadTranscriptRoundTrip(t *testing.T) {
	sup := newTestSupervisor(t)

	w, err := persistence.OpenTranscript(sup.logsDir, "agent-t")
	require.NoError(t, err)
	require.NoError(t, w.WriteEvent(map[string]string{"kind": "text_delta"}))
	require.NoError(t, w.WriteEvent(map[string]string{"kind": "end"}))
	require.NoError(t, w.Close())

	events, err := sup.ReadTranscript("agent-t")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Contains(t, string(events[1]), "end")
}
