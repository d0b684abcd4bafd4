package persistence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsStoreRoundTrip(t *testing.T) {
	s := NewSettingsStore(t.TempDir())

	in := map[string]json.RawMessage{
		"notifications": json.RawMessage(`true`),
		"uiOnlyBlob":    json.RawMessage(`{"panes":["git","help"]}`),
	}
	require.NoError(t, s.Save(in))

	out, err := s.Get()
	require.NoError(t, err)
	assert.JSONEq(t, `true`, string(out["notifications"]))
	assert.JSONEq(t, `{"panes":["git","help"]}`, string(out["uiOnlyBlob"]))
}

func TestSettingsStoreEmptyBeforeFirstSave(t *testing.T) {
	s := NewSettingsStore(t.TempDir())
	out, err := s.Get()
	require.NoError(t, err)
	assert.Empty(t, out)
}
