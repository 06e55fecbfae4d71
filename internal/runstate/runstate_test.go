package runstate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunState(t *testing.T) {
	s := NewRunState("run-1", "a todo app")

	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, "a todo app", s.Request)
	assert.Empty(t, s.Agents)
	assert.False(t, s.StartedAt.IsZero())
	assert.Nil(t, s.CompletedAt)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := GetRunStatePath(t.TempDir())
	s := NewRunState("run-2", "weather api")
	s.Description = "build a weather api"
	s.StartAgent("Solutions Architect")
	s.FinishAgent("Solutions Architect", nil)
	s.StartAgent("Backend Developer")

	require.NoError(t, SaveRunState(s, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadRunState(path)
	require.NoError(t, err)
	assert.Equal(t, "build a weather api", loaded.Description)
	assert.Equal(t, "Backend Developer", loaded.CurrentAgent)
	require.Len(t, loaded.Agents, 2)
	assert.Equal(t, "finished", loaded.Agents[0].Status)
	assert.NotNil(t, loaded.Agents[0].FinishedAt)
	assert.Equal(t, "running", loaded.Agents[1].Status)
}

func TestLoadRunStateErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRunState(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = LoadRunState(bad)
	assert.Error(t, err)
}

func TestFinishAgentFailure(t *testing.T) {
	s := NewRunState("run-3", "x")
	s.StartAgent("Backend Developer")
	s.FinishAgent("Backend Developer", errors.New("too many failed builds"))

	require.Len(t, s.Agents, 1)
	assert.Equal(t, "failed", s.Agents[0].Status)
	assert.Equal(t, "too many failed builds", s.Agents[0].Error)
	assert.Empty(t, s.CurrentAgent)
}

func TestTerminalStates(t *testing.T) {
	tests := []struct {
		name string
		mark func(s *RunState)
		want Status
		err  string
	}{
		{"completed", func(s *RunState) { s.MarkCompleted() }, StatusCompleted, ""},
		{"completed with failures", func(s *RunState) { s.MarkCompletedWithFailures(errors.New("Backend Developer")) }, StatusCompletedWithFailures, "Backend Developer"},
		{"failed", func(s *RunState) { s.MarkFailed(errors.New("boom")) }, StatusFailed, "boom"},
		{"aborted", func(s *RunState) { s.MarkAborted(errors.New("declined")) }, StatusAborted, "declined"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewRunState("run", "x")
			s.StartAgent("Backend Developer")
			tc.mark(s)

			assert.Equal(t, tc.want, s.Status)
			assert.Equal(t, tc.err, s.Error)
			assert.NotNil(t, s.CompletedAt)
			assert.Empty(t, s.CurrentAgent)
		})
	}
}
