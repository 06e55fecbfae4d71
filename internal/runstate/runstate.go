package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iambrandonn/coderloop/internal/fsutil"
)

// Status represents the overall state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"

	// StatusCompletedWithFailures means every agent ran but at least one
	// failed with a non-fatal error.
	StatusCompletedWithFailures Status = "completed_with_failures"
)

// AgentOutcome is how one agent's turn ended.
type AgentOutcome struct {
	Position   string     `json:"position"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunState represents the persisted state of a run
type RunState struct {
	RunID        string         `json:"run_id"`
	Status       Status         `json:"status"`
	Request      string         `json:"request"`
	Description  string         `json:"description,omitempty"`
	CurrentAgent string         `json:"current_agent,omitempty"`
	Agents       []AgentOutcome `json:"agents"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// NewRunState creates a new run state
func NewRunState(runID, request string) *RunState {
	return &RunState{
		RunID:     runID,
		Status:    StatusRunning,
		Request:   request,
		Agents:    []AgentOutcome{},
		StartedAt: time.Now().UTC(),
	}
}

// SaveRunState writes run state to disk atomically
func SaveRunState(state *RunState, path string) error {
	return fsutil.AtomicWriteJSON(path, state)
}

// LoadRunState reads run state from disk
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	if state.Agents == nil {
		state.Agents = []AgentOutcome{}
	}

	return &state, nil
}

// GetRunStatePath returns the standard path for run state
func GetRunStatePath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "state", "run.json")
}

// StartAgent records that position now owns the project.
func (s *RunState) StartAgent(position string) {
	s.CurrentAgent = position
	s.Agents = append(s.Agents, AgentOutcome{
		Position:  position,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	})
}

// FinishAgent closes the most recent entry for position.
func (s *RunState) FinishAgent(position string, err error) {
	for i := len(s.Agents) - 1; i >= 0; i-- {
		if s.Agents[i].Position != position {
			continue
		}
		now := time.Now().UTC()
		s.Agents[i].FinishedAt = &now
		s.Agents[i].Status = "finished"
		if err != nil {
			s.Agents[i].Status = "failed"
			s.Agents[i].Error = err.Error()
		}
		break
	}
	s.CurrentAgent = ""
}

// MarkCompleted marks the run as completed
func (s *RunState) MarkCompleted() {
	s.Status = StatusCompleted
	s.complete()
}

// MarkCompletedWithFailures marks a run that finished after non-fatal agent failures
func (s *RunState) MarkCompletedWithFailures(err error) {
	s.Status = StatusCompletedWithFailures
	if err != nil {
		s.Error = err.Error()
	}
	s.complete()
}

// MarkFailed marks the run as failed
func (s *RunState) MarkFailed(err error) {
	s.Status = StatusFailed
	if err != nil {
		s.Error = err.Error()
	}
	s.complete()
}

// MarkAborted marks the run as aborted
func (s *RunState) MarkAborted(err error) {
	s.Status = StatusAborted
	if err != nil {
		s.Error = err.Error()
	}
	s.complete()
}

func (s *RunState) complete() {
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.CurrentAgent = ""
}
