// Package sequencer turns a user request into a project and hands it to each
// agent in turn.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/coderloop/internal/agent"
	"github.com/iambrandonn/coderloop/internal/gate"
	"github.com/iambrandonn/coderloop/internal/oracle"
	"github.com/iambrandonn/coderloop/internal/project"
	"github.com/iambrandonn/coderloop/internal/runstate"
	"github.com/iambrandonn/coderloop/internal/transcript"
)

const managerPosition = "Project Manager"

// ErrAgentsFailed is returned when the run went through every agent but some
// of them failed with non-fatal errors.
var ErrAgentsFailed = errors.New("one or more agents failed")

// Config wires the sequencer and the agents it creates.
type Config struct {
	Oracle  oracle.Client
	Builder agent.Builder
	Store   agent.CodeStore
	Gate    gate.Confirmer

	Backend               agent.BackendOptions
	DiscoveryProbeTimeout time.Duration

	// ContinueOnAgentFailure keeps going after an agent fails with a
	// non-fatal error. Fatal errors always stop the run.
	ContinueOnAgentFailure bool

	// StatePath is where run state is written; empty disables it.
	StatePath string

	Narrator *transcript.Narrator
	Logger   *slog.Logger
	Recorder agent.Recorder
}

// Outcome is how one agent's turn ended.
type Outcome struct {
	Position string
	Status   agent.Status
	Err      error
}

// Report summarises a run.
type Report struct {
	RunID    string
	Project  *project.Project
	Outcomes []Outcome
	Probes   []agent.RouteProbe
}

// Sequencer runs agents one at a time against a shared project.
type Sequencer struct {
	cfg Config
}

func New(cfg Config) *Sequencer {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Narrator == nil {
		cfg.Narrator = transcript.Discard()
	}
	return &Sequencer{cfg: cfg}
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102-150405"), uuid.New().String()[:8])
}

func (s *Sequencer) agents() []agent.Agent {
	deps := agent.Deps{
		Oracle:   s.cfg.Oracle,
		Narrator: s.cfg.Narrator,
		Logger:   s.cfg.Logger,
		Recorder: s.cfg.Recorder,
	}
	return []agent.Agent{
		agent.NewArchitect(deps, s.cfg.DiscoveryProbeTimeout),
		agent.NewBackend(deps, s.cfg.Builder, s.cfg.Store, s.cfg.Gate, s.cfg.Backend),
	}
}

// Run derives the project description from request and runs every agent.
// The returned report is non-nil whenever the description was derived.
func (s *Sequencer) Run(ctx context.Context, runID, request string) (*Report, error) {
	logger := s.cfg.Logger.With("run_id", runID)
	state := runstate.NewRunState(runID, request)
	s.saveState(state)

	s.cfg.Narrator.Generation(managerPosition, "Converting user request into a project goal")
	s.record("run.start", map[string]any{"request": request})
	description, err := s.cfg.Oracle.Request(ctx, oracle.Task{
		Context: request,
		Role:    managerPosition,
		Label:   "Converting user request into a project goal",
		Kind:    oracle.KindConvertUserInputToGoal,
	})
	if err != nil {
		err = fmt.Errorf("failed to derive project description: %w", err)
		s.finish(state, err, true)
		return nil, err
	}
	description = strings.TrimSpace(description)
	state.Description = description
	logger.Info("project description", "description", description)

	report := &Report{RunID: runID, Project: project.New(description)}

	var failed []string
	for _, a := range s.agents() {
		pos := a.Attributes().Position
		state.StartAgent(pos)
		s.saveState(state)
		s.record("agent.start", map[string]any{"agent": pos})
		logger.Info("agent starting", "agent", pos)

		err := a.Execute(ctx, report.Project)

		state.FinishAgent(pos, err)
		report.Outcomes = append(report.Outcomes, Outcome{Position: pos, Status: a.Attributes().Status, Err: err})
		if b, ok := a.(interface{ Probes() []agent.RouteProbe }); ok {
			report.Probes = b.Probes()
		}
		s.record("agent.finish", map[string]any{"agent": pos, "status": a.Attributes().Status, "error": errString(err)})

		if err == nil {
			logger.Info("agent finished", "agent", pos)
			s.saveState(state)
			continue
		}

		fatal := agent.IsFatal(err)
		if fatal || !s.cfg.ContinueOnAgentFailure {
			logger.Error("agent failed, stopping run", "agent", pos, "fatal", fatal, "error", err)
			s.cfg.Narrator.Issue(pos, err.Error())
			err = fmt.Errorf("%s: %w", pos, err)
			s.finish(state, err, fatal)
			return report, err
		}

		failed = append(failed, pos)
		logger.Warn("agent failed, continuing", "agent", pos, "error", err)
		s.cfg.Narrator.Issue(pos, fmt.Sprintf("failed, continuing: %v", err))
		s.saveState(state)
	}

	if len(failed) > 0 {
		err := fmt.Errorf("%w: %s", ErrAgentsFailed, strings.Join(failed, ", "))
		state.MarkCompletedWithFailures(err)
		s.saveState(state)
		s.record("run.finish", map[string]any{"status": state.Status, "error": err.Error()})
		return report, err
	}

	state.MarkCompleted()
	s.saveState(state)
	s.record("run.finish", map[string]any{"status": state.Status})
	return report, nil
}

func (s *Sequencer) finish(state *runstate.RunState, err error, fatal bool) {
	if fatal && (errors.Is(err, agent.ErrSafetyDeclined) || errors.Is(err, context.Canceled)) {
		state.MarkAborted(err)
	} else {
		state.MarkFailed(err)
	}
	s.saveState(state)
	s.record("run.finish", map[string]any{"status": state.Status, "error": err.Error()})
}

func (s *Sequencer) saveState(state *runstate.RunState) {
	if s.cfg.StatePath == "" {
		return
	}
	if err := runstate.SaveRunState(state, s.cfg.StatePath); err != nil {
		s.cfg.Logger.Warn("failed to save run state", "path", s.cfg.StatePath, "error", err)
	}
}

func (s *Sequencer) record(event string, data map[string]any) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.Record(event, data)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
