// Package agent implements the workers that turn a project description into
// a running backend. Each agent drives its own status machine until it is
// Finished and only then hands the project back.
package agent

import (
	"context"
	"io"
	"log/slog"

	"github.com/iambrandonn/coderloop/internal/oracle"
	"github.com/iambrandonn/coderloop/internal/project"
	"github.com/iambrandonn/coderloop/internal/transcript"
)

// Status is where an agent is in its work.
type Status string

const (
	StatusDiscovery  Status = "discovery"
	StatusWorking    Status = "working"
	StatusValidating Status = "validating"
	StatusFinished   Status = "finished"
)

// Attributes describe an agent to the user and to the run log.
type Attributes struct {
	Objective string `json:"objective"`
	Position  string `json:"position"`
	Status    Status `json:"status"`
}

// Agent is implemented only by the agents in this package.
type Agent interface {
	// Execute works on p until the agent reaches StatusFinished or fails.
	Execute(ctx context.Context, p *project.Project) error
	Attributes() Attributes
	sealed()
}

// Recorder receives structured progress events. The event log implements it.
type Recorder interface {
	Record(event string, data map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, map[string]any) {}

// Deps are the collaborators every agent needs.
type Deps struct {
	Oracle   oracle.Client
	Narrator *transcript.Narrator
	Logger   *slog.Logger
	Recorder Recorder
}

func (d Deps) withDefaults() Deps {
	if d.Narrator == nil {
		d.Narrator = transcript.Discard()
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	return d
}

// base carries what all agents share.
type base struct {
	attrs Attributes
	deps  Deps
}

func (b *base) Attributes() Attributes { return b.attrs }

func (b *base) sealed() {}

func (b *base) setStatus(s Status) {
	if b.attrs.Status == s {
		return
	}
	b.deps.Logger.Debug("agent status",
		"agent", b.attrs.Position,
		"from", b.attrs.Status,
		"to", s)
	b.deps.Recorder.Record("agent.status", map[string]any{
		"agent": b.attrs.Position,
		"from":  b.attrs.Status,
		"to":    s,
	})
	b.attrs.Status = s
}

// ask narrates the task and sends it to the oracle.
func (b *base) ask(ctx context.Context, kind oracle.Kind, label, input string) (string, error) {
	b.deps.Narrator.Generation(b.attrs.Position, label)
	b.deps.Recorder.Record("oracle.request", map[string]any{
		"agent": b.attrs.Position,
		"kind":  kind,
	})
	return b.deps.Oracle.Request(ctx, b.task(kind, label, input))
}

func (b *base) task(kind oracle.Kind, label, input string) oracle.Task {
	return oracle.Task{
		Context: input,
		Role:    b.attrs.Position,
		Label:   label,
		Kind:    kind,
	}
}
