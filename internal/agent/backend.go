package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iambrandonn/coderloop/internal/artifacts"
	"github.com/iambrandonn/coderloop/internal/gate"
	"github.com/iambrandonn/coderloop/internal/oracle"
	"github.com/iambrandonn/coderloop/internal/project"
	"github.com/iambrandonn/coderloop/internal/prober"
	"github.com/iambrandonn/coderloop/internal/supervisor"
)

const (
	backendPosition = "Backend Developer"

	DefaultMaxBugCount = 10
	DefaultWarmup      = 5 * time.Second
	DefaultBaseURL     = "http://localhost:8080"
)

// Builder builds and launches the generated project.
type Builder interface {
	RunBuild(ctx context.Context, dir string) (*supervisor.BuildResult, error)
	SpawnServer(ctx context.Context, dir string) (supervisor.Handle, error)
}

// CodeStore persists generated code and schema.
type CodeStore interface {
	Dir() string
	SaveCode(code string) error
	SaveSchema(routes []project.EndpointRoute) error
}

// BackendOptions tune the repair loop. Zero values take the defaults.
type BackendOptions struct {
	BaseURL      string
	Warmup       time.Duration
	ProbeTimeout time.Duration
	MaxBugCount  int
}

// RouteProbe is the outcome of probing one route of the generated server.
type RouteProbe struct {
	Route  string `json:"route"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Backend generates the server, then loops build, repair and probe until a
// build succeeds and its routes have been checked.
type Backend struct {
	base
	builder Builder
	store   CodeStore
	gate    gate.Confirmer
	opts    BackendOptions

	wait func(ctx context.Context, d time.Duration) error

	bugCount  int
	lastError string
	probes    []RouteProbe
}

func NewBackend(deps Deps, builder Builder, store CodeStore, confirmer gate.Confirmer, opts BackendOptions) *Backend {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Warmup <= 0 {
		opts.Warmup = DefaultWarmup
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = prober.DefaultTimeout
	}
	if opts.MaxBugCount <= 0 {
		opts.MaxBugCount = DefaultMaxBugCount
	}

	return &Backend{
		base: base{
			attrs: Attributes{
				Objective: "Develops backend code for webserver and JSON database",
				Position:  backendPosition,
				Status:    StatusDiscovery,
			},
			deps: deps.withDefaults(),
		},
		builder: builder,
		store:   store,
		gate:    confirmer,
		opts:    opts,
		wait:    sleep,
	}
}

// BugCount is the number of consecutive failed builds.
func (b *Backend) BugCount() int { return b.bugCount }

// LastError is the diagnostic of the most recent failed build.
func (b *Backend) LastError() string { return b.lastError }

// Probes returns the outcome of each route probed after the last good build.
func (b *Backend) Probes() []RouteProbe { return b.probes }

func (b *Backend) Execute(ctx context.Context, p *project.Project) error {
	for b.attrs.Status != StatusFinished {
		if err := b.step(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// step runs the work for the current status once.
func (b *Backend) step(ctx context.Context, p *project.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch b.attrs.Status {
	case StatusDiscovery:
		if err := b.generateInitialCode(ctx, p); err != nil {
			return err
		}
		b.setStatus(StatusWorking)
	case StatusWorking:
		var err error
		if b.bugCount == 0 {
			err = b.improveCode(ctx, p)
		} else {
			err = b.fixCode(ctx, p)
		}
		if err != nil {
			return err
		}
		b.setStatus(StatusValidating)
	case StatusValidating:
		return b.validate(ctx, p)
	default:
		return fmt.Errorf("backend: unexpected status %q", b.attrs.Status)
	}
	return nil
}

func (b *Backend) generateInitialCode(ctx context.Context, p *project.Project) error {
	input := fmt.Sprintf("CODE_TEMPLATE: %s \n PROJECT_DESCRIPTION: %s \n", artifacts.Template(), p.Description)
	code, err := b.ask(ctx, oracle.KindPrintBackendWebserverCode, "Writing initial backend code", input)
	if err != nil {
		return fmt.Errorf("failed to generate backend code: %w", err)
	}
	return b.saveCode(p, code)
}

func (b *Backend) improveCode(ctx context.Context, p *project.Project) error {
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	input := fmt.Sprintf("CODE_TEMPLATE: %s \n PROJECT_DESCRIPTION: %s \n", p.Code(), record)
	code, err := b.ask(ctx, oracle.KindPrintImprovedWebserverCode, "Improving backend code", input)
	if err != nil {
		return fmt.Errorf("failed to improve backend code: %w", err)
	}
	return b.saveCode(p, code)
}

func (b *Backend) fixCode(ctx context.Context, p *project.Project) error {
	input := fmt.Sprintf("BROKEN_CODE: %s \n ERROR_BUGS: %s \n THIS FUNCTION ONLY OUTPUTS CODE. JUST OUTPUT THE CODE.",
		p.Code(), b.lastError)
	label := fmt.Sprintf("Fixing build errors (attempt %d of %d)", b.bugCount, b.opts.MaxBugCount)
	code, err := b.ask(ctx, oracle.KindPrintFixedCode, label, input)
	if err != nil {
		return fmt.Errorf("failed to fix backend code: %w", err)
	}
	return b.saveCode(p, code)
}

func (b *Backend) saveCode(p *project.Project, code string) error {
	code = oracle.StripCodeFence(code)
	if err := b.store.SaveCode(code); err != nil {
		return err
	}
	p.SetCode(code)
	b.deps.Recorder.Record("code.saved", map[string]any{
		"checksum": artifacts.Checksum(code),
		"bytes":    len(code),
		"attempt":  b.bugCount,
	})
	return nil
}

// validate gates, builds, launches and probes. Every path out of here after
// a successful spawn terminates the server.
func (b *Backend) validate(ctx context.Context, p *project.Project) (err error) {
	pos := b.attrs.Position

	b.deps.Narrator.Validation(pos, "Backend Code Unit Testing: Requesting user input")
	ok, err := b.gate.Confirm(ctx)
	if err != nil {
		return fmt.Errorf("safety gate: %w", err)
	}
	if !ok {
		b.deps.Narrator.Issue(pos, "Generated code was not approved, stopping")
		b.deps.Recorder.Record("gate.declined", nil)
		return ErrSafetyDeclined
	}

	b.deps.Narrator.Validation(pos, "Backend Code Unit Testing: building project...")
	res, err := b.builder.RunBuild(ctx, b.store.Dir())
	if err != nil {
		return err
	}
	if !res.Success {
		return b.recordBuildFailure(res)
	}

	b.bugCount = 0
	b.lastError = ""
	b.deps.Narrator.Validation(pos, "Backend Code Unit Testing: Test server build successful!")
	b.deps.Recorder.Record("build.succeeded", map[string]any{"duration_ms": res.Duration.Milliseconds()})

	schema, err := b.extractSchema(ctx, p)
	if err != nil {
		return err
	}
	p.APIEndpointSchema = schema
	probeSet := project.ProbeableRoutes(schema)

	b.deps.Narrator.Validation(pos, "Backend Code Unit Testing: Starting web server...")
	handle, err := b.builder.SpawnServer(ctx, b.store.Dir())
	if err != nil {
		return err
	}
	b.deps.Recorder.Record("server.spawned", map[string]any{"pid": handle.Pid()})
	defer func() {
		if termErr := b.terminate(handle, "wind-down"); termErr != nil && err == nil {
			err = termErr
		}
	}()

	b.deps.Narrator.Validation(pos,
		fmt.Sprintf("Backend Code Unit Testing: Launching tests on server in %s...", b.opts.Warmup))
	if err := b.wait(ctx, b.opts.Warmup); err != nil {
		return err
	}

	b.probeRoutes(ctx, handle, probeSet)
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.store.SaveSchema(schema); err != nil {
		return err
	}
	if err := b.terminate(handle, "wind-down"); err != nil {
		return err
	}

	b.deps.Narrator.Validation(pos, "Backend testing complete...")
	b.setStatus(StatusFinished)
	return nil
}

func (b *Backend) recordBuildFailure(res *supervisor.BuildResult) error {
	b.bugCount++
	b.lastError = res.Diagnostic
	failure := &BuildFailure{Attempt: b.bugCount, ExitCode: res.ExitCode, Diagnostic: res.Diagnostic}

	b.deps.Logger.Warn("build failed",
		"bug_count", b.bugCount,
		"exit_code", res.ExitCode)
	b.deps.Recorder.Record("build.failed", map[string]any{
		"bug_count": b.bugCount,
		"exit_code": res.ExitCode,
	})

	if b.bugCount > b.opts.MaxBugCount {
		b.deps.Narrator.Issue(b.attrs.Position, "Backend Code Unit Testing: Too many bugs found in code")
		return fmt.Errorf("%w: %d consecutive failures: %w", ErrTooManyFailedBuilds, b.bugCount, failure)
	}

	b.deps.Narrator.Issue(b.attrs.Position,
		fmt.Sprintf("Backend Code Unit Testing: build failed, sending back for repair (%d/%d)", b.bugCount, b.opts.MaxBugCount))
	b.setStatus(StatusWorking)
	return nil
}

func (b *Backend) extractSchema(ctx context.Context, p *project.Project) ([]project.EndpointRoute, error) {
	raw, err := b.ask(ctx, oracle.KindPrintRESTAPIEndpoints, "Extracting REST API endpoints",
		"CODE_INPUT: "+p.Code())
	if err != nil {
		return nil, fmt.Errorf("failed to extract endpoints: %w", err)
	}

	schema, err := project.DecodeSchema([]byte(oracle.StripCodeFence(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", oracle.ErrDecode, oracle.KindPrintRESTAPIEndpoints, err)
	}
	b.deps.Logger.Info("extracted endpoint schema",
		"routes", len(schema),
		"probeable", len(project.ProbeableRoutes(schema)))
	return schema, nil
}

// probeRoutes checks each route in order. Non-200 answers are warnings; a
// transport failure means the server is unusable and it is killed at once.
func (b *Backend) probeRoutes(ctx context.Context, handle supervisor.Handle, routes []project.EndpointRoute) {
	client := prober.NewClient(b.opts.ProbeTimeout)
	baseURL := strings.TrimRight(b.opts.BaseURL, "/")
	b.probes = make([]RouteProbe, 0, len(routes))

	for _, route := range routes {
		pos := b.attrs.Position
		b.deps.Narrator.Validation(pos, fmt.Sprintf("Testing endpoint '%s'...", route.Route))

		status, err := prober.Probe(ctx, client, baseURL+route.Route)
		outcome := RouteProbe{Route: route.Route, Status: status}

		switch {
		case err != nil:
			outcome.Error = err.Error()
			b.deps.Logger.Error("probe failed", "route", route.Route, "error", err)
			b.deps.Narrator.Issue(pos, fmt.Sprintf("Failed to check backend server: %v", err))
			if termErr := b.terminate(handle, "probe failure"); termErr != nil {
				b.deps.Logger.Error("failed to terminate server", "error", termErr)
			}
		case status != http.StatusOK:
			b.deps.Logger.Warn("unexpected probe status", "route", route.Route, "status", status)
			b.deps.Narrator.Issue(pos,
				fmt.Sprintf("WARNING: Failed to call backend url endpoint %s (status %d)", route.Route, status))
		}

		b.deps.Recorder.Record("probe.route", map[string]any{
			"route":  route.Route,
			"status": status,
			"error":  outcome.Error,
		})
		b.probes = append(b.probes, outcome)
	}
}

func (b *Backend) terminate(handle supervisor.Handle, reason string) error {
	err := handle.Terminate()
	b.deps.Recorder.Record("server.terminated", map[string]any{
		"pid":    handle.Pid(),
		"reason": reason,
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
