package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/iambrandonn/coderloop/internal/oracle"
	"github.com/iambrandonn/coderloop/internal/project"
	"github.com/iambrandonn/coderloop/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	schemaGetAndPost = `[
		{"is_route_dynamic": false, "method": "GET", "request_body": null, "response": [], "route": "/task"},
		{"is_route_dynamic": false, "method": "POST", "request_body": {"name": "x"}, "response": null, "route": "/task"}
	]`
	schemaWithDynamic = "```json\n" + `[
		{"is_route_dynamic": false, "method": "GET", "request_body": null, "response": [], "route": "/task"},
		{"is_route_dynamic": true, "method": "GET", "request_body": null, "response": {}, "route": "/task/{id}"},
		{"is_route_dynamic": false, "method": "POST", "request_body": {}, "response": null, "route": "/register"},
		{"is_route_dynamic": false, "method": "GET", "request_body": null, "response": "ok", "route": "/health"}
	]` + "\n```"
)

func codeOracle() *scriptedOracle {
	return newScriptedOracle().
		on(oracle.KindPrintBackendWebserverCode, "```go\npackage main // initial\n```").
		on(oracle.KindPrintImprovedWebserverCode, "package main // improved\n").
		on(oracle.KindPrintFixedCode, "package main // fixed\n")
}

// probeLog is a fake generated server recording which routes were hit.
type probeLog struct {
	mu   sync.Mutex
	hits []string
}

func (l *probeLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits = append(l.hits, s)
}

func (l *probeLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.hits...)
}

func newGeneratedServer(t *testing.T, status int, log *probeLog) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.Method + " " + r.URL.Path)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func refusedBaseURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

type backendFixture struct {
	oracle   *scriptedOracle
	builder  *fakeBuilder
	store    *fakeStore
	gate     *fakeGate
	recorder *memRecorder
	waits    int
	agent    *Backend
}

func newBackendFixture(o *scriptedOracle, builder *fakeBuilder, baseURL string) *backendFixture {
	f := &backendFixture{
		oracle:   o,
		builder:  builder,
		store:    &fakeStore{},
		gate:     &fakeGate{answer: true},
		recorder: &memRecorder{},
	}
	f.agent = NewBackend(Deps{Oracle: o, Recorder: f.recorder}, builder, f.store, f.gate, BackendOptions{
		BaseURL:      baseURL,
		ProbeTimeout: time.Second,
	})
	f.agent.wait = func(ctx context.Context, d time.Duration) error {
		f.waits++
		if builder.log != nil {
			*builder.log = append(*builder.log, "wait")
		}
		return nil
	}
	return f
}

func TestBackendFailedBuildReturnsToWorking(t *testing.T) {
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildFail("missing semicolon")}}
	f := newBackendFixture(codeOracle(), builder, "http://127.0.0.1:1")
	p := project.New("a todo api")
	ctx := context.Background()

	require.NoError(t, f.agent.step(ctx, p))
	assert.Equal(t, StatusWorking, f.agent.Attributes().Status)
	require.NoError(t, f.agent.step(ctx, p))
	assert.Equal(t, StatusValidating, f.agent.Attributes().Status)

	require.NoError(t, f.agent.step(ctx, p))

	assert.Equal(t, 1, f.agent.BugCount())
	assert.Equal(t, "missing semicolon", f.agent.LastError())
	assert.Equal(t, StatusWorking, f.agent.Attributes().Status)
	assert.Equal(t, 0, builder.spawns)

	// next working step asks for a fix carrying the diagnostic
	require.NoError(t, f.agent.step(ctx, p))
	assert.Equal(t, 1, f.oracle.count(oracle.KindPrintFixedCode))
	last := f.oracle.calls[len(f.oracle.calls)-1]
	assert.Contains(t, last.Context, "missing semicolon")
	assert.Equal(t, "package main // fixed\n", p.Code())
}

func TestBackendProbesOnlyStaticGets(t *testing.T) {
	hits := &probeLog{}
	srv := newGeneratedServer(t, http.StatusOK, hits)

	o := codeOracle().on(oracle.KindPrintRESTAPIEndpoints, schemaGetAndPost)
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildOK()}}
	f := newBackendFixture(o, builder, srv.URL)
	p := project.New("a todo api")

	require.NoError(t, f.agent.Execute(context.Background(), p))

	assert.Equal(t, StatusFinished, f.agent.Attributes().Status)
	assert.Equal(t, []string{"GET /task"}, hits.all())
	require.Len(t, p.APIEndpointSchema, 2, "project keeps the unfiltered schema")
	assert.Equal(t, project.MethodPost, p.APIEndpointSchema[1].Method)
	assert.True(t, f.store.saved)
	assert.Len(t, f.store.schema, 2)

	require.Len(t, f.agent.Probes(), 1)
	assert.Equal(t, RouteProbe{Route: "/task", Status: http.StatusOK}, f.agent.Probes()[0])
	assert.GreaterOrEqual(t, builder.handle.terminateCount(), 1)
}

func TestBackendFullRunOrder(t *testing.T) {
	hits := &probeLog{}
	srv := newGeneratedServer(t, http.StatusOK, hits)

	var order []string
	o := codeOracle().on(oracle.KindPrintRESTAPIEndpoints, schemaWithDynamic)
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildOK()}, log: &order}
	f := newBackendFixture(o, builder, srv.URL)
	p := project.New("a todo api")

	require.NoError(t, f.agent.Execute(context.Background(), p))

	assert.Equal(t, []string{"build", "spawn", "wait"}, order)
	assert.Equal(t, 1, f.waits, "warm-up happens exactly once")
	assert.Equal(t, []string{"GET /task", "GET /health"}, hits.all())
	assert.Len(t, p.APIEndpointSchema, 4)
	assert.Equal(t, 1, f.gate.calls)

	// initial code is unfenced before it is stored
	require.Len(t, f.store.codes, 2)
	assert.Equal(t, "package main // initial\n", f.store.codes[0])
	assert.Equal(t, "package main // improved\n", p.Code())
	assert.Contains(t, f.recorder.events, "server.terminated")

	saved := 0
	for _, e := range f.recorder.events {
		if e == "code.saved" {
			saved++
		}
	}
	assert.Equal(t, 2, saved)
}

func TestBackendSuccessResetsBugCount(t *testing.T) {
	hits := &probeLog{}
	srv := newGeneratedServer(t, http.StatusOK, hits)

	o := codeOracle().on(oracle.KindPrintRESTAPIEndpoints, schemaGetAndPost)
	builder := &fakeBuilder{results: []*supervisor.BuildResult{
		buildFail("e1"), buildFail("e2"), buildFail("e3"), buildOK(),
	}}
	f := newBackendFixture(o, builder, srv.URL)
	p := project.New("a todo api")

	require.NoError(t, f.agent.Execute(context.Background(), p))

	assert.Equal(t, 0, f.agent.BugCount())
	assert.Equal(t, "", f.agent.LastError())
	assert.Equal(t, 4, builder.builds)
	assert.Equal(t, 3, f.oracle.count(oracle.KindPrintFixedCode))
	assert.Equal(t, 1, f.oracle.count(oracle.KindPrintImprovedWebserverCode))
	assert.Equal(t, 1, f.waits)
}

func TestBackendProbeTransportErrorTerminatesServer(t *testing.T) {
	o := codeOracle().on(oracle.KindPrintRESTAPIEndpoints, schemaWithDynamic)
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildOK()}}
	f := newBackendFixture(o, builder, refusedBaseURL(t))
	p := project.New("a todo api")

	require.NoError(t, f.agent.Execute(context.Background(), p))

	assert.Equal(t, StatusFinished, f.agent.Attributes().Status)
	// one kill per failed probe (two static GETs) plus wind-down
	assert.GreaterOrEqual(t, builder.handle.terminateCount(), 3)
	require.Len(t, f.agent.Probes(), 2)
	for _, pr := range f.agent.Probes() {
		assert.NotEmpty(t, pr.Error)
	}
	assert.True(t, f.store.saved)
}

func TestBackendNon200IsOnlyAWarning(t *testing.T) {
	hits := &probeLog{}
	srv := newGeneratedServer(t, http.StatusInternalServerError, hits)

	o := codeOracle().on(oracle.KindPrintRESTAPIEndpoints, schemaWithDynamic)
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildOK()}}
	f := newBackendFixture(o, builder, srv.URL)

	require.NoError(t, f.agent.Execute(context.Background(), project.New("a todo api")))

	assert.Equal(t, []string{"GET /task", "GET /health"}, hits.all(), "probing continues after a bad status")
	assert.Equal(t, http.StatusInternalServerError, f.agent.Probes()[0].Status)
	assert.Empty(t, f.agent.Probes()[0].Error)
}

func TestBackendSafetyDeclined(t *testing.T) {
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildOK()}}
	f := newBackendFixture(codeOracle(), builder, "http://127.0.0.1:1")
	f.gate.answer = false

	err := f.agent.Execute(context.Background(), project.New("a todo api"))

	require.ErrorIs(t, err, ErrSafetyDeclined)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 0, builder.builds)
	assert.Equal(t, 0, builder.spawns)
}

func TestBackendGateError(t *testing.T) {
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildOK()}}
	f := newBackendFixture(codeOracle(), builder, "http://127.0.0.1:1")
	f.gate.err = context.Canceled

	err := f.agent.Execute(context.Background(), project.New("a todo api"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, builder.builds)
}

func TestBackendBudgetExhausted(t *testing.T) {
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildFail("still broken")}}
	f := newBackendFixture(codeOracle(), builder, "http://127.0.0.1:1")

	err := f.agent.Execute(context.Background(), project.New("a todo api"))

	require.ErrorIs(t, err, ErrTooManyFailedBuilds)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 11, builder.builds, "1 initial build plus 10 repairs, never a 12th")
	assert.Equal(t, 11, f.agent.BugCount())
	assert.Equal(t, 10, f.oracle.count(oracle.KindPrintFixedCode))
	assert.Equal(t, 0, builder.spawns)

	var failure *BuildFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 11, failure.Attempt)
	assert.Equal(t, "still broken", failure.Diagnostic)
}

func TestBackendBugCountTracksConsecutiveFailures(t *testing.T) {
	for n := 1; n <= 10; n++ {
		n := n
		t.Run(fmt.Sprintf("%d failures", n), func(t *testing.T) {
			results := make([]*supervisor.BuildResult, 0, n+1)
			for i := 0; i < n; i++ {
				results = append(results, buildFail(fmt.Sprintf("error %d", i+1)))
			}
			builder := &fakeBuilder{results: append(results, buildOK())}
			f := newBackendFixture(codeOracle(), builder, "http://127.0.0.1:1")
			p := project.New("x")
			ctx := context.Background()

			for f.agent.Attributes().Status != StatusValidating || builder.builds < n {
				require.NoError(t, f.agent.step(ctx, p))
			}
			assert.Equal(t, n, f.agent.BugCount())
			assert.Equal(t, fmt.Sprintf("error %d", n), f.agent.LastError())
		})
	}
}

func TestBackendSchemaDecodeError(t *testing.T) {
	o := codeOracle().on(oracle.KindPrintRESTAPIEndpoints, "I could not find any endpoints, sorry")
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildOK()}}
	f := newBackendFixture(o, builder, "http://127.0.0.1:1")

	err := f.agent.Execute(context.Background(), project.New("x"))

	require.ErrorIs(t, err, oracle.ErrDecode)
	assert.False(t, IsFatal(err))
	assert.Equal(t, 0, builder.spawns)
}

func TestBackendSpawnFailureIsFatal(t *testing.T) {
	o := codeOracle().on(oracle.KindPrintRESTAPIEndpoints, schemaGetAndPost)
	builder := &fakeBuilder{
		results:  []*supervisor.BuildResult{buildOK()},
		spawnErr: fmt.Errorf("%w: exec: not found", supervisor.ErrProcess),
	}
	f := newBackendFixture(o, builder, "http://127.0.0.1:1")

	err := f.agent.Execute(context.Background(), project.New("x"))
	require.ErrorIs(t, err, supervisor.ErrProcess)
	assert.True(t, IsFatal(err))
}

func TestBackendBuildToolMissingIsFatal(t *testing.T) {
	builder := &fakeBuilder{buildErr: fmt.Errorf("%w: go: not found", supervisor.ErrProcess)}
	f := newBackendFixture(codeOracle(), builder, "http://127.0.0.1:1")

	err := f.agent.Execute(context.Background(), project.New("x"))
	require.ErrorIs(t, err, supervisor.ErrProcess)
	assert.Equal(t, 0, f.agent.BugCount())
}

func TestBackendWarmupCancelledStillTerminates(t *testing.T) {
	o := codeOracle().on(oracle.KindPrintRESTAPIEndpoints, schemaGetAndPost)
	builder := &fakeBuilder{results: []*supervisor.BuildResult{buildOK()}}
	f := newBackendFixture(o, builder, "http://127.0.0.1:1")
	f.agent.wait = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	err := f.agent.Execute(context.Background(), project.New("x"))

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, builder.handle.terminateCount())
	assert.False(t, f.store.saved)
}

func TestBackendOracleTransportFailure(t *testing.T) {
	o := newScriptedOracle().fail(oracle.KindPrintBackendWebserverCode, oracle.ErrTransport)
	f := newBackendFixture(o, &fakeBuilder{}, "http://127.0.0.1:1")

	err := f.agent.Execute(context.Background(), project.New("x"))
	require.ErrorIs(t, err, oracle.ErrTransport)
	assert.Equal(t, StatusDiscovery, f.agent.Attributes().Status)
}

func TestNewBackendDefaults(t *testing.T) {
	b := NewBackend(Deps{}, &fakeBuilder{}, &fakeStore{}, &fakeGate{}, BackendOptions{})
	assert.Equal(t, DefaultBaseURL, b.opts.BaseURL)
	assert.Equal(t, DefaultWarmup, b.opts.Warmup)
	assert.Equal(t, DefaultMaxBugCount, b.opts.MaxBugCount)
	assert.Equal(t, "Backend Developer", b.Attributes().Position)
	assert.Equal(t, StatusDiscovery, b.Attributes().Status)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
}
