package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iambrandonn/coderloop/internal/oracle"
	"github.com/iambrandonn/coderloop/internal/project"
	"github.com/iambrandonn/coderloop/internal/supervisor"
)

type reply struct {
	text string
	err  error
}

// scriptedOracle answers each kind from its own queue; the last reply of a
// queue repeats.
type scriptedOracle struct {
	mu      sync.Mutex
	replies map[oracle.Kind][]reply
	calls   []oracle.Task
}

func newScriptedOracle() *scriptedOracle {
	return &scriptedOracle{replies: map[oracle.Kind][]reply{}}
}

func (o *scriptedOracle) on(kind oracle.Kind, text string) *scriptedOracle {
	o.replies[kind] = append(o.replies[kind], reply{text: text})
	return o
}

func (o *scriptedOracle) fail(kind oracle.Kind, err error) *scriptedOracle {
	o.replies[kind] = append(o.replies[kind], reply{err: err})
	return o
}

func (o *scriptedOracle) Request(ctx context.Context, task oracle.Task) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, task)
	q := o.replies[task.Kind]
	if len(q) == 0 {
		return "", fmt.Errorf("%w: no scripted reply for %s", oracle.ErrTransport, task.Kind)
	}
	r := q[0]
	if len(q) > 1 {
		o.replies[task.Kind] = q[1:]
	}
	return r.text, r.err
}

func (o *scriptedOracle) count(kind oracle.Kind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	mu         sync.Mutex
	terminates int
	done       chan struct{}
	onFirst    func()
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{done: make(chan struct{})}
}

func (h *fakeHandle) Pid() int              { return 4242 }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Output() string        { return "" }

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminates++
	if h.terminates == 1 {
		close(h.done)
		if h.onFirst != nil {
			h.onFirst()
		}
	}
	return nil
}

func (h *fakeHandle) terminateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminates
}

type fakeBuilder struct {
	results  []*supervisor.BuildResult // last one repeats
	buildErr error
	spawnErr error
	handle   *fakeHandle

	builds int
	spawns int
	log    *[]string
}

func (b *fakeBuilder) RunBuild(ctx context.Context, dir string) (*supervisor.BuildResult, error) {
	b.builds++
	if b.log != nil {
		*b.log = append(*b.log, "build")
	}
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	i := b.builds - 1
	if i >= len(b.results) {
		i = len(b.results) - 1
	}
	return b.results[i], nil
}

func (b *fakeBuilder) SpawnServer(ctx context.Context, dir string) (supervisor.Handle, error) {
	b.spawns++
	if b.log != nil {
		*b.log = append(*b.log, "spawn")
	}
	if b.spawnErr != nil {
		return nil, b.spawnErr
	}
	if b.handle == nil {
		b.handle = newFakeHandle()
	}
	return b.handle, nil
}

func buildOK() *supervisor.BuildResult {
	return &supervisor.BuildResult{Success: true, Duration: time.Millisecond}
}

func buildFail(diag string) *supervisor.BuildResult {
	return &supervisor.BuildResult{ExitCode: 1, Diagnostic: diag}
}

type fakeStore struct {
	codes  []string
	schema []project.EndpointRoute
	saved  bool
}

func (s *fakeStore) Dir() string { return "/tmp/generated" }

func (s *fakeStore) SaveCode(code string) error {
	s.codes = append(s.codes, code)
	return nil
}

func (s *fakeStore) SaveSchema(routes []project.EndpointRoute) error {
	s.schema = routes
	s.saved = true
	return nil
}

type fakeGate struct {
	answer bool
	err    error
	calls  int
}

func (g *fakeGate) Confirm(context.Context) (bool, error) {
	g.calls++
	return g.answer, g.err
}

type memRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *memRecorder) Record(event string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}
