package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pscheid92/testtrack-client/internal/analyticscookie"
	"github.com/pscheid92/testtrack-client/internal/domain"
)

type mockRegistry struct {
	registry    domain.SplitRegistry
	assignments []domain.Assignment
	fetchCalls  int
}

func (m *mockRegistry) SplitRegistry(_ context.Context) (domain.SplitRegistry, error) {
	return m.registry, nil
}

func (m *mockRegistry) FetchAssignments(_ context.Context, _ string) ([]domain.Assignment, error) {
	m.fetchCalls++
	return m.assignments, nil
}

func (m *mockRegistry) SplitWeights(_ context.Context, splitName string) (domain.Weights, error) {
	w, ok := m.registry[splitName]
	if !ok {
		return nil, fmt.Errorf("split %q: %w", splitName, domain.ErrUnknownSplit)
	}
	return w, nil
}

type mockLinker struct {
	err   error
	calls int
}

func (m *mockLinker) LinkIdentifier(_ context.Context, _, _, _ string) error {
	m.calls++
	return m.err
}

type mockQueue struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func (m *mockQueue) Enqueue(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.tasks = append(m.tasks, t)
	return nil
}

func (m *mockQueue) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.tasks))
	for _, t := range m.tasks {
		kinds = append(kinds, t.Kind())
	}
	return kinds
}

type fakeJar struct {
	in      map[string]string
	written []domain.Cookie
}

func newFakeJar(in map[string]string) *fakeJar {
	if in == nil {
		in = map[string]string{}
	}
	return &fakeJar{in: in}
}

func (j *fakeJar) Read(name string) (string, bool) {
	v, ok := j.in[name]
	return v, ok
}

func (j *fakeJar) Write(c domain.Cookie) {
	j.written = append(j.written, c)
}

func (j *fakeJar) cookie(name string) (domain.Cookie, bool) {
	for _, c := range j.written {
		if c.Name == name {
			return c, true
		}
	}
	return domain.Cookie{}, false
}

type recordingRecorder struct {
	outcomes  []analyticscookie.Outcome
	scheduled []string
	failed    []string
}

func (r *recordingRecorder) AnalyticsCookieDecoded(o analyticscookie.Outcome) {
	r.outcomes = append(r.outcomes, o)
}
func (r *recordingRecorder) TaskScheduled(kind string)      { r.scheduled = append(r.scheduled, kind) }
func (r *recordingRecorder) TaskScheduleFailed(kind string) { r.failed = append(r.failed, kind) }
