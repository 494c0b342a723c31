package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/pscheid92/testtrack-client/internal/platform/config"
	"github.com/pscheid92/testtrack-client/internal/session"
)

const (
	testToken         = "abc123"
	testAnalytics     = "mp_abc123_mixpanel"
	testRegistryURL   = "https://testtrack.example.com"
	existingVisitorID = "6f5c1f1e-7d2b-4d8a-9a3e-1c2b3d4e5f60"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type mockRegistry struct {
	splitRegistryFn    func(ctx context.Context) (domain.SplitRegistry, error)
	fetchAssignmentsFn func(ctx context.Context, visitorID string) ([]domain.Assignment, error)
}

func (m *mockRegistry) SplitRegistry(ctx context.Context) (domain.SplitRegistry, error) {
	if m.splitRegistryFn != nil {
		return m.splitRegistryFn(ctx)
	}
	return domain.SplitRegistry{
		"time":   {"beer_thirty": 100},
		"button": {"blue": 50, "red": 50},
	}, nil
}

func (m *mockRegistry) FetchAssignments(ctx context.Context, visitorID string) ([]domain.Assignment, error) {
	if m.fetchAssignmentsFn != nil {
		return m.fetchAssignmentsFn(ctx, visitorID)
	}
	return nil, nil
}

func (m *mockRegistry) SplitWeights(ctx context.Context, splitName string) (domain.Weights, error) {
	registry, err := m.SplitRegistry(ctx)
	if err != nil {
		return nil, err
	}
	w, ok := registry[splitName]
	if !ok {
		return nil, fmt.Errorf("split %q: %w", splitName, domain.ErrUnknownSplit)
	}
	return w, nil
}

type mockLinker struct {
	linkFn func(ctx context.Context, visitorID, identifierType, identifierValue string) error
}

func (m *mockLinker) LinkIdentifier(ctx context.Context, visitorID, identifierType, identifierValue string) error {
	if m.linkFn != nil {
		return m.linkFn(ctx, visitorID, identifierType, identifierValue)
	}
	return nil
}

type mockQueue struct {
	mu        sync.Mutex
	tasks     []domain.Task
	enqueueFn func(ctx context.Context, t domain.Task) error
}

func (m *mockQueue) Enqueue(ctx context.Context, t domain.Task) error {
	if m.enqueueFn != nil {
		if err := m.enqueueFn(ctx, t); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
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

// --- Test helpers ---

type testDeps struct {
	registry *mockRegistry
	linker   *mockLinker
	queue    *mockQueue
}

func newTestDeps() *testDeps {
	return &testDeps{registry: &mockRegistry{}, linker: &mockLinker{}, queue: &mockQueue{}}
}

func (d *testDeps) session() session.Deps {
	return session.Deps{
		Registry: d.registry,
		Linker:   d.linker,
		Queue:    d.queue,
		Clock:    clockwork.NewFakeClockAt(testNow),
	}
}

func newTestConfig() *config.Config {
	return &config.Config{
		Port:          "8080",
		TestTrackURL:  testRegistryURL,
		MixpanelToken: testToken,
		APIRateLimit:  1000,
		APIRateBurst:  1000,
	}
}

func newTestServer(t *testing.T, deps *testDeps, opts ...Option) *Server {
	t.Helper()
	if deps == nil {
		deps = newTestDeps()
	}
	return NewServer(newTestConfig(), deps.session(), opts...)
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
