package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pscheid92/testtrack-client/internal/analyticscookie"
	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/pscheid92/testtrack-client/internal/session"
	"github.com/pscheid92/testtrack-client/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Host = "www.foo.com"
	return req
}

func TestState_NewVisitor(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(srv, apiRequest(http.MethodGet, "/tt/api/state", ""))

	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot session.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, testRegistryURL, snapshot.URL)
	assert.Equal(t, ".foo.com", snapshot.CookieDomain)
	assert.Equal(t, domain.Weights{"beer_thirty": 100}, snapshot.Registry["time"])
	assert.Empty(t, snapshot.Assignments)

	visitorCookie := findCookie(rec, session.VisitorCookieName)
	require.NotNil(t, visitorCookie)
	assert.Len(t, visitorCookie.Value, 36)
	assert.Equal(t, "foo.com", visitorCookie.Domain)
	assert.Equal(t, "/", visitorCookie.Path)
	assert.False(t, visitorCookie.HttpOnly)
	assert.False(t, visitorCookie.Secure)

	analytics := findCookie(rec, testAnalytics)
	require.NotNil(t, analytics)
	decoded, outcome := analyticscookie.Decode(context.Background(), analytics.Value, true, "unused")
	assert.Equal(t, analyticscookie.OutcomeParsed, outcome)
	assert.Equal(t, visitorCookie.Value, decoded.DistinctID)
}

func TestState_ExistingVisitor(t *testing.T) {
	deps := newTestDeps()
	deps.registry.fetchAssignmentsFn = func(_ context.Context, visitorID string) ([]domain.Assignment, error) {
		assert.Equal(t, existingVisitorID, visitorID)
		return []domain.Assignment{{SplitName: "button", Variant: "red"}}, nil
	}
	srv := newTestServer(t, deps)

	legacy, err := analyticscookie.Encode(analyticscookie.Cookie{DistinctID: "legacy-distinct-id"})
	require.NoError(t, err)

	req := apiRequest(http.MethodGet, "/tt/api/state", "")
	req.AddCookie(&http.Cookie{Name: session.VisitorCookieName, Value: existingVisitorID})
	req.AddCookie(&http.Cookie{Name: testAnalytics, Value: legacy})
	rec := serve(srv, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot session.StateSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, map[string]string{"button": "red"}, snapshot.Assignments)

	visitorCookie := findCookie(rec, session.VisitorCookieName)
	require.NotNil(t, visitorCookie)
	assert.Equal(t, existingVisitorID, visitorCookie.Value)

	analytics := findCookie(rec, testAnalytics)
	require.NotNil(t, analytics)
	decoded, _ := analyticscookie.Decode(context.Background(), analytics.Value, true, "unused")
	assert.Equal(t, "legacy-distinct-id", decoded.DistinctID)

	assert.Empty(t, deps.queue.kinds())
}

func TestState_RegistryUnavailable(t *testing.T) {
	deps := newTestDeps()
	deps.registry.splitRegistryFn = func(context.Context) (domain.SplitRegistry, error) {
		return nil, domain.ErrRegistryUnavailable
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, apiRequest(http.MethodGet, "/tt/api/state", ""))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotNil(t, findCookie(rec, session.VisitorCookieName), "cookies are persisted on failure too")
}

func TestState_SecureBehindTrustedProxy(t *testing.T) {
	cfg := newTestConfig()
	cfg.TrustForwardedProto = true
	srv := NewServer(cfg, newTestDeps().session())

	req := apiRequest(http.MethodGet, "/tt/api/state", "")
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := serve(srv, req)

	require.Equal(t, http.StatusOK, rec.Code)
	visitorCookie := findCookie(rec, session.VisitorCookieName)
	require.NotNil(t, visitorCookie)
	assert.True(t, visitorCookie.Secure)
}

func TestState_ForwardedProtoIgnoredWhenUntrusted(t *testing.T) {
	srv := newTestServer(t, nil)

	req := apiRequest(http.MethodGet, "/tt/api/state", "")
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := serve(srv, req)

	visitorCookie := findCookie(rec, session.VisitorCookieName)
	require.NotNil(t, visitorCookie)
	assert.False(t, visitorCookie.Secure)
}

func TestAssign_SchedulesNotification(t *testing.T) {
	deps := newTestDeps()
	srv := newTestServer(t, deps)

	rec := serve(srv, apiRequest(http.MethodPost, "/tt/api/assignments", `{"split_name":"time"}`))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, findCookie(rec, session.VisitorCookieName))
	assert.Equal(t, []string{task.KindNotifyNewAssignments}, deps.queue.kinds())
}

func TestAssign_UnknownSplit(t *testing.T) {
	deps := newTestDeps()
	srv := newTestServer(t, deps)

	rec := serve(srv, apiRequest(http.MethodPost, "/tt/api/assignments", `{"split_name":"nope"}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotNil(t, findCookie(rec, session.VisitorCookieName))
	assert.Empty(t, deps.queue.kinds())
}

func TestAssign_MissingSplitName(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(srv, apiRequest(http.MethodPost, "/tt/api/assignments", `{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssign_QueueFailureAfterResponse(t *testing.T) {
	deps := newTestDeps()
	deps.queue.enqueueFn = func(context.Context, domain.Task) error { return domain.ErrQueueFull }
	srv := newTestServer(t, deps)

	rec := serve(srv, apiRequest(http.MethodPost, "/tt/api/assignments", `{"split_name":"time"}`))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, findCookie(rec, session.VisitorCookieName))
}

func TestSignUp_SchedulesAlias(t *testing.T) {
	deps := newTestDeps()
	var linkedVisitor string
	deps.linker.linkFn = func(_ context.Context, visitorID, identifierType, identifierValue string) error {
		linkedVisitor = visitorID
		assert.Equal(t, "myapp_user_id", identifierType)
		assert.Equal(t, "444", identifierValue)
		return nil
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, apiRequest(http.MethodPost, "/tt/api/signup", `{"identifier_type":"myapp_user_id","value":"444"}`))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	visitorCookie := findCookie(rec, session.VisitorCookieName)
	require.NotNil(t, visitorCookie)
	assert.Equal(t, visitorCookie.Value, linkedVisitor)
	assert.Equal(t, []string{task.KindCreateAlias}, deps.queue.kinds())
}

func TestSignUp_LinkFailure(t *testing.T) {
	deps := newTestDeps()
	deps.linker.linkFn = func(context.Context, string, string, string) error {
		return errors.Join(domain.ErrIdentifierLinkFailed, errors.New("status 500"))
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, apiRequest(http.MethodPost, "/tt/api/signup", `{"identifier_type":"myapp_user_id","value":"444"}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, deps.queue.kinds())
}

func TestLogIn_DoesNotScheduleAlias(t *testing.T) {
	deps := newTestDeps()
	linked := false
	deps.linker.linkFn = func(context.Context, string, string, string) error {
		linked = true
		return nil
	}
	srv := newTestServer(t, deps)

	rec := serve(srv, apiRequest(http.MethodPost, "/tt/api/login", `{"identifier_type":"myapp_user_id","value":"444"}`))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, linked)
	assert.Empty(t, deps.queue.kinds())
}

func TestLogIn_MissingFields(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := serve(srv, apiRequest(http.MethodPost, "/tt/api/login", `{"identifier_type":"myapp_user_id"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_UnresolvableHost(t *testing.T) {
	srv := newTestServer(t, nil)

	req := apiRequest(http.MethodGet, "/tt/api/state", "")
	req.Host = "localhost"
	rec := serve(srv, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, findCookie(rec, session.VisitorCookieName))
}
