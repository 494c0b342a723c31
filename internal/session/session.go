package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/testtrack-client/internal/analyticscookie"
	"github.com/pscheid92/testtrack-client/internal/cookiedomain"
	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/pscheid92/testtrack-client/internal/task"
	"github.com/pscheid92/testtrack-client/internal/visitor"
)

// VisitorCookieName is the identity cookie carrying the raw visitor UUID.
const VisitorCookieName = "tt_visitor_id"

// Config is the static configuration shared by all sessions.
type Config struct {
	// URL of the split registry service, exposed to clients in the state snapshot.
	URL string
	// AnalyticsToken names the analytics cookie. Required.
	AnalyticsToken string
}

// Recorder observes session outcomes. Implementations must be safe for concurrent use.
type Recorder interface {
	AnalyticsCookieDecoded(outcome analyticscookie.Outcome)
	TaskScheduled(kind string)
	TaskScheduleFailed(kind string)
}

// Deps are the collaborators a session talks to.
type Deps struct {
	Registry domain.SplitRegistrySource
	Linker   domain.IdentifierLinker
	Queue    domain.TaskQueue
	Clock    clockwork.Clock
	Recorder Recorder
}

// Request is what a session needs to know about the inbound request.
type Request struct {
	Host   string
	Secure bool
	Jar    domain.CookieJar
}

// StateSnapshot is the read-only view handed to clients, e.g. for embedding in a page.
type StateSnapshot struct {
	URL          string               `json:"url"`
	CookieDomain string               `json:"cookieDomain"`
	Registry     domain.SplitRegistry `json:"registry"`
	Assignments  map[string]string    `json:"assignments"`
}

type Session struct {
	cfg  Config
	deps Deps
	req  Request

	state State

	visitor      *visitor.Visitor
	cookieDomain string
	analytics    *analyticscookie.Cookie
	signedUp     bool

	cookiesPersisted bool
}

func New(cfg Config, deps Deps, req Request) *Session {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Session{cfg: cfg, deps: deps, req: req, state: StateCreated}
}

func (s *Session) State() State { return s.state }

// Manage runs action and then finalizes the session on every exit path. Errors from
// the action and from finalizing are joined. A panic in action is re-raised after
// the session has been finalized.
func (s *Session) Manage(ctx context.Context, action func(ctx context.Context) error) (err error) {
	if s.state != StateCreated {
		return domain.ErrSessionAlreadyFinished
	}
	s.state = StateActionRunning
	ctx = WithSession(ctx, s)

	defer func() {
		recovered := recover()
		if recovered != nil || err != nil {
			s.state = StateFailed
		} else {
			s.state = StateSucceeded
		}

		finalizeErr := s.finalize(context.WithoutCancel(ctx))
		s.state = StateClosed

		if recovered != nil {
			if finalizeErr != nil {
				slog.ErrorContext(ctx, "Failed to finalize session after panic", "error", finalizeErr)
			}
			panic(recovered)
		}
		err = errors.Join(err, finalizeErr)
	}()

	return action(ctx)
}

func (s *Session) finalize(ctx context.Context) error {
	if err := s.PersistCookies(ctx); err != nil {
		return err
	}
	s.state = StateCookiesPersisted

	var errs []error
	if task.ShouldNotify(s.Visitor(ctx)) {
		if err := s.scheduleNotification(ctx); err != nil {
			errs = append(errs, err)
		} else {
			s.state = StateNotificationScheduled
		}
	}
	if s.signedUp {
		if err := s.scheduleAlias(ctx); err != nil {
			errs = append(errs, err)
		} else {
			s.state = StateAliasScheduled
		}
	}
	return errors.Join(errs...)
}

// Visitor returns the request's visitor, creating it from the identity cookie on first use.
func (s *Session) Visitor(ctx context.Context) *visitor.Visitor {
	if s.visitor == nil {
		existingID, _ := s.req.Jar.Read(VisitorCookieName)
		s.visitor = visitor.New(ctx, existingID, s.deps.Registry, s.deps.Linker)
	}
	return s.visitor
}

// Assign is a shortcut for Visitor(ctx).Assign.
func (s *Session) Assign(ctx context.Context, split string) (string, error) {
	return s.Visitor(ctx).Assign(ctx, split)
}

// LogIn links an identifier to the visitor.
func (s *Session) LogIn(ctx context.Context, identifierType, identifierValue string) error {
	return s.Visitor(ctx).Link(ctx, identifierType, identifierValue)
}

// SignUp links an identifier to the visitor and marks the session as signed up, which
// schedules an alias task when the session finishes.
func (s *Session) SignUp(ctx context.Context, identifierType, identifierValue string) error {
	if err := s.Visitor(ctx).Link(ctx, identifierType, identifierValue); err != nil {
		return err
	}
	s.signedUp = true
	return nil
}

func (s *Session) SignedUp() bool { return s.signedUp }

// CookieDomain returns the domain identity cookies are scoped to.
func (s *Session) CookieDomain() (string, error) {
	if s.cookieDomain == "" {
		d, err := cookiedomain.Resolve(s.req.Host)
		if err != nil {
			return "", err
		}
		s.cookieDomain = d
	}
	return s.cookieDomain, nil
}

// DistinctID returns the analytics identity, reading or generating the analytics cookie.
func (s *Session) DistinctID(ctx context.Context) (string, error) {
	c, err := s.analyticsCookie(ctx)
	if err != nil {
		return "", err
	}
	return c.DistinctID, nil
}

// Snapshot returns the state clients need to evaluate splits themselves.
func (s *Session) Snapshot(ctx context.Context) (StateSnapshot, error) {
	cookieDomain, err := s.CookieDomain()
	if err != nil {
		return StateSnapshot{}, err
	}

	v := s.Visitor(ctx)
	registry, err := v.SplitRegistry(ctx)
	if err != nil {
		return StateSnapshot{}, err
	}
	assignments, err := v.AssignmentRegistry(ctx)
	if err != nil {
		return StateSnapshot{}, err
	}

	return StateSnapshot{
		URL:          s.cfg.URL,
		CookieDomain: cookieDomain,
		Registry:     registry,
		Assignments:  assignments,
	}, nil
}

// PersistCookies writes the analytics and identity cookies. It only writes once per
// session, so the HTTP layer may call it early, right before the response is committed.
func (s *Session) PersistCookies(ctx context.Context) error {
	if s.cookiesPersisted {
		return nil
	}

	cookieDomain, err := s.CookieDomain()
	if err != nil {
		return fmt.Errorf("failed to persist cookies: %w", err)
	}
	name, err := analyticscookie.Name(s.cfg.AnalyticsToken)
	if err != nil {
		return fmt.Errorf("failed to persist cookies: %w", err)
	}
	c, err := s.analyticsCookie(ctx)
	if err != nil {
		return fmt.Errorf("failed to persist cookies: %w", err)
	}
	value, err := analyticscookie.Encode(c)
	if err != nil {
		return fmt.Errorf("failed to persist cookies: %w", err)
	}

	expires := s.deps.Clock.Now().AddDate(1, 0, 0)
	s.writeCookie(name, value, cookieDomain, expires)
	s.writeCookie(VisitorCookieName, s.Visitor(ctx).ID(), cookieDomain, expires)

	s.cookiesPersisted = true
	return nil
}

func (s *Session) writeCookie(name, value, cookieDomain string, expires time.Time) {
	s.req.Jar.Write(domain.Cookie{
		Name:     name,
		Value:    value,
		Domain:   cookieDomain,
		Secure:   s.req.Secure,
		HTTPOnly: false,
		Expires:  expires,
	})
}

func (s *Session) analyticsCookie(ctx context.Context) (analyticscookie.Cookie, error) {
	if s.analytics != nil {
		return *s.analytics, nil
	}

	name, err := analyticscookie.Name(s.cfg.AnalyticsToken)
	if err != nil {
		return analyticscookie.Cookie{}, err
	}

	raw, present := s.req.Jar.Read(name)
	c, outcome := analyticscookie.Decode(ctx, raw, present, s.Visitor(ctx).ID())
	s.deps.Recorder.AnalyticsCookieDecoded(outcome)

	s.analytics = &c
	return c, nil
}

func (s *Session) scheduleNotification(ctx context.Context) error {
	distinctID, err := s.DistinctID(ctx)
	if err != nil {
		return err
	}
	v := s.Visitor(ctx)

	t, err := task.NewNotificationTask(distinctID, v.ID(), v.NewAssignments())
	if err != nil {
		return err
	}
	return s.enqueue(ctx, t)
}

func (s *Session) scheduleAlias(ctx context.Context) error {
	distinctID, err := s.DistinctID(ctx)
	if err != nil {
		return err
	}

	t, err := task.NewAliasTask(distinctID, s.Visitor(ctx).ID())
	if err != nil {
		return err
	}
	return s.enqueue(ctx, t)
}

func (s *Session) enqueue(ctx context.Context, t domain.Task) error {
	if err := s.deps.Queue.Enqueue(ctx, t); err != nil {
		s.deps.Recorder.TaskScheduleFailed(t.Kind())
		return fmt.Errorf("failed to schedule %s task: %w", t.Kind(), err)
	}
	s.deps.Recorder.TaskScheduled(t.Kind())
	slog.DebugContext(ctx, "Scheduled task", "kind", t.Kind(), "visitor_id", s.Visitor(ctx).ID())
	return nil
}

type nopRecorder struct{}

func (nopRecorder) AnalyticsCookieDecoded(analyticscookie.Outcome) {}
func (nopRecorder) TaskScheduled(string)                           {}
func (nopRecorder) TaskScheduleFailed(string)                      {}
