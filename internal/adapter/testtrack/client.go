// Package testtrack is the HTTP client for the remote split registry service.
package testtrack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pscheid92/testtrack-client/internal/domain"
	"github.com/pscheid92/testtrack-client/internal/platform/version"
)

const serviceName = "testtrack"

// Metrics receives per-call observations.
type Metrics interface {
	ObserveRequest(service, operation string, d time.Duration, err error)
	BreakerStateChanged(component, stateName string, state float64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRequest(string, string, time.Duration, error) {}
func (nopMetrics) BreakerStateChanged(string, string, float64)        {}

type Config struct {
	BaseURL   string
	AppName   string
	AppSecret string
	Timeout   time.Duration
}

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Operation string
	Status    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Operation, e.Status)
}

// Client talks to the split registry service. It implements
// domain.SplitRegistrySource and domain.IdentifierLinker.
type Client struct {
	cfg     Config
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	metrics Metrics
}

var (
	_ domain.SplitRegistrySource = (*Client)(nil)
	_ domain.IdentifierLinker    = (*Client)(nil)
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors mean the service is up.
		IsSuccessful: func(err error) bool {
			if se, ok := errors.AsType[*StatusError](err); ok {
				return se.Status < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			c.metrics.BreakerStateChanged(name, to.String(), breakerState(to))
		},
	})
	return c
}

type visitorResponse struct {
	ID          string              `json:"id"`
	Assignments []domain.Assignment `json:"assignments"`
}

type identifierRequest struct {
	IdentifierType string `json:"identifier_type"`
	Value          string `json:"value"`
	VisitorID      string `json:"visitor_id"`
}

func (c *Client) SplitRegistry(ctx context.Context) (domain.SplitRegistry, error) {
	var registry domain.SplitRegistry
	if err := c.do(ctx, "split_registry", http.MethodGet, "/api/v1/split_registry", nil, &registry); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRegistryUnavailable, err)
	}
	if registry == nil {
		registry = domain.SplitRegistry{}
	}
	return registry, nil
}

func (c *Client) SplitWeights(ctx context.Context, splitName string) (domain.Weights, error) {
	registry, err := c.SplitRegistry(ctx)
	if err != nil {
		return nil, err
	}
	weights, ok := registry[splitName]
	if !ok {
		return nil, fmt.Errorf("split %q: %w", splitName, domain.ErrUnknownSplit)
	}
	return weights, nil
}

// FetchAssignments returns the visitor's known assignments. A visitor the service has
// never seen has none.
func (c *Client) FetchAssignments(ctx context.Context, visitorID string) ([]domain.Assignment, error) {
	var resp visitorResponse
	err := c.do(ctx, "visitor", http.MethodGet, "/api/v1/visitors/"+url.PathEscape(visitorID), nil, &resp)
	if se, ok := errors.AsType[*StatusError](err); ok && se.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRegistryUnavailable, err)
	}
	return resp.Assignments, nil
}

func (c *Client) LinkIdentifier(ctx context.Context, visitorID, identifierType, identifierValue string) error {
	body := identifierRequest{IdentifierType: identifierType, Value: identifierValue, VisitorID: visitorID}
	if err := c.do(ctx, "identifier", http.MethodPost, "/api/v1/identifier", body, nil); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIdentifierLinkFailed, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, in, out any) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveRequest(serviceName, operation, time.Since(start), err) }()

	_, err = c.cb.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, operation, method, path, in, out)
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, operation, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	req.SetBasicAuth(c.cfg.AppName, c.cfg.AppSecret)
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Operation: operation, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}

func breakerState(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
