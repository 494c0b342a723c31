// Package mixpanel sends alias and track events to the Mixpanel ingestion API.
package mixpanel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/pscheid92/testtrack-client/internal/platform/version"
)

const (
	DefaultAPIURL = "https://api.mixpanel.com"

	EventCreateAlias   = "$create_alias"
	EventSplitAssigned = "SplitAssigned"
)

var (
	ErrRejected    = errors.New("mixpanel rejected event")
	ErrUnavailable = errors.New("mixpanel unavailable")
	ErrRateLimited = errors.New("mixpanel rate limit exceeded")
	ErrBreakerOpen = errors.New("mixpanel circuit breaker open")
)

const (
	breakerFailures = 5
	breakerDelay    = 30 * time.Second
)

// Metrics receives per-call observations.
type Metrics interface {
	ObserveRequest(service, operation string, d time.Duration, err error)
	BreakerStateChanged(component, stateName string, state float64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRequest(string, string, time.Duration, error) {}
func (nopMetrics) BreakerStateChanged(string, string, float64)        {}

type Client struct {
	apiURL  string
	token   string
	http    *http.Client
	cb      circuitbreaker.CircuitBreaker[any]
	metrics Metrics
}

func NewClient(apiURL, token string, timeout time.Duration, metrics Metrics) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Client{
		apiURL:  strings.TrimRight(apiURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		cb:      newBreaker(metrics),
		metrics: metrics,
	}
}

// newBreaker opens after 5 consecutive outage-like failures and probes again after 30s.
// Rejected payloads do not count: they say nothing about the vendor's health.
func newBreaker(m Metrics) circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(breakerFailures).
		WithDelay(breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "mixpanel",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.BreakerStateChanged("mixpanel", e.NewState.String(), breakerState(e.NewState))
		}).
		Build()
}

func breakerState(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

type event struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

// Alias makes aliasID resolve to the identity distinctID.
func (c *Client) Alias(ctx context.Context, aliasID, distinctID string) error {
	return c.send(ctx, "alias", event{
		Event: EventCreateAlias,
		Properties: map[string]any{
			"distinct_id": distinctID,
			"alias":       aliasID,
			"token":       c.token,
		},
	})
}

// Track records one event for distinctID. props may be nil.
func (c *Client) Track(ctx context.Context, distinctID, name string, props map[string]any) error {
	properties := make(map[string]any, len(props)+3)
	for k, v := range props {
		properties[k] = v
	}
	properties["distinct_id"] = distinctID
	properties["token"] = c.token
	properties["time"] = time.Now().Unix()

	return c.send(ctx, "track", event{Event: name, Properties: properties})
}

func (c *Client) send(ctx context.Context, operation string, e event) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveRequest("mixpanel", operation, time.Since(start), err) }()

	if !c.cb.TryAcquirePermit() {
		return fmt.Errorf("%w: %w", ErrBreakerOpen, circuitbreaker.ErrOpen)
	}
	err = c.post(ctx, e)
	if err != nil && !errors.Is(err, ErrRejected) {
		c.cb.RecordError(err)
	} else {
		c.cb.RecordSuccess()
	}
	return err
}

func (c *Client) post(ctx context.Context, e event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Event, err)
	}
	form := url.Values{"data": {base64.StdEncoding.EncodeToString(payload)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/track", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", e.Event, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send %s event: %w", e.Event, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, e.Event)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, e.Event, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", ErrRejected, e.Event, resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != "1" {
		return fmt.Errorf("%w: %s returned %q", ErrRejected, e.Event, body)
	}
	return nil
}
