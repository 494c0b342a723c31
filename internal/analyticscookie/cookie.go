// Package analyticscookie reads and writes the analytics vendor's identity cookie.
//
// The cookie value is URL-escaped JSON carrying at least a distinct_id. Any other
// properties the vendor's client library stored are preserved untouched.
package analyticscookie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"

	"github.com/pscheid92/testtrack-client/internal/domain"
)

const distinctIDKey = "distinct_id"

// Cookie is the decoded analytics cookie.
type Cookie struct {
	DistinctID string
	Properties map[string]json.RawMessage
}

// Outcome tells how Decode produced its cookie.
type Outcome string

const (
	OutcomeParsed    Outcome = "parsed"
	OutcomeAbsent    Outcome = "absent"
	OutcomeMalformed Outcome = "malformed"
)

var errMissingDistinctID = errors.New("distinct_id missing or empty")

// Generate returns a fresh cookie for the given visitor.
func Generate(visitorID string) Cookie {
	return Cookie{DistinctID: visitorID}
}

// Name returns the cookie name for the vendor project token.
func Name(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("MIXPANEL_TOKEN: %w", domain.ErrMissingAnalyticsToken)
	}
	return "mp_" + token + "_mixpanel", nil
}

// Decode parses a raw cookie value. A missing or unreadable cookie is replaced by a
// generated one for visitorID; a malformed value is logged and never returned as an error.
func Decode(ctx context.Context, raw string, present bool, visitorID string) (Cookie, Outcome) {
	if !present {
		return Generate(visitorID), OutcomeAbsent
	}

	cookie, err := parse(raw)
	if err != nil {
		slog.ErrorContext(ctx, "Malformed analytics JSON from cookie", "value", unescapeForLog(raw), "error", err)
		return Generate(visitorID), OutcomeMalformed
	}
	return cookie, OutcomeParsed
}

// Encode serializes the cookie into its URL-escaped JSON wire form.
func Encode(c Cookie) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode analytics cookie: %w", err)
	}
	return url.PathEscape(string(data)), nil
}

func parse(raw string) (Cookie, error) {
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return Cookie{}, fmt.Errorf("unescape: %w", err)
	}

	var c Cookie
	if err := json.Unmarshal([]byte(unescaped), &c); err != nil {
		return Cookie{}, err
	}
	return c, nil
}

func unescapeForLog(raw string) string {
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

func (c Cookie) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(c.Properties)+1)
	maps.Copy(fields, c.Properties)

	id, err := json.Marshal(c.DistinctID)
	if err != nil {
		return nil, err
	}
	fields[distinctIDKey] = id

	return json.Marshal(fields)
}

func (c *Cookie) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	rawID, ok := fields[distinctIDKey]
	if !ok {
		return errMissingDistinctID
	}
	var id string
	if err := json.Unmarshal(rawID, &id); err != nil {
		return fmt.Errorf("distinct_id: %w", err)
	}
	if id == "" {
		return errMissingDistinctID
	}
	delete(fields, distinctIDKey)

	c.DistinctID = id
	c.Properties = nil
	if len(fields) > 0 {
		c.Properties = fields
	}
	return nil
}
