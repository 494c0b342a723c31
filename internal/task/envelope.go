package task

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/pscheid92/testtrack-client/internal/domain"
)

// Envelope is the queue wire format wrapping a task payload.
type Envelope struct {
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts,omitempty"`
}

// Marshal validates t and wraps it in an envelope.
func Marshal(t domain.Task, now time.Time) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", t.Kind(), err)
	}

	data, err := json.Marshal(Envelope{Kind: t.Kind(), Payload: payload, EnqueuedAt: now.UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", t.Kind(), err)
	}
	return data, nil
}

// Unmarshal decodes an envelope and its task.
func Unmarshal(data []byte) (Envelope, domain.Task, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("failed to decode task envelope: %w", err)
	}

	var (
		t   domain.Task
		err error
	)
	switch env.Kind {
	case KindCreateAlias:
		t, err = DecodeAliasTask(env.Payload)
	case KindNotifyNewAssignments:
		t, err = DecodeNotificationTask(env.Payload)
	default:
		return env, nil, fmt.Errorf("unknown task kind %q: %w", env.Kind, domain.ErrInvalidTask)
	}
	if err != nil {
		return env, nil, err
	}
	return env, t, nil
}

func decodeStrict(kind string, payload json.RawMessage, allowed []string, dst any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("%s task: malformed payload: %w", kind, err)
	}

	var unknown []string
	for key := range fields {
		if !slices.Contains(allowed, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return &UnknownOptionError{Kind: kind, Options: unknown}
	}

	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%s task: malformed payload: %w", kind, err)
	}
	return nil
}
