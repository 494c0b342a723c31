package task

import (
	"fmt"
	"strings"

	"github.com/pscheid92/testtrack-client/internal/domain"
)

// InvalidTaskError names the field that failed validation.
type InvalidTaskError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *InvalidTaskError) Error() string {
	return fmt.Sprintf("%s task: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *InvalidTaskError) Unwrap() error { return domain.ErrInvalidTask }

// UnknownOptionError lists payload keys that are not part of the task schema.
type UnknownOptionError struct {
	Kind    string
	Options []string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("%s task: unknown opts: %s", e.Kind, strings.Join(e.Options, ", "))
}

func (e *UnknownOptionError) Unwrap() error { return domain.ErrUnknownOption }

func requireNonEmpty(kind, field, value string) error {
	if value == "" {
		return &InvalidTaskError{Kind: kind, Field: field, Reason: "must be a non-empty string"}
	}
	return nil
}
