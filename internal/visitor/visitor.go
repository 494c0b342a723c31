// Package visitor holds a visitor's identity and split assignments for one request.
//
// A Visitor is created from the identity cookie (or a fresh UUID) without any I/O.
// Remote state is loaded on first use: the split registry when it is read, and the
// visitor's existing assignments when an assignment is read or made.
package visitor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"github.com/pscheid92/testtrack-client/internal/domain"
)

// Visitor is not safe for concurrent use; it lives for a single request.
type Visitor struct {
	id       string
	existing bool

	source domain.SplitRegistrySource
	linker domain.IdentifierLinker

	registry       domain.SplitRegistry
	assignments    map[string]string
	newAssignments map[string]string
	loaded         bool
}

// New builds a visitor from an identity cookie value. An empty or malformed id
// yields a freshly generated visitor.
func New(ctx context.Context, existingID string, source domain.SplitRegistrySource, linker domain.IdentifierLinker) *Visitor {
	v := &Visitor{
		source:         source,
		linker:         linker,
		newAssignments: make(map[string]string),
	}

	if existingID != "" {
		if _, err := uuid.Parse(existingID); err == nil {
			v.id = existingID
			v.existing = true
			return v
		}
		slog.WarnContext(ctx, "Ignoring malformed visitor id cookie", "value", existingID)
	}

	v.id = uuid.NewString()
	return v
}

// Resolve builds a visitor and eagerly loads its assignments.
func Resolve(ctx context.Context, existingID string, source domain.SplitRegistrySource, linker domain.IdentifierLinker) (*Visitor, error) {
	v := New(ctx, existingID, source, linker)
	if err := v.load(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Visitor) ID() string { return v.id }

// Existing reports whether the identity came from the request rather than being generated.
func (v *Visitor) Existing() bool { return v.existing }

// SplitRegistry returns the split configuration, fetching it on first call.
func (v *Visitor) SplitRegistry(ctx context.Context) (domain.SplitRegistry, error) {
	if err := v.loadRegistry(ctx); err != nil {
		return nil, err
	}
	return maps.Clone(v.registry), nil
}

// loadRegistry fetches the registry once per visitor; assignment and snapshot
// both read this copy.
func (v *Visitor) loadRegistry(ctx context.Context) error {
	if v.registry != nil {
		return nil
	}
	registry, err := v.source.SplitRegistry(ctx)
	if err != nil {
		return fmt.Errorf("failed to load split registry: %w", err)
	}
	if registry == nil {
		registry = domain.SplitRegistry{}
	}
	v.registry = registry
	return nil
}

// AssignmentRegistry returns every assignment known for this visitor.
func (v *Visitor) AssignmentRegistry(ctx context.Context) (map[string]string, error) {
	if err := v.load(ctx); err != nil {
		return nil, err
	}
	return maps.Clone(v.assignments), nil
}

// NewAssignments returns the assignments made or still unreported during this request.
// It never triggers a remote lookup.
func (v *Visitor) NewAssignments() map[string]string {
	return maps.Clone(v.newAssignments)
}

// HasNewAssignments reports whether the request produced assignment changes.
func (v *Visitor) HasNewAssignments() bool {
	return len(v.newAssignments) > 0
}

// Assign returns the visitor's variant for split, choosing and recording one if the
// visitor has none yet. Repeated calls never reassign.
func (v *Visitor) Assign(ctx context.Context, split string) (string, error) {
	if err := v.load(ctx); err != nil {
		return "", err
	}

	if variant, ok := v.assignments[split]; ok {
		return variant, nil
	}

	if err := v.loadRegistry(ctx); err != nil {
		return "", err
	}
	weights, ok := v.registry[split]
	if !ok {
		return "", fmt.Errorf("split %q: %w", split, domain.ErrUnknownSplit)
	}

	variant, err := ChooseVariant(v.id, split, weights)
	if err != nil {
		return "", err
	}

	v.assignments[split] = variant
	v.newAssignments[split] = variant
	return variant, nil
}

// Link associates an external identifier with this visitor.
func (v *Visitor) Link(ctx context.Context, identifierType, identifierValue string) error {
	if identifierType == "" {
		return fmt.Errorf("identifier type must not be empty: %w", domain.ErrInvalidIdentifier)
	}
	if identifierValue == "" {
		return fmt.Errorf("identifier value must not be empty: %w", domain.ErrInvalidIdentifier)
	}

	if err := v.linker.LinkIdentifier(ctx, v.id, identifierType, identifierValue); err != nil {
		return fmt.Errorf("failed to link %s identifier to visitor %s: %w", identifierType, v.id, err)
	}
	return nil
}

func (v *Visitor) load(ctx context.Context) error {
	if v.loaded {
		return nil
	}

	v.assignments = make(map[string]string)
	if v.existing {
		remote, err := v.source.FetchAssignments(ctx, v.id)
		if err != nil {
			v.assignments = nil
			return fmt.Errorf("failed to fetch assignments for visitor %s: %w", v.id, err)
		}
		for _, a := range remote {
			v.assignments[a.SplitName] = a.Variant
			if a.Unsynced {
				v.newAssignments[a.SplitName] = a.Variant
			}
		}
	}

	v.loaded = true
	return nil
}
