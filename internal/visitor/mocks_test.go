package visitor

import (
	"context"
	"fmt"

	"github.com/pscheid92/testtrack-client/internal/domain"
)

type mockSource struct {
	registry    domain.SplitRegistry
	assignments []domain.Assignment

	registryErr error
	fetchErr    error

	registryCalls int
	weightsCalls  int
	fetchCalls    int
	fetchedIDs    []string
}

func (m *mockSource) SplitRegistry(_ context.Context) (domain.SplitRegistry, error) {
	m.registryCalls++
	if m.registryErr != nil {
		return nil, m.registryErr
	}
	return m.registry, nil
}

func (m *mockSource) FetchAssignments(_ context.Context, visitorID string) ([]domain.Assignment, error) {
	m.fetchCalls++
	m.fetchedIDs = append(m.fetchedIDs, visitorID)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.assignments, nil
}

func (m *mockSource) SplitWeights(_ context.Context, splitName string) (domain.Weights, error) {
	m.weightsCalls++
	if m.registryErr != nil {
		return nil, m.registryErr
	}
	weights, ok := m.registry[splitName]
	if !ok {
		return nil, fmt.Errorf("split %q: %w", splitName, domain.ErrUnknownSplit)
	}
	return weights, nil
}

type linkCall struct {
	visitorID, identifierType, identifierValue string
}

type mockLinker struct {
	err   error
	calls []linkCall
}

func (m *mockLinker) LinkIdentifier(_ context.Context, visitorID, identifierType, identifierValue string) error {
	m.calls = append(m.calls, linkCall{visitorID, identifierType, identifierValue})
	return m.err
}
