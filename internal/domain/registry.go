package domain

import "context"

// Weights maps a variant name to its selection weight.
type Weights map[string]int

// SplitRegistry maps a split name to its configured variant weights.
type SplitRegistry map[string]Weights

// Assignment is a visitor's resolved variant for one split as reported by the
// remote registry. Unsynced assignments have not been reported to analytics yet.
type Assignment struct {
	SplitName string `json:"split_name"`
	Variant   string `json:"variant"`
	Unsynced  bool   `json:"unsynced"`
}

// SplitRegistrySource is the remote split registry. Transport failures are
// reported wrapped in ErrRegistryUnavailable.
type SplitRegistrySource interface {
	SplitRegistry(ctx context.Context) (SplitRegistry, error)
	FetchAssignments(ctx context.Context, visitorID string) ([]Assignment, error)
	SplitWeights(ctx context.Context, splitName string) (Weights, error)
}
