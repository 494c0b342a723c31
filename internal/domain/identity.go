package domain

import "context"

// IdentifierLinker records that an external identifier (email, account id, ...)
// belongs to a visitor.
type IdentifierLinker interface {
	LinkIdentifier(ctx context.Context, visitorID, identifierType, identifierValue string) error
}
