// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (errors.go, registry.go, identity.go, queue.go, cookie.go)
// hold shared types and the collaborator contracts the session engine consumes.
// No implementation code - just contracts.
package domain
