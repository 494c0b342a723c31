package domain

import "errors"

var (
	ErrRegistryUnavailable    = errors.New("split registry unavailable")
	ErrIdentifierLinkFailed   = errors.New("identifier linking failed")
	ErrUnknownSplit           = errors.New("unknown split")
	ErrInvalidSplit           = errors.New("invalid split configuration")
	ErrDomainResolution       = errors.New("cookie domain resolution failed")
	ErrMissingAnalyticsToken  = errors.New("analytics token must be set")
	ErrInvalidTask            = errors.New("invalid task")
	ErrUnknownOption          = errors.New("unknown opts")
	ErrQueueFull              = errors.New("task queue full")
	ErrQueueClosed            = errors.New("task queue closed")
	ErrInvalidIdentifier      = errors.New("invalid identifier")
	ErrSessionAlreadyFinished = errors.New("session already finished")
)
