package storage

import "errors"

// Storage error constants
var (
	// ErrEventNotFound is returned when a security event is not found
	ErrEventNotFound = errors.New("security event not found")

	// ErrEndpointNotFound is returned when an endpoint is not found
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrBlockNotFound is returned when no active block exists for an IP
	ErrBlockNotFound = errors.New("blocked IP not found")

	// ErrRuleNotFound is returned when a rule is not found
	ErrRuleNotFound = errors.New("rule not found")

	// ErrIncidentNotFound is returned when a triaged incident is not found
	ErrIncidentNotFound = errors.New("triaged incident not found")

	// ErrHuntNotFound is returned when a threat hunt is not found
	ErrHuntNotFound = errors.New("threat hunt not found")

	// ErrInvestigationNotFound is returned when an investigation is not found
	ErrInvestigationNotFound = errors.New("investigation not found")
)
