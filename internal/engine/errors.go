package engine

import "errors"

// Engine errors. None of these are fatal to the simulation: a rejected
// order leaves all market and agent state untouched.
var (
	ErrInvalidOrder          = errors.New("invalid order")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrOrderNotFound         = errors.New("order not found")
	ErrAgentNotFound         = errors.New("agent not found")
	ErrDuplicateOrder        = errors.New("agent already submitted this round")
)
