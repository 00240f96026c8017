package agent

import "errors"

var (
	// ErrAgentNotFound is returned when a lookup names an agent that
	// was never registered.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrDuplicateAgent is returned when a registration collides with
	// the reserved root alias.
	ErrDuplicateAgent = errors.New("duplicate agent")

	// ErrInvalidAgent is returned when a definition fails validation.
	ErrInvalidAgent = errors.New("invalid agent definition")
)
