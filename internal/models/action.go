package models

import (
	"time"
)

// ActionCandidate is one element the provider proposes for an instruction.
// Locator, Method and Arguments are opaque to the engine and only replayed.
type ActionCandidate struct {
	Description string   `json:"description"`
	Locator     string   `json:"locator"`
	Method      string   `json:"method,omitempty"`
	Arguments   []string `json:"arguments,omitempty"`
}

// ActionOutcome classifies an ActionResult
type ActionOutcome string

const (
	ActionOutcomeSucceeded ActionOutcome = "succeeded"
	// ActionOutcomeNotFound means no element matched, the interaction was never attempted
	ActionOutcomeNotFound ActionOutcome = "not_found"
	// ActionOutcomeFailed means the element was located but the interaction failed
	ActionOutcomeFailed ActionOutcome = "failed"
)

// ActionResult is the provider's report for one act call.
// Providers that cannot tell "missing" from "broken" leave Attempted false,
// which the pagination driver treats as the end of the list.
type ActionResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Attempted bool   `json:"attempted,omitempty"`
}

// Outcome classifies the result
func (r *ActionResult) Outcome() ActionOutcome {
	switch {
	case r == nil:
		return ActionOutcomeNotFound
	case r.Success:
		return ActionOutcomeSucceeded
	case r.Attempted:
		return ActionOutcomeFailed
	default:
		return ActionOutcomeNotFound
	}
}

// CachedAction is a resolved action keyed by its exact instruction text
type CachedAction struct {
	Instruction string          `json:"instruction" badgerhold:"key"`
	Candidate   ActionCandidate `json:"candidate"`
	Failures    int             `json:"failures"`
	CreatedAt   time.Time       `json:"created_at"`
	LastUsedAt  time.Time       `json:"last_used_at"`
}
