package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/quarry/internal/models"
)

// ActionProvider turns natural-language instructions into page interactions
// and structured data against the current page of an automation session.
type ActionProvider interface {
	// Act resolves the instruction against the page and performs it
	Act(ctx context.Context, instruction string) (*models.ActionResult, error)

	// ActWith replays a previously resolved candidate without resolution
	ActWith(ctx context.Context, candidate models.ActionCandidate) (*models.ActionResult, error)

	// Observe lists candidate elements for the instruction, possibly none
	Observe(ctx context.Context, instruction string) ([]models.ActionCandidate, error)

	// Extract returns data from the current view shaped by schema
	Extract(ctx context.Context, instruction string, schema models.Schema) (json.RawMessage, error)
}

// LiveViewer is implemented by providers that can hand a human a link into the session
type LiveViewer interface {
	LiveViewURL(ctx context.Context) (string, error)
}

// SessionProvider is an ActionProvider bound to one automation session
type SessionProvider interface {
	ActionProvider
	SessionID() string
	Close() error
}

// ProviderFactory opens a fresh session for one extraction run
type ProviderFactory interface {
	Open(ctx context.Context, userEmail string) (SessionProvider, error)
}
