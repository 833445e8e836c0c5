package services

import (
	"context"

	"chat-vectorsync/internal/models"
)

// VectorService is the boundary to the external embedding and vector index.
// Implementations must be safe for concurrent use by batch workers.
type VectorService interface {
	// Upload embeds and indexes the message, returning its point id.
	Upload(ctx context.Context, msg *models.Message) (string, error)

	// FetchPayload returns the stored payload of a point, or nil if absent.
	FetchPayload(ctx context.Context, pointID string) (map[string]any, error)

	// ImportPayload writes a previously exported payload under pointID.
	ImportPayload(ctx context.Context, pointID string, payload map[string]any) error

	// UpdateSessionMetadata rewrites the session id stored on the given points.
	UpdateSessionMetadata(ctx context.Context, pointIDs []string, oldSession, newSession string) (int, error)
}
