package services

import (
	"context"
	"errors"
	"fmt"

	"chat-vectorsync/internal/database"
)

var (
	// ErrVectorServiceRequired is returned when an operation needs the vector
	// store but none is configured
	ErrVectorServiceRequired = errors.New("vector service is not configured")

	// ErrDatabaseUnavailable is returned when the relational store cannot be reached
	ErrDatabaseUnavailable = database.ErrUnavailable

	// ErrValidation is returned when an import document fails schema validation
	ErrValidation = errors.New("import document failed validation")

	// ErrInvalidSession is returned for empty or identical session ids
	ErrInvalidSession = errors.New("invalid session id")
)

// storeError classifies a failed read. A cancelled or expired context is
// returned as such; anything else is reported as an unreachable database.
// The cause stays in the chain either way.
func storeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(err, ctxErr) {
			return err
		}
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
}
