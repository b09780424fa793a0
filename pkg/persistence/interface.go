package persistence

import (
	"context"

	"github.com/osvaldoandrade/uicase/internal/repository"
)

// ErrNotFound is what every backend returns for an unknown run id.
var ErrNotFound = repository.ErrRunNotFound

// RunStorage stores run records for the history endpoints.
type RunStorage = repository.RunRepository

// PluginPersistence is a run-history backend.
type PluginPersistence interface {
	RunStorage() RunStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}
