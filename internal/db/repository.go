package db

import (
	"go.uber.org/zap"
)

// Repository handles database operations for the compliance and dispatch engine.
// Methods are grouped by entity: devices.go, notifications.go, delinquency.go,
// publications.go.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}
