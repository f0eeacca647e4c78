// Package devices owns the mapping from a user to their push-capable devices.
package devices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
	"github.com/vecino-app/vecino/internal/db"
)

// Store is the persistence surface the registry needs. Every write is keyed by
// (user_id, device_id) and touches a single row; the registry never does a
// scan-then-update, so concurrent login/logout/webhook writes cannot lose
// updates to each other.
type Store interface {
	UpsertDevice(ctx context.Context, d *db.DeviceRegistration) error
	DeactivateDevice(ctx context.Context, userID uuid.UUID, deviceID string) (*db.DeviceRegistration, error)
	UpdateDeviceToken(ctx context.Context, userID uuid.UUID, deviceID, oldToken, newToken string) (*db.DeviceRegistration, error)
	ListActiveDevices(ctx context.Context, userID uuid.UUID) ([]*db.DeviceRegistration, error)
}

// Registry validates and executes device registration operations.
type Registry struct {
	store  Store
	logger *zap.Logger
}

// NewRegistry creates a device registry backed by store.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger,
	}
}

// RegisterInput carries one registration request.
type RegisterInput struct {
	UserID     uuid.UUID
	DeviceID   string
	PushToken  string
	Platform   string
	AppVersion string
}

// Register upserts a registration keyed by (user, device). Calling it again
// with the same device overwrites token, platform, and app version, refreshes
// last activity, and reactivates the row; the operation is idempotent.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*db.DeviceRegistration, error) {
	if in.UserID == uuid.Nil {
		return nil, apperr.Validationf("user id is required")
	}
	if in.DeviceID == "" {
		return nil, apperr.Validationf("device id is required")
	}
	if in.PushToken == "" {
		return nil, apperr.Validationf("push token is required")
	}
	if in.Platform == "" {
		return nil, apperr.Validationf("platform is required")
	}

	reg := &db.DeviceRegistration{
		ID:           uuid.New(),
		UserID:       in.UserID,
		DeviceID:     in.DeviceID,
		PushToken:    in.PushToken,
		Platform:     in.Platform,
		AppVersion:   in.AppVersion,
		Active:       true,
		LastActivity: time.Now(),
	}

	if err := r.store.UpsertDevice(ctx, reg); err != nil {
		return nil, err
	}

	return reg, nil
}

// Deactivate flips a registration inactive. The row is kept for audit; a
// missing row surfaces as a not-found error, never a panic on "nothing to
// deactivate".
func (r *Registry) Deactivate(ctx context.Context, userID uuid.UUID, deviceID string) (*db.DeviceRegistration, error) {
	if deviceID == "" {
		return nil, apperr.Validationf("device id is required")
	}

	return r.store.DeactivateDevice(ctx, userID, deviceID)
}

// RotateToken replaces the stored push token only when it still equals
// oldToken. A stale client holding an outdated token gets not-found and the
// newer registration stays intact.
func (r *Registry) RotateToken(ctx context.Context, userID uuid.UUID, deviceID, oldToken, newToken string) (*db.DeviceRegistration, error) {
	if deviceID == "" {
		return nil, apperr.Validationf("device id is required")
	}
	if newToken == "" {
		return nil, apperr.Validationf("new token is required")
	}

	updated, err := r.store.UpdateDeviceToken(ctx, userID, deviceID, oldToken, newToken)
	if err != nil {
		return nil, err
	}

	r.logger.Info("push token rotated",
		zap.String("user_id", userID.String()),
		zap.String("device_id", deviceID),
	)

	return updated, nil
}

// ListActive returns the user's active registrations for dispatcher fan-out.
func (r *Registry) ListActive(ctx context.Context, userID uuid.UUID) ([]*db.DeviceRegistration, error) {
	return r.store.ListActiveDevices(ctx, userID)
}
