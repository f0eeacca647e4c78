package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
)

const deviceColumns = `
	id, user_id, device_id, push_token, platform, app_version, active,
	last_activity, last_delivery_status, last_delivery_at, created_at, updated_at
`

func scanDevice(row pgx.Row) (*DeviceRegistration, error) {
	var d DeviceRegistration
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.DeviceID,
		&d.PushToken,
		&d.Platform,
		&d.AppVersion,
		&d.Active,
		&d.LastActivity,
		&d.LastDeliveryStatus,
		&d.LastDeliveryAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDevice inserts or refreshes a device registration keyed by
// (user_id, device_id). On conflict the token, platform, and app version are
// overwritten, last_activity refreshed, and the row forced active.
func (r *Repository) UpsertDevice(ctx context.Context, d *DeviceRegistration) error {
	query := `
		INSERT INTO device_registrations (
			id, user_id, device_id, push_token, platform, app_version, active, last_activity
		) VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW())
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			push_token = EXCLUDED.push_token,
			platform = EXCLUDED.platform,
			app_version = EXCLUDED.app_version,
			active = TRUE,
			last_activity = NOW(),
			updated_at = NOW()
		RETURNING id, active, last_activity, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		d.ID,
		d.UserID,
		d.DeviceID,
		d.PushToken,
		d.Platform,
		d.AppVersion,
	).Scan(&d.ID, &d.Active, &d.LastActivity, &d.CreatedAt, &d.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to upsert device registration",
			zap.Error(err),
			zap.String("user_id", d.UserID.String()),
			zap.String("device_id", d.DeviceID),
		)
		return fmt.Errorf("upsert device registration: %w", err)
	}

	r.logger.Info("device registration upserted",
		zap.String("user_id", d.UserID.String()),
		zap.String("device_id", d.DeviceID),
		zap.String("platform", d.Platform),
	)

	return nil
}

// DeactivateDevice flips the row inactive without deleting it; registration
// history is retained for audit.
func (r *Repository) DeactivateDevice(ctx context.Context, userID uuid.UUID, deviceID string) (*DeviceRegistration, error) {
	query := `
		UPDATE device_registrations
		SET active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND device_id = $2
		RETURNING ` + deviceColumns

	d, err := scanDevice(r.db.Pool().QueryRow(ctx, query, userID, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("device %s not registered for user %s", deviceID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("deactivate device registration: %w", err)
	}

	r.logger.Info("device registration deactivated",
		zap.String("user_id", userID.String()),
		zap.String("device_id", deviceID),
	)

	return d, nil
}

// UpdateDeviceToken rotates the push token only if the stored token still
// equals oldToken. The conditional update runs against the single row, so a
// stale client can never clobber a newer registration.
func (r *Repository) UpdateDeviceToken(ctx context.Context, userID uuid.UUID, deviceID, oldToken, newToken string) (*DeviceRegistration, error) {
	query := `
		UPDATE device_registrations
		SET push_token = $1, last_activity = NOW(), updated_at = NOW()
		WHERE user_id = $2 AND device_id = $3 AND push_token = $4
		RETURNING ` + deviceColumns

	d, err := scanDevice(r.db.Pool().QueryRow(ctx, query, newToken, userID, deviceID, oldToken))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("device %s for user %s has no matching token to rotate", deviceID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate device token: %w", err)
	}

	r.logger.Info("device push token rotated",
		zap.String("user_id", userID.String()),
		zap.String("device_id", deviceID),
	)

	return d, nil
}

// ListActiveDevices returns every active registration for a user.
func (r *Repository) ListActiveDevices(ctx context.Context, userID uuid.UUID) ([]*DeviceRegistration, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_registrations WHERE user_id = $1 AND active = TRUE ORDER BY last_activity DESC`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query active devices: %w", err)
	}
	defer rows.Close()

	var devices []*DeviceRegistration
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device registration: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return devices, nil
}

// MarkDeviceDelivery records provider delivery metadata against the row holding
// the receipt's token. Returns false when no registration holds the token; the
// caller treats that silently because providers redeliver stale receipts.
func (r *Repository) MarkDeviceDelivery(ctx context.Context, pushToken, status string, at time.Time) (bool, error) {
	query := `
		UPDATE device_registrations
		SET last_delivery_status = $1, last_delivery_at = $2, updated_at = NOW()
		WHERE push_token = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, status, at, pushToken)
	if err != nil {
		return false, fmt.Errorf("mark device delivery: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
