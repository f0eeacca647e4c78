package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
)

// CreateNotificationRecord inserts a new notification record. The dispatcher
// persists the record with sent = FALSE before attempting any delivery.
func (r *Repository) CreateNotificationRecord(ctx context.Context, rec *NotificationRecord) error {
	payload, err := marshalKV(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	actionPayload, err := marshalKV(rec.ActionPayload)
	if err != nil {
		return fmt.Errorf("marshal action payload: %w", err)
	}

	query := `
		INSERT INTO notification_records (
			id, user_id, channel, title, body, payload,
			sent, sent_at, delivery_error, action_required, action_type, action_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	err = r.db.Pool().QueryRow(
		ctx,
		query,
		rec.ID,
		rec.UserID,
		rec.Channel,
		rec.Title,
		rec.Body,
		payload,
		rec.Sent,
		rec.SentAt,
		rec.DeliveryError,
		rec.ActionRequired,
		rec.ActionType,
		actionPayload,
	).Scan(&rec.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create notification record",
			zap.Error(err),
			zap.String("notification_id", rec.ID.String()),
		)
		return fmt.Errorf("insert notification record: %w", err)
	}

	return nil
}

// MarkNotificationResult finalizes a record after the delivery attempt. The
// record is immutable afterwards; there is no other update path.
func (r *Repository) MarkNotificationResult(ctx context.Context, id uuid.UUID, sent bool, sentAt *time.Time, deliveryError *string) error {
	query := `
		UPDATE notification_records
		SET sent = $1, sent_at = $2, delivery_error = $3
		WHERE id = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, sent, sentAt, deliveryError, id)
	if err != nil {
		r.logger.Error("failed to mark notification result",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return fmt.Errorf("mark notification result: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("notification record %s not found", id)
	}

	return nil
}

// GetNotificationRecord retrieves a record by ID.
func (r *Repository) GetNotificationRecord(ctx context.Context, id uuid.UUID) (*NotificationRecord, error) {
	query := `
		SELECT
			id, user_id, channel, title, body, payload,
			sent, sent_at, delivery_error, action_required, action_type, action_payload,
			created_at
		FROM notification_records
		WHERE id = $1
	`

	rec, err := scanNotificationRecord(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("notification record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification record: %w", err)
	}

	return rec, nil
}

// ListNotificationsByUser retrieves a user's records, newest first.
func (r *Repository) ListNotificationsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*NotificationRecord, error) {
	query := `
		SELECT
			id, user_id, channel, title, body, payload,
			sent, sent_at, delivery_error, action_required, action_type, action_payload,
			created_at
		FROM notification_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notification records: %w", err)
	}
	defer rows.Close()

	var records []*NotificationRecord
	for rows.Next() {
		rec, err := scanNotificationRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

func scanNotificationRecord(row pgx.Row) (*NotificationRecord, error) {
	var rec NotificationRecord
	var payload, actionPayload []byte

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Channel,
		&rec.Title,
		&rec.Body,
		&payload,
		&rec.Sent,
		&rec.SentAt,
		&rec.DeliveryError,
		&rec.ActionRequired,
		&rec.ActionType,
		&actionPayload,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalKV(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := unmarshalKV(actionPayload, &rec.ActionPayload); err != nil {
		return nil, fmt.Errorf("unmarshal action payload: %w", err)
	}

	return &rec, nil
}

func marshalKV(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalKV(b []byte, m *map[string]string) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, m)
}
