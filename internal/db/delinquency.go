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

const aggregateColumns = `
	id, resident_id, amount_owed, is_delinquent, days_in_arrears,
	first_delinquency_date, notifications_sent, last_notification_date,
	suspended_for_delinquency, suspension_date, suspension_reason,
	created_at, updated_at
`

func scanAggregate(row pgx.Row) (*DelinquencyAggregate, error) {
	var a DelinquencyAggregate
	err := row.Scan(
		&a.ID,
		&a.ResidentID,
		&a.AmountOwed,
		&a.IsDelinquent,
		&a.DaysInArrears,
		&a.FirstDelinquencyDate,
		&a.NotificationsSent,
		&a.LastNotificationDate,
		&a.SuspendedForDelinquency,
		&a.SuspensionDate,
		&a.SuspensionReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAggregateByResident retrieves the delinquency aggregate for one household.
func (r *Repository) GetAggregateByResident(ctx context.Context, residentID uuid.UUID) (*DelinquencyAggregate, error) {
	query := `SELECT ` + aggregateColumns + ` FROM delinquency_aggregates WHERE resident_id = $1`

	agg, err := scanAggregate(r.db.Pool().QueryRow(ctx, query, residentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("no delinquency aggregate for resident %s", residentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query delinquency aggregate: %w", err)
	}

	return agg, nil
}

// CreateAggregate inserts a new aggregate. Aggregates are created lazily when a
// household first accrues a charge and are never hard-deleted.
func (r *Repository) CreateAggregate(ctx context.Context, agg *DelinquencyAggregate) error {
	query := `
		INSERT INTO delinquency_aggregates (
			id, resident_id, amount_owed, is_delinquent, days_in_arrears,
			first_delinquency_date, notifications_sent, last_notification_date,
			suspended_for_delinquency, suspension_date, suspension_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		agg.ID,
		agg.ResidentID,
		agg.AmountOwed,
		agg.IsDelinquent,
		agg.DaysInArrears,
		agg.FirstDelinquencyDate,
		agg.NotificationsSent,
		agg.LastNotificationDate,
		agg.SuspendedForDelinquency,
		agg.SuspensionDate,
		agg.SuspensionReason,
	).Scan(&agg.CreatedAt, &agg.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create delinquency aggregate",
			zap.Error(err),
			zap.String("resident_id", agg.ResidentID.String()),
		)
		return fmt.Errorf("insert delinquency aggregate: %w", err)
	}

	r.logger.Info("delinquency aggregate created",
		zap.String("resident_id", agg.ResidentID.String()),
		zap.Float64("amount_owed", agg.AmountOwed),
	)

	return nil
}

// SaveAggregate writes the full aggregate state. Only the billing mutation
// path calls this: it owns the balance, so writing every field is safe. The
// sweep uses the narrow updates below instead, which never touch amount_owed.
func (r *Repository) SaveAggregate(ctx context.Context, agg *DelinquencyAggregate) error {
	query := `
		UPDATE delinquency_aggregates
		SET amount_owed = $1,
			is_delinquent = $2,
			days_in_arrears = $3,
			first_delinquency_date = $4,
			notifications_sent = $5,
			last_notification_date = $6,
			suspended_for_delinquency = $7,
			suspension_date = $8,
			suspension_reason = $9,
			updated_at = NOW()
		WHERE id = $10
	`

	result, err := r.db.Pool().Exec(
		ctx,
		query,
		agg.AmountOwed,
		agg.IsDelinquent,
		agg.DaysInArrears,
		agg.FirstDelinquencyDate,
		agg.NotificationsSent,
		agg.LastNotificationDate,
		agg.SuspendedForDelinquency,
		agg.SuspensionDate,
		agg.SuspensionReason,
		agg.ID,
	)
	if err != nil {
		r.logger.Error("failed to save delinquency aggregate",
			zap.Error(err),
			zap.String("aggregate_id", agg.ID.String()),
		)
		return fmt.Errorf("save delinquency aggregate: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("delinquency aggregate %s not found", agg.ID)
	}

	return nil
}

// AgeAggregate persists one sweep pass's aging. The arrears fields derive from
// the balance stored in the row, not from the sweep's list-time snapshot, so a
// settlement committing between list and save wins instead of being reverted.
// The returned flag is the row's delinquency state after the write; callers
// treat false as "settled underneath us" and emit nothing further.
func (r *Repository) AgeAggregate(ctx context.Context, id uuid.UUID, daysInArrears int) (bool, error) {
	query := `
		UPDATE delinquency_aggregates
		SET is_delinquent = (amount_owed > 0),
			days_in_arrears = CASE WHEN amount_owed > 0 THEN $1 ELSE 0 END,
			updated_at = NOW()
		WHERE id = $2
		RETURNING is_delinquent
	`

	var delinquent bool
	err := r.db.Pool().QueryRow(ctx, query, daysInArrears, id).Scan(&delinquent)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperr.NotFoundf("delinquency aggregate %s not found", id)
	}
	if err != nil {
		r.logger.Error("failed to age delinquency aggregate",
			zap.Error(err),
			zap.String("aggregate_id", id.String()),
		)
		return false, fmt.Errorf("age delinquency aggregate: %w", err)
	}

	return delinquent, nil
}

// RecordReminderSent bumps the reminder counters after a successful send.
// Balance and aging fields are untouched.
func (r *Repository) RecordReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE delinquency_aggregates
		SET notifications_sent = notifications_sent + 1,
			last_notification_date = $1,
			updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("record reminder sent: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.NotFoundf("delinquency aggregate %s not found", id)
	}

	return nil
}

// MarkAggregateSuspended flips the suspension flag exactly once. The guard on
// the stored balance means a household that settled while the sweep was
// deciding is never suspended; false reports the write did not land.
func (r *Repository) MarkAggregateSuspended(ctx context.Context, id uuid.UUID, at time.Time, reason string) (bool, error) {
	query := `
		UPDATE delinquency_aggregates
		SET suspended_for_delinquency = TRUE,
			suspension_date = $1,
			suspension_reason = $2,
			updated_at = NOW()
		WHERE id = $3 AND amount_owed > 0 AND suspended_for_delinquency = FALSE
	`

	result, err := r.db.Pool().Exec(ctx, query, at, reason, id)
	if err != nil {
		r.logger.Error("failed to mark aggregate suspended",
			zap.Error(err),
			zap.String("aggregate_id", id.String()),
		)
		return false, fmt.Errorf("mark aggregate suspended: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListDelinquentAggregates returns every aggregate with an outstanding balance,
// oldest arrears first. The daily sweep iterates this set sequentially.
func (r *Repository) ListDelinquentAggregates(ctx context.Context) ([]*DelinquencyAggregate, error) {
	query := `
		SELECT ` + aggregateColumns + `
		FROM delinquency_aggregates
		WHERE is_delinquent = TRUE AND amount_owed > 0
		ORDER BY first_delinquency_date ASC NULLS LAST
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query delinquent aggregates: %w", err)
	}
	defer rows.Close()

	var aggregates []*DelinquencyAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delinquency aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return aggregates, nil
}
