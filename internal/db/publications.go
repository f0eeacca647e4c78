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

const publicationColumns = `
	id, title, body, scheduled, scheduled_at, notifications_sent, created_at, updated_at
`

func scanPublication(row pgx.Row) (*Publication, error) {
	var p Publication
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Body,
		&p.Scheduled,
		&p.ScheduledAt,
		&p.NotificationsSent,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPublication retrieves one publication by ID.
func (r *Repository) GetPublication(ctx context.Context, id uuid.UUID) (*Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications WHERE id = $1`

	p, err := scanPublication(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFoundf("publication %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query publication: %w", err)
	}

	return p, nil
}

// ListDuePublications returns scheduled publications whose release time has
// arrived and whose notifications have not yet been dispatched.
func (r *Repository) ListDuePublications(ctx context.Context, now time.Time) ([]*Publication, error) {
	query := `
		SELECT ` + publicationColumns + `
		FROM publications
		WHERE scheduled = TRUE AND notifications_sent = FALSE AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due publications: %w", err)
	}
	defer rows.Close()

	var publications []*Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		publications = append(publications, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return publications, nil
}

// MarkPublicationNotified flips notifications_sent exactly once. The WHERE
// guard on the previous value makes a second sweep over the same publication a
// no-op; the boolean return tells the caller whether this call won.
func (r *Repository) MarkPublicationNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE publications
		SET notifications_sent = TRUE, updated_at = NOW()
		WHERE id = $1 AND notifications_sent = FALSE
	`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark publication notified: %w", err)
	}

	marked := result.RowsAffected() > 0
	if marked {
		r.logger.Info("publication marked notified", zap.String("publication_id", id.String()))
	}

	return marked, nil
}

// ListPublicationTargets returns the audience rows for one publication.
func (r *Repository) ListPublicationTargets(ctx context.Context, publicationID uuid.UUID) ([]*PublicationTarget, error) {
	query := `
		SELECT id, publication_id, kind, street_id, address_id
		FROM publication_targets
		WHERE publication_id = $1
	`

	rows, err := r.db.Pool().Query(ctx, query, publicationID)
	if err != nil {
		return nil, fmt.Errorf("query publication targets: %w", err)
	}
	defer rows.Close()

	var targets []*PublicationTarget
	for rows.Next() {
		var t PublicationTarget
		if err := rows.Scan(&t.ID, &t.PublicationID, &t.Kind, &t.StreetID, &t.AddressID); err != nil {
			return nil, fmt.Errorf("scan publication target: %w", err)
		}
		targets = append(targets, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return targets, nil
}

// ListAllActiveResidentIDs resolves the "all" audience.
func (r *Repository) ListAllActiveResidentIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT id FROM residents WHERE active = TRUE`
	return r.queryResidentIDs(ctx, query)
}

// ListResidentIDsByStreet resolves residents whose address belongs to a street.
func (r *Repository) ListResidentIDsByStreet(ctx context.Context, streetID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT res.id
		FROM residents res
		JOIN addresses addr ON addr.id = res.address_id
		WHERE res.active = TRUE AND addr.street_id = $1
	`
	return r.queryResidentIDs(ctx, query, streetID)
}

// ListResidentIDsByAddress resolves residents at one address.
func (r *Repository) ListResidentIDsByAddress(ctx context.Context, addressID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT id FROM residents WHERE active = TRUE AND address_id = $1`
	return r.queryResidentIDs(ctx, query, addressID)
}

func (r *Repository) queryResidentIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query resident ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan resident id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return ids, nil
}
