// Package publication releases scheduled announcements: resolves each due
// publication's audience and fans one push notification out per recipient.
package publication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vecino-app/vecino/internal/db"
	"github.com/vecino-app/vecino/internal/dispatch"
	"github.com/vecino-app/vecino/internal/metrics"
)

// recipientConcurrency bounds the parallel notification dispatches per
// publication so a community-wide announcement does not stampede the provider.
const recipientConcurrency = 8

// Store is the persistence surface the releaser needs.
type Store interface {
	ListDuePublications(ctx context.Context, now time.Time) ([]*db.Publication, error)
	ListPublicationTargets(ctx context.Context, publicationID uuid.UUID) ([]*db.PublicationTarget, error)
	MarkPublicationNotified(ctx context.Context, id uuid.UUID) (bool, error)
	ListAllActiveResidentIDs(ctx context.Context) ([]uuid.UUID, error)
	ListResidentIDsByStreet(ctx context.Context, streetID uuid.UUID) ([]uuid.UUID, error)
	ListResidentIDsByAddress(ctx context.Context, addressID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier sends one logical notification to one user.
type Notifier interface {
	Send(ctx context.Context, in dispatch.SendInput) (*db.NotificationRecord, error)
}

// Releaser runs the scheduled-publication release sweep.
type Releaser struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewReleaser creates a releaser.
func NewReleaser(store Store, notifier Notifier, logger *zap.Logger) *Releaser {
	return &Releaser{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the releaser's clock.
func (r *Releaser) WithClock(now func() time.Time) *Releaser {
	r.now = now
	return r
}

// RunReleaseSweep releases every due publication. A failure on one publication
// is logged and does not keep the others from releasing.
func (r *Releaser) RunReleaseSweep(ctx context.Context) {
	start := r.now()

	due, err := r.store.ListDuePublications(ctx, start)
	if err != nil {
		r.logger.Error("publication sweep aborted, cannot list due publications", zap.Error(err))
		return
	}

	for _, pub := range due {
		if err := r.release(ctx, pub); err != nil {
			metrics.RecordSweepItemFailure("publication")
			r.logger.Error("publication release failed",
				zap.String("publication_id", pub.ID.String()),
				zap.Error(err),
			)
		}
	}

	metrics.RecordSweep("publication", r.now().Sub(start))
	if len(due) > 0 {
		r.logger.Info("publication release sweep complete", zap.Int("released", len(due)))
	}
}

// release dispatches one publication to its resolved recipients, best-effort,
// then marks it notified exactly once. notifications_sent means "dispatch
// attempted": it flips regardless of individual delivery outcomes.
func (r *Releaser) release(ctx context.Context, pub *db.Publication) error {
	recipients, err := r.resolveRecipients(ctx, pub.ID)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recipientConcurrency)

	for _, residentID := range recipients {
		residentID := residentID
		g.Go(func() error {
			_, err := r.notifier.Send(gctx, dispatch.SendInput{
				UserID:  residentID,
				Channel: db.ChannelPush,
				Title:   pub.Title,
				Body:    pub.Body,
				Payload: map[string]string{"publication_id": pub.ID.String()},
			})
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				r.logger.Warn("publication notification failed for recipient",
					zap.String("publication_id", pub.ID.String()),
					zap.String("resident_id", residentID.String()),
					zap.Error(err),
				)
			}
			// Always nil: one recipient's failure must not cancel the rest.
			return nil
		})
	}
	_ = g.Wait()

	marked, err := r.store.MarkPublicationNotified(ctx, pub.ID)
	if err != nil {
		return err
	}

	r.logger.Info("publication released",
		zap.String("publication_id", pub.ID.String()),
		zap.Int("recipients", len(recipients)),
		zap.Int("failed", len(failures)),
		zap.Bool("marked", marked),
	)

	return nil
}

// resolveRecipients unions the publication's targets (all residents, targeted
// streets, targeted addresses) and dedups by resident identity.
func (r *Releaser) resolveRecipients(ctx context.Context, publicationID uuid.UUID) ([]uuid.UUID, error) {
	targets, err := r.store.ListPublicationTargets(ctx, publicationID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{})
	var recipients []uuid.UUID

	add := func(ids []uuid.UUID) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			recipients = append(recipients, id)
		}
	}

	for _, target := range targets {
		switch target.Kind {
		case db.TargetAll:
			ids, err := r.store.ListAllActiveResidentIDs(ctx)
			if err != nil {
				return nil, err
			}
			add(ids)
		case db.TargetStreet:
			if target.StreetID == nil {
				r.logger.Warn("street target without street id skipped",
					zap.String("target_id", target.ID.String()),
				)
				continue
			}
			ids, err := r.store.ListResidentIDsByStreet(ctx, *target.StreetID)
			if err != nil {
				return nil, err
			}
			add(ids)
		case db.TargetAddress:
			if target.AddressID == nil {
				r.logger.Warn("address target without address id skipped",
					zap.String("target_id", target.ID.String()),
				)
				continue
			}
			ids, err := r.store.ListResidentIDsByAddress(ctx, *target.AddressID)
			if err != nil {
				return nil, err
			}
			add(ids)
		default:
			r.logger.Warn("unknown publication target kind skipped",
				zap.String("kind", target.Kind),
			)
		}
	}

	return recipients, nil
}
