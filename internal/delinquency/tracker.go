// Package delinquency maintains one aggregate per household describing
// arrears, aging, and suspension state, and decides which reminder (if any)
// to emit on each evaluation pass.
package delinquency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
	"github.com/vecino-app/vecino/internal/db"
	"github.com/vecino-app/vecino/internal/dispatch"
	"github.com/vecino-app/vecino/internal/metrics"
)

// suspensionThresholdDays is the arrears age at which the sweep suspends.
const suspensionThresholdDays = 60

// Store is the persistence surface the tracker needs. SaveAggregate is the
// billing path's full write; the sweep persists through the narrow updates so
// its list-time snapshot can never overwrite a balance a concurrent billing
// write just committed.
type Store interface {
	GetAggregateByResident(ctx context.Context, residentID uuid.UUID) (*db.DelinquencyAggregate, error)
	CreateAggregate(ctx context.Context, agg *db.DelinquencyAggregate) error
	SaveAggregate(ctx context.Context, agg *db.DelinquencyAggregate) error
	ListDelinquentAggregates(ctx context.Context) ([]*db.DelinquencyAggregate, error)
	AgeAggregate(ctx context.Context, id uuid.UUID, daysInArrears int) (bool, error)
	RecordReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkAggregateSuspended(ctx context.Context, id uuid.UUID, at time.Time, reason string) (bool, error)
}

// Notifier sends one logical notification to one user.
type Notifier interface {
	Send(ctx context.Context, in dispatch.SendInput) (*db.NotificationRecord, error)
}

// AccountSuspender is the resident-management collaborator that blocks the
// account itself. Best-effort: a failure is logged, never reverted.
type AccountSuspender interface {
	SuspendAccount(ctx context.Context, userID uuid.UUID) error
}

// Recompute rederives every derived field of agg from its current balance at
// the given instant. It is called on every write path (billing mutations and
// the daily aging pass) so derived state never survives from a stale snapshot.
//
//	amount == 0: not delinquent, arrears reset, suspension flag cleared
//	amount  > 0: delinquent; first delinquency date set once; days floored at 1
func Recompute(agg *db.DelinquencyAggregate, now time.Time) {
	if agg.AmountOwed <= 0 {
		agg.AmountOwed = 0
		agg.IsDelinquent = false
		agg.DaysInArrears = 0
		agg.FirstDelinquencyDate = nil
		agg.SuspendedForDelinquency = false
		agg.SuspensionDate = nil
		agg.SuspensionReason = nil
		return
	}

	agg.IsDelinquent = true

	if agg.FirstDelinquencyDate == nil {
		first := now
		agg.FirstDelinquencyDate = &first
		agg.DaysInArrears = 1
		return
	}

	days := int(now.Sub(*agg.FirstDelinquencyDate).Hours() / 24)
	if days < 1 {
		days = 1
	}
	agg.DaysInArrears = days
}

// Tracker owns the per-household delinquency state machine.
type Tracker struct {
	store    Store
	notifier Notifier
	accounts AccountSuspender
	logger   *zap.Logger
	now      func() time.Time
}

// NewTracker creates a tracker. The clock is swappable for tests via WithClock.
func NewTracker(store Store, notifier Notifier, accounts AccountSuspender, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the tracker's clock.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// ApplyBalance is the billing-driven mutation path. It sets the household's
// balance, recomputes derived state, and persists. The aggregate is created
// lazily the first time a household accrues a charge.
func (t *Tracker) ApplyBalance(ctx context.Context, residentID uuid.UUID, amount float64) (*db.DelinquencyAggregate, error) {
	if amount < 0 {
		return nil, apperr.Validationf("amount owed cannot be negative")
	}

	now := t.now()

	agg, err := t.store.GetAggregateByResident(ctx, residentID)
	if apperr.IsNotFound(err) {
		if amount == 0 {
			return nil, err
		}
		agg = &db.DelinquencyAggregate{
			ID:         uuid.New(),
			ResidentID: residentID,
			AmountOwed: amount,
		}
		Recompute(agg, now)
		if err := t.store.CreateAggregate(ctx, agg); err != nil {
			return nil, err
		}
		return agg, nil
	}
	if err != nil {
		return nil, err
	}

	wasSuspended := agg.SuspendedForDelinquency
	agg.AmountOwed = amount
	Recompute(agg, now)

	if err := t.store.SaveAggregate(ctx, agg); err != nil {
		return nil, err
	}

	if wasSuspended && !agg.SuspendedForDelinquency {
		t.logger.Info("delinquency suspension cleared, balance settled",
			zap.String("resident_id", residentID.String()),
		)
	}

	return agg, nil
}

// SweepStats summarizes one daily sweep.
type SweepStats struct {
	Processed   int
	Reminders   int
	Suspensions int
	Failures    int
}

// RunDailySweep ages every delinquent aggregate, emits threshold reminders,
// and suspends households past the 60-day mark. Aggregates are processed
// sequentially; a failure on one is logged with its identifiers and never
// aborts the rest of the sweep.
func (t *Tracker) RunDailySweep(ctx context.Context) SweepStats {
	start := t.now()
	var stats SweepStats

	aggregates, err := t.store.ListDelinquentAggregates(ctx)
	if err != nil {
		t.logger.Error("delinquency sweep aborted, cannot list aggregates", zap.Error(err))
		stats.Failures++
		return stats
	}

	for _, agg := range aggregates {
		stats.Processed++

		outcome, err := t.evaluateAggregate(ctx, agg)
		if err != nil {
			stats.Failures++
			metrics.RecordSweepItemFailure("delinquency")
			t.logger.Error("delinquency evaluation failed",
				zap.String("aggregate_id", agg.ID.String()),
				zap.String("resident_id", agg.ResidentID.String()),
				zap.Error(err),
			)
			continue
		}

		switch outcome {
		case outcomeReminder:
			stats.Reminders++
		case outcomeSuspended:
			stats.Suspensions++
		}
	}

	metrics.RecordSweep("delinquency", t.now().Sub(start))
	t.logger.Info("delinquency sweep complete",
		zap.Int("processed", stats.Processed),
		zap.Int("reminders", stats.Reminders),
		zap.Int("suspensions", stats.Suspensions),
		zap.Int("failures", stats.Failures),
	)

	return stats
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeReminder
	outcomeSuspended
)

func (t *Tracker) evaluateAggregate(ctx context.Context, agg *db.DelinquencyAggregate) (outcome, error) {
	now := t.now()
	Recompute(agg, now)

	if !agg.IsDelinquent {
		// Balance was settled between listing and evaluation; the billing
		// write already persisted the reset, nothing to save here.
		return outcomeNone, nil
	}

	// The aging write derives is_delinquent from the balance stored in the
	// row, so a settlement committing after the list read is never reverted
	// by this snapshot.
	delinquent, err := t.store.AgeAggregate(ctx, agg.ID, agg.DaysInArrears)
	if err != nil {
		return outcomeNone, err
	}
	if !delinquent {
		// Settled underneath us; the billing write wins and there is
		// nothing to remind or suspend.
		return outcomeNone, nil
	}

	if agg.DaysInArrears >= suspensionThresholdDays {
		if agg.SuspendedForDelinquency {
			// Already suspended; aging was all there was to do.
			return outcomeNone, nil
		}
		return t.suspend(ctx, agg, now)
	}

	title, body, threshold, due := reminderFor(agg.DaysInArrears)
	if !due {
		return outcomeNone, nil
	}

	// At most one reminder per aggregate per calendar day. Date components,
	// not elapsed time: a sweep re-run at 23:59 and 00:01 are different days.
	if agg.LastNotificationDate != nil && sameCalendarDay(*agg.LastNotificationDate, now) {
		return outcomeNone, nil
	}

	_, err = t.notifier.Send(ctx, dispatch.SendInput{
		UserID:         agg.ResidentID,
		Channel:        db.ChannelPush,
		Title:          title,
		Body:           body,
		Payload:        map[string]string{"days_in_arrears": fmt.Sprintf("%d", agg.DaysInArrears)},
		ActionRequired: true,
		ActionType:     "settle_balance",
	})
	if err != nil {
		// The threshold condition still holds tomorrow; no retry here.
		return outcomeNone, err
	}

	agg.NotificationsSent++
	notifiedAt := now
	agg.LastNotificationDate = &notifiedAt

	if err := t.store.RecordReminderSent(ctx, agg.ID, now); err != nil {
		return outcomeNone, err
	}

	metrics.RecordReminderEmitted(threshold)
	t.logger.Info("delinquency reminder emitted",
		zap.String("resident_id", agg.ResidentID.String()),
		zap.Int("days_in_arrears", agg.DaysInArrears),
		zap.String("threshold", threshold),
	)

	return outcomeReminder, nil
}

func (t *Tracker) suspend(ctx context.Context, agg *db.DelinquencyAggregate, now time.Time) (outcome, error) {
	reason := db.SuspensionReasonDelinquency

	// The conditional update is the race arbiter: it lands only while the
	// stored balance is still positive and the flag is still clear, so a
	// settlement that beat us here wins and no suspension happens.
	suspended, err := t.store.MarkAggregateSuspended(ctx, agg.ID, now, reason)
	if err != nil {
		return outcomeNone, err
	}
	if !suspended {
		return outcomeNone, nil
	}

	agg.SuspendedForDelinquency = true
	suspendedAt := now
	agg.SuspensionDate = &suspendedAt
	agg.SuspensionReason = &reason

	// Best-effort: the aggregate's flag is authoritative even when resident
	// management cannot be reached.
	if err := t.accounts.SuspendAccount(ctx, agg.ResidentID); err != nil {
		t.logger.Error("account suspension collaborator failed",
			zap.String("resident_id", agg.ResidentID.String()),
			zap.Error(apperr.Integrationf(err, "suspend account")),
		)
	}

	if _, err := t.notifier.Send(ctx, dispatch.SendInput{
		UserID:  agg.ResidentID,
		Channel: db.ChannelPush,
		Title:   "Account suspended",
		Body:    fmt.Sprintf("Your account was suspended after %d days in arrears. Settle your balance to restore access.", agg.DaysInArrears),
		Payload: map[string]string{
			"days_in_arrears": fmt.Sprintf("%d", agg.DaysInArrears),
			"reason":          reason,
		},
		ActionRequired: true,
		ActionType:     "settle_balance",
	}); err != nil {
		t.logger.Error("suspension notification failed",
			zap.String("resident_id", agg.ResidentID.String()),
			zap.Error(err),
		)
	}

	metrics.RecordSuspension()
	t.logger.Warn("household suspended for delinquency",
		zap.String("resident_id", agg.ResidentID.String()),
		zap.Int("days_in_arrears", agg.DaysInArrears),
	)

	return outcomeSuspended, nil
}

// reminderFor maps arrears age to the reminder to emit. Ages of 60 and beyond
// are the suspension transition's business, never a reminder.
func reminderFor(days int) (title, body, threshold string, due bool) {
	switch {
	case days == 30:
		return "Payment overdue", "30 days in arrears, 30 more before suspension", "30", true
	case days == 45:
		return "Payment overdue", "15 days remaining before suspension", "45", true
	case days >= 55 && days <= 59:
		return "Suspension imminent", fmt.Sprintf("%d days remaining before suspension", suspensionThresholdDays-days), "55-59", true
	default:
		return "", "", "", false
	}
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
