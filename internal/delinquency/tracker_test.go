package delinquency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
	"github.com/vecino-app/vecino/internal/db"
	"github.com/vecino-app/vecino/internal/dispatch"
)

// MockStore is a fake aggregate store for testing. onList, when set, runs
// after the sweep snapshots its worklist; tests use it to interleave a
// concurrent billing write.
type MockStore struct {
	aggregates map[uuid.UUID]*db.DelinquencyAggregate
	saveErrFor map[uuid.UUID]error
	saveCalls  int
	onList     func()
}

func NewMockStore() *MockStore {
	return &MockStore{
		aggregates: make(map[uuid.UUID]*db.DelinquencyAggregate),
		saveErrFor: make(map[uuid.UUID]error),
	}
}

func (m *MockStore) GetAggregateByResident(ctx context.Context, residentID uuid.UUID) (*db.DelinquencyAggregate, error) {
	agg, ok := m.aggregates[residentID]
	if !ok {
		return nil, apperr.NotFoundf("delinquency aggregate not found")
	}
	cp := *agg
	return &cp, nil
}

func (m *MockStore) CreateAggregate(ctx context.Context, agg *db.DelinquencyAggregate) error {
	cp := *agg
	m.aggregates[agg.ResidentID] = &cp
	return nil
}

func (m *MockStore) SaveAggregate(ctx context.Context, agg *db.DelinquencyAggregate) error {
	m.saveCalls++
	if err, ok := m.saveErrFor[agg.ResidentID]; ok {
		return err
	}
	if _, ok := m.aggregates[agg.ResidentID]; !ok {
		return apperr.NotFoundf("delinquency aggregate not found")
	}
	cp := *agg
	m.aggregates[agg.ResidentID] = &cp
	return nil
}

func (m *MockStore) ListDelinquentAggregates(ctx context.Context) ([]*db.DelinquencyAggregate, error) {
	var out []*db.DelinquencyAggregate
	for _, agg := range m.aggregates {
		if agg.IsDelinquent && agg.AmountOwed > 0 {
			cp := *agg
			out = append(out, &cp)
		}
	}
	if m.onList != nil {
		m.onList()
	}
	return out, nil
}

func (m *MockStore) byID(id uuid.UUID) *db.DelinquencyAggregate {
	for _, agg := range m.aggregates {
		if agg.ID == id {
			return agg
		}
	}
	return nil
}

func (m *MockStore) AgeAggregate(ctx context.Context, id uuid.UUID, daysInArrears int) (bool, error) {
	agg := m.byID(id)
	if agg == nil {
		return false, apperr.NotFoundf("delinquency aggregate not found")
	}
	if err, ok := m.saveErrFor[agg.ResidentID]; ok {
		return false, err
	}
	if agg.AmountOwed > 0 {
		agg.IsDelinquent = true
		agg.DaysInArrears = daysInArrears
	} else {
		agg.IsDelinquent = false
		agg.DaysInArrears = 0
	}
	return agg.IsDelinquent, nil
}

func (m *MockStore) RecordReminderSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	agg := m.byID(id)
	if agg == nil {
		return apperr.NotFoundf("delinquency aggregate not found")
	}
	agg.NotificationsSent++
	stamp := at
	agg.LastNotificationDate = &stamp
	return nil
}

func (m *MockStore) MarkAggregateSuspended(ctx context.Context, id uuid.UUID, at time.Time, reason string) (bool, error) {
	agg := m.byID(id)
	if agg == nil || agg.AmountOwed <= 0 || agg.SuspendedForDelinquency {
		return false, nil
	}
	agg.SuspendedForDelinquency = true
	stamp := at
	agg.SuspensionDate = &stamp
	r := reason
	agg.SuspensionReason = &r
	return true, nil
}

// MockNotifier records every send for assertions
type MockNotifier struct {
	sends   []dispatch.SendInput
	sendErr error
}

func (m *MockNotifier) Send(ctx context.Context, in dispatch.SendInput) (*db.NotificationRecord, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sends = append(m.sends, in)
	return &db.NotificationRecord{ID: uuid.New(), UserID: in.UserID, Sent: true}, nil
}

// MockSuspender records suspension calls
type MockSuspender struct {
	suspended []uuid.UUID
	err       error
}

func (m *MockSuspender) SuspendAccount(ctx context.Context, userID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.suspended = append(m.suspended, userID)
	return nil
}

func newTestTracker(store *MockStore, notifier *MockNotifier, suspender *MockSuspender, now time.Time) *Tracker {
	return NewTracker(store, notifier, suspender, zap.NewNop()).WithClock(func() time.Time { return now })
}

func daysAgo(now time.Time, days int) *time.Time {
	t := now.Add(-time.Duration(days) * 24 * time.Hour)
	return &t
}

func TestRecompute(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		agg           db.DelinquencyAggregate
		wantDelq      bool
		wantDays      int
		wantSuspended bool
	}{
		{
			name:     "fresh_debt_starts_at_one_day",
			agg:      db.DelinquencyAggregate{AmountOwed: 50},
			wantDelq: true,
			wantDays: 1,
		},
		{
			name: "days_floor_at_one",
			agg: db.DelinquencyAggregate{
				AmountOwed:           50,
				FirstDelinquencyDate: daysAgo(now, 0),
			},
			wantDelq: true,
			wantDays: 1,
		},
		{
			name: "ages_by_whole_days",
			agg: db.DelinquencyAggregate{
				AmountOwed:           120.50,
				FirstDelinquencyDate: daysAgo(now, 31),
			},
			wantDelq: true,
			wantDays: 31,
		},
		{
			name: "partial_day_truncates",
			agg: db.DelinquencyAggregate{
				AmountOwed:           10,
				FirstDelinquencyDate: func() *time.Time { v := now.Add(-36 * time.Hour); return &v }(),
			},
			wantDelq: true,
			wantDays: 1,
		},
		{
			name: "zero_balance_resets_everything",
			agg: db.DelinquencyAggregate{
				AmountOwed:              0,
				IsDelinquent:            true,
				DaysInArrears:           70,
				FirstDelinquencyDate:    daysAgo(now, 70),
				SuspendedForDelinquency: true,
				SuspensionDate:          daysAgo(now, 10),
			},
			wantDelq:      false,
			wantDays:      0,
			wantSuspended: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := tt.agg
			Recompute(&agg, now)

			if agg.IsDelinquent != tt.wantDelq {
				t.Errorf("IsDelinquent = %v, want %v", agg.IsDelinquent, tt.wantDelq)
			}
			if agg.DaysInArrears != tt.wantDays {
				t.Errorf("DaysInArrears = %d, want %d", agg.DaysInArrears, tt.wantDays)
			}
			if agg.SuspendedForDelinquency != tt.wantSuspended {
				t.Errorf("SuspendedForDelinquency = %v, want %v", agg.SuspendedForDelinquency, tt.wantSuspended)
			}
			if agg.IsDelinquent && agg.FirstDelinquencyDate == nil {
				t.Error("delinquent aggregate must have a first delinquency date")
			}
			if !agg.IsDelinquent && agg.FirstDelinquencyDate != nil {
				t.Error("settled aggregate must not keep a first delinquency date")
			}
		})
	}
}

func TestApplyBalanceCreatesAggregateLazily(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	store := NewMockStore()
	tracker := newTestTracker(store, &MockNotifier{}, &MockSuspender{}, now)

	residentID := uuid.New()
	agg, err := tracker.ApplyBalance(context.Background(), residentID, 75.25)
	if err != nil {
		t.Fatalf("ApplyBalance failed: %v", err)
	}

	if !agg.IsDelinquent {
		t.Error("expected new aggregate to be delinquent")
	}
	if agg.DaysInArrears != 1 {
		t.Errorf("DaysInArrears = %d, want 1", agg.DaysInArrears)
	}
	if _, ok := store.aggregates[residentID]; !ok {
		t.Error("aggregate was not persisted")
	}
}

func TestApplyBalanceRejectsNegative(t *testing.T) {
	tracker := newTestTracker(NewMockStore(), &MockNotifier{}, &MockSuspender{}, time.Now())

	_, err := tracker.ApplyBalance(context.Background(), uuid.New(), -5)
	if !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestApplyBalanceZeroForUnknownResident(t *testing.T) {
	tracker := newTestTracker(NewMockStore(), &MockNotifier{}, &MockSuspender{}, time.Now())

	_, err := tracker.ApplyBalance(context.Background(), uuid.New(), 0)
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestApplyBalanceSettlementClearsSuspension(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	reason := db.SuspensionReasonDelinquency
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                      uuid.New(),
		ResidentID:              residentID,
		AmountOwed:              300,
		IsDelinquent:            true,
		DaysInArrears:           65,
		FirstDelinquencyDate:    daysAgo(now, 65),
		SuspendedForDelinquency: true,
		SuspensionDate:          daysAgo(now, 5),
		SuspensionReason:        &reason,
		NotificationsSent:       4,
	}

	tracker := newTestTracker(store, &MockNotifier{}, &MockSuspender{}, now)

	agg, err := tracker.ApplyBalance(context.Background(), residentID, 0)
	if err != nil {
		t.Fatalf("ApplyBalance failed: %v", err)
	}

	if agg.IsDelinquent || agg.SuspendedForDelinquency {
		t.Error("settlement must clear delinquency and suspension")
	}
	if agg.DaysInArrears != 0 || agg.FirstDelinquencyDate != nil {
		t.Error("settlement must reset arrears aging")
	}
	if agg.SuspensionDate != nil || agg.SuspensionReason != nil {
		t.Error("settlement must clear suspension metadata")
	}
}

func TestSweepEmitsReminderAtExactThresholds(t *testing.T) {
	tests := []struct {
		name          string
		days          int
		wantReminders int
		wantBody      string
	}{
		{"day_29_silent", 29, 0, ""},
		{"day_30_reminder", 30, 1, "30 days in arrears, 30 more before suspension"},
		{"day_31_silent", 31, 0, ""},
		{"day_44_silent", 44, 0, ""},
		{"day_45_reminder", 45, 1, "15 days remaining before suspension"},
		{"day_46_silent", 46, 0, ""},
		{"day_54_silent", 54, 0, ""},
		{"day_55_reminder", 55, 1, "5 days remaining before suspension"},
		{"day_57_reminder", 57, 1, "3 days remaining before suspension"},
		{"day_59_reminder", 59, 1, "1 days remaining before suspension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
			store := NewMockStore()
			residentID := uuid.New()
			store.aggregates[residentID] = &db.DelinquencyAggregate{
				ID:                   uuid.New(),
				ResidentID:           residentID,
				AmountOwed:           100,
				IsDelinquent:         true,
				FirstDelinquencyDate: daysAgo(now, tt.days),
			}

			notifier := &MockNotifier{}
			suspender := &MockSuspender{}
			tracker := newTestTracker(store, notifier, suspender, now)

			stats := tracker.RunDailySweep(context.Background())

			if stats.Reminders != tt.wantReminders {
				t.Errorf("Reminders = %d, want %d", stats.Reminders, tt.wantReminders)
			}
			if len(notifier.sends) != tt.wantReminders {
				t.Fatalf("got %d notifications, want %d", len(notifier.sends), tt.wantReminders)
			}
			if tt.wantReminders == 1 && notifier.sends[0].Body != tt.wantBody {
				t.Errorf("body = %q, want %q", notifier.sends[0].Body, tt.wantBody)
			}
			if stats.Suspensions != 0 {
				t.Errorf("Suspensions = %d, want 0", stats.Suspensions)
			}
			if len(suspender.suspended) != 0 {
				t.Error("no account should be suspended below 60 days")
			}
		})
	}
}

func TestSweepNeverSuspendsBelowSixtyDays(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           100,
		IsDelinquent:         true,
		FirstDelinquencyDate: daysAgo(now, 59),
	}

	suspender := &MockSuspender{}
	tracker := newTestTracker(store, &MockNotifier{}, suspender, now)

	tracker.RunDailySweep(context.Background())

	saved := store.aggregates[residentID]
	if saved.SuspendedForDelinquency {
		t.Error("59 days in arrears must not suspend")
	}
	if len(suspender.suspended) != 0 {
		t.Error("account suspender must not be called below the threshold")
	}
}

func TestSweepSuspendsAtSixtyDays(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           250,
		IsDelinquent:         true,
		FirstDelinquencyDate: daysAgo(now, 60),
	}

	notifier := &MockNotifier{}
	suspender := &MockSuspender{}
	tracker := newTestTracker(store, notifier, suspender, now)

	stats := tracker.RunDailySweep(context.Background())

	if stats.Suspensions != 1 {
		t.Fatalf("Suspensions = %d, want 1", stats.Suspensions)
	}

	saved := store.aggregates[residentID]
	if !saved.SuspendedForDelinquency {
		t.Error("aggregate must carry the suspension flag")
	}
	if saved.SuspensionDate == nil {
		t.Error("suspension date must be set")
	}
	if saved.SuspensionReason == nil || *saved.SuspensionReason != db.SuspensionReasonDelinquency {
		t.Errorf("suspension reason = %v, want %q", saved.SuspensionReason, db.SuspensionReasonDelinquency)
	}
	if len(suspender.suspended) != 1 || suspender.suspended[0] != residentID {
		t.Errorf("account suspender calls = %v, want [%s]", suspender.suspended, residentID)
	}
	if len(notifier.sends) != 1 || notifier.sends[0].Title != "Account suspended" {
		t.Errorf("expected one suspension notification, got %v", notifier.sends)
	}
}

func TestSweepSuspendsOnlyOnce(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           250,
		IsDelinquent:         true,
		FirstDelinquencyDate: daysAgo(now, 60),
	}

	suspender := &MockSuspender{}
	tracker := newTestTracker(store, &MockNotifier{}, suspender, now)

	first := tracker.RunDailySweep(context.Background())
	if first.Suspensions != 1 {
		t.Fatalf("first sweep Suspensions = %d, want 1", first.Suspensions)
	}

	// Next day the household is still suspended; the sweep only ages it.
	nextDay := now.Add(24 * time.Hour)
	tracker.WithClock(func() time.Time { return nextDay })

	second := tracker.RunDailySweep(context.Background())
	if second.Suspensions != 0 {
		t.Errorf("second sweep Suspensions = %d, want 0", second.Suspensions)
	}
	if len(suspender.suspended) != 1 {
		t.Errorf("account suspender called %d times, want 1", len(suspender.suspended))
	}
	if store.aggregates[residentID].DaysInArrears != 61 {
		t.Errorf("DaysInArrears = %d, want 61", store.aggregates[residentID].DaysInArrears)
	}
}

func TestSweepSuspendsEvenWhenAccountsCollaboratorFails(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           250,
		IsDelinquent:         true,
		FirstDelinquencyDate: daysAgo(now, 62),
	}

	suspender := &MockSuspender{err: errors.New("resident management down")}
	tracker := newTestTracker(store, &MockNotifier{}, suspender, now)

	stats := tracker.RunDailySweep(context.Background())

	if stats.Suspensions != 1 {
		t.Errorf("Suspensions = %d, want 1", stats.Suspensions)
	}
	if !store.aggregates[residentID].SuspendedForDelinquency {
		t.Error("the aggregate flag is authoritative and must be set regardless")
	}
}

func TestSweepDeduplicatesWithinCalendarDay(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           100,
		IsDelinquent:         true,
		FirstDelinquencyDate: daysAgo(now, 45),
	}

	notifier := &MockNotifier{}
	tracker := newTestTracker(store, notifier, &MockSuspender{}, now)

	tracker.RunDailySweep(context.Background())

	// Re-run later the same day. Same calendar date, no second reminder.
	tracker.WithClock(func() time.Time { return now.Add(10 * time.Hour) })
	stats := tracker.RunDailySweep(context.Background())

	if stats.Reminders != 0 {
		t.Errorf("same-day re-run Reminders = %d, want 0", stats.Reminders)
	}
	if len(notifier.sends) != 1 {
		t.Errorf("got %d notifications across both runs, want 1", len(notifier.sends))
	}
	if store.aggregates[residentID].NotificationsSent != 1 {
		t.Errorf("NotificationsSent = %d, want 1", store.aggregates[residentID].NotificationsSent)
	}
}

func TestSweepDedupUsesDateComponents(t *testing.T) {
	// A reminder at 23:59 and a re-run at 00:01 are different calendar days
	// even though only two minutes elapsed.
	lateNight := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           100,
		IsDelinquent:         true,
		FirstDelinquencyDate: daysAgo(lateNight, 55),
	}

	notifier := &MockNotifier{}
	tracker := newTestTracker(store, notifier, &MockSuspender{}, lateNight)

	tracker.RunDailySweep(context.Background())

	tracker.WithClock(func() time.Time { return lateNight.Add(2 * time.Minute) })
	tracker.RunDailySweep(context.Background())

	if len(notifier.sends) != 2 {
		t.Errorf("got %d notifications, want 2 (midnight resets the dedup window)", len(notifier.sends))
	}
}

func TestSweepFailureIsolation(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()

	badResident := uuid.New()
	goodResident := uuid.New()
	for _, id := range []uuid.UUID{badResident, goodResident} {
		store.aggregates[id] = &db.DelinquencyAggregate{
			ID:                   uuid.New(),
			ResidentID:           id,
			AmountOwed:           100,
			IsDelinquent:         true,
			FirstDelinquencyDate: daysAgo(now, 45),
		}
	}
	store.saveErrFor[badResident] = errors.New("row lock timeout")

	notifier := &MockNotifier{}
	tracker := newTestTracker(store, notifier, &MockSuspender{}, now)

	stats := tracker.RunDailySweep(context.Background())

	if stats.Processed != 2 {
		t.Errorf("Processed = %d, want 2", stats.Processed)
	}
	if stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}
	if store.aggregates[goodResident].NotificationsSent != 1 {
		t.Error("healthy aggregate must still be processed after a failure")
	}
}

func TestSweepFortyFiveDayScenario(t *testing.T) {
	// A household accrues debt and is swept daily for 45 days. Exactly two
	// reminders land: day 30 and day 45.
	start := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	notifier := &MockNotifier{}
	tracker := newTestTracker(store, notifier, &MockSuspender{}, start)

	residentID := uuid.New()
	if _, err := tracker.ApplyBalance(context.Background(), residentID, 180); err != nil {
		t.Fatalf("ApplyBalance failed: %v", err)
	}

	for day := 1; day <= 45; day++ {
		current := start.Add(time.Duration(day) * 24 * time.Hour)
		tracker.WithClock(func() time.Time { return current })
		tracker.RunDailySweep(context.Background())
	}

	if len(notifier.sends) != 2 {
		t.Fatalf("got %d reminders over 45 days, want 2", len(notifier.sends))
	}
	if notifier.sends[0].Payload["days_in_arrears"] != "30" {
		t.Errorf("first reminder at %s days, want 30", notifier.sends[0].Payload["days_in_arrears"])
	}
	if notifier.sends[1].Payload["days_in_arrears"] != "45" {
		t.Errorf("second reminder at %s days, want 45", notifier.sends[1].Payload["days_in_arrears"])
	}
	if store.aggregates[residentID].SuspendedForDelinquency {
		t.Error("household must not be suspended at 45 days")
	}
}

func TestSweepDoesNotRevertConcurrentSettlement(t *testing.T) {
	// A payment landing after the sweep reads its worklist must win: the
	// sweep's snapshot of the old balance is never written back, and the
	// settled household gets no reminder.
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           100,
		IsDelinquent:         true,
		FirstDelinquencyDate: daysAgo(now, 45),
	}

	notifier := &MockNotifier{}
	tracker := newTestTracker(store, notifier, &MockSuspender{}, now)

	store.onList = func() {
		if _, err := tracker.ApplyBalance(context.Background(), residentID, 0); err != nil {
			t.Fatalf("settlement failed: %v", err)
		}
	}

	tracker.RunDailySweep(context.Background())

	saved := store.aggregates[residentID]
	if saved.AmountOwed != 0 {
		t.Errorf("AmountOwed = %v, want 0 (settlement must survive the sweep)", saved.AmountOwed)
	}
	if saved.IsDelinquent {
		t.Error("settled household must stay non-delinquent after the sweep")
	}
	if saved.DaysInArrears != 0 {
		t.Errorf("DaysInArrears = %d, want 0", saved.DaysInArrears)
	}
	if len(notifier.sends) != 0 {
		t.Errorf("got %d notifications, want 0 for a settled household", len(notifier.sends))
	}
}

func TestSweepDoesNotSuspendConcurrentlySettledHousehold(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           250,
		IsDelinquent:         true,
		FirstDelinquencyDate: daysAgo(now, 60),
	}

	suspender := &MockSuspender{}
	tracker := newTestTracker(store, &MockNotifier{}, suspender, now)

	store.onList = func() {
		if _, err := tracker.ApplyBalance(context.Background(), residentID, 0); err != nil {
			t.Fatalf("settlement failed: %v", err)
		}
	}

	stats := tracker.RunDailySweep(context.Background())

	if stats.Suspensions != 0 {
		t.Errorf("Suspensions = %d, want 0", stats.Suspensions)
	}
	if store.aggregates[residentID].SuspendedForDelinquency {
		t.Error("household that paid before the suspension write must not be suspended")
	}
	if len(suspender.suspended) != 0 {
		t.Error("account suspender must not be called for a settled household")
	}
}

func TestSweepSendFailureStillAgesAggregate(t *testing.T) {
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	store := NewMockStore()
	residentID := uuid.New()
	store.aggregates[residentID] = &db.DelinquencyAggregate{
		ID:                   uuid.New(),
		ResidentID:           residentID,
		AmountOwed:           100,
		IsDelinquent:         true,
		DaysInArrears:        29,
		FirstDelinquencyDate: daysAgo(now, 30),
	}

	notifier := &MockNotifier{sendErr: errors.New("push provider down")}
	tracker := newTestTracker(store, notifier, &MockSuspender{}, now)

	stats := tracker.RunDailySweep(context.Background())

	if stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}

	saved := store.aggregates[residentID]
	if saved.DaysInArrears != 30 {
		t.Errorf("DaysInArrears = %d, want 30 (aging persists despite the send failure)", saved.DaysInArrears)
	}
	if saved.LastNotificationDate != nil {
		t.Error("failed send must not stamp LastNotificationDate")
	}
	if saved.NotificationsSent != 0 {
		t.Errorf("NotificationsSent = %d, want 0", saved.NotificationsSent)
	}
}
