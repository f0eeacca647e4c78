// Package dispatch builds and sends one logical notification to one user,
// fanning out to every active device and recording the outcome on a
// NotificationRecord.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
	"github.com/vecino-app/vecino/internal/db"
	"github.com/vecino-app/vecino/internal/metrics"
	"github.com/vecino-app/vecino/internal/push"
)

// RecordStore persists notification records and device delivery metadata.
type RecordStore interface {
	CreateNotificationRecord(ctx context.Context, rec *db.NotificationRecord) error
	MarkNotificationResult(ctx context.Context, id uuid.UUID, sent bool, sentAt *time.Time, deliveryError *string) error
	MarkDeviceDelivery(ctx context.Context, pushToken, status string, at time.Time) (bool, error)
}

// DeviceLister resolves a user's active devices for fan-out.
type DeviceLister interface {
	ListActive(ctx context.Context, userID uuid.UUID) ([]*db.DeviceRegistration, error)
}

// ReceiptDeduper remembers provider message IDs so redelivered receipts are
// reconciled at most once. Forget releases a claim when reconciliation fails,
// so the provider's redelivery is not swallowed. A nil deduper disables dedup.
type ReceiptDeduper interface {
	Seen(ctx context.Context, providerMessageID string) (bool, error)
	Forget(ctx context.Context, providerMessageID string) error
}

// Dispatcher sends notifications and reconciles provider receipts.
type Dispatcher struct {
	records  RecordStore
	devices  DeviceLister
	client   push.Client
	receipts ReceiptDeduper // nil if Redis not configured
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a dispatcher. receipts may be nil.
func New(records RecordStore, devices DeviceLister, client push.Client, receipts ReceiptDeduper, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		records:  records,
		devices:  devices,
		client:   client,
		receipts: receipts,
		logger:   logger,
		now:      time.Now,
	}
}

// SendInput describes one logical notification.
type SendInput struct {
	UserID         uuid.UUID
	Channel        string
	Title          string
	Body           string
	Payload        map[string]string
	ActionRequired bool
	ActionType     string
	ActionPayload  map[string]string
}

// DeviceResult is the outcome of one device's send within a fan-out.
type DeviceResult struct {
	DeviceID          string
	ProviderMessageID string
	Err               error
}

const errNoActiveDevices = "no active devices"

// Send persists a NotificationRecord first (so a record exists even if
// delivery fails), then fans out to the user's active devices concurrently.
// The record is marked sent when at least one device delivery succeeded; a
// single device failure never fails the whole call. A user without active
// devices is an expected outcome, recorded on the record rather than returned
// as an error.
func (d *Dispatcher) Send(ctx context.Context, in SendInput) (*db.NotificationRecord, error) {
	if in.Channel != db.ChannelPush && in.Channel != db.ChannelInApp {
		return nil, apperr.Validationf("unsupported channel: %s", in.Channel)
	}
	if in.Title == "" {
		return nil, apperr.Validationf("title is required")
	}

	rec := &db.NotificationRecord{
		ID:             uuid.New(),
		UserID:         in.UserID,
		Channel:        in.Channel,
		Title:          in.Title,
		Body:           in.Body,
		Payload:        in.Payload,
		ActionRequired: in.ActionRequired,
		ActionPayload:  in.ActionPayload,
	}
	if in.ActionType != "" {
		rec.ActionType = &in.ActionType
	}

	if err := d.records.CreateNotificationRecord(ctx, rec); err != nil {
		return nil, err
	}

	// In-app notifications are read via polling; there is nothing to deliver.
	if in.Channel == db.ChannelInApp {
		now := d.now()
		rec.Sent = true
		rec.SentAt = &now
		if err := d.records.MarkNotificationResult(ctx, rec.ID, true, &now, nil); err != nil {
			return nil, err
		}
		metrics.RecordNotificationDispatched(in.Channel, "sent")
		return rec, nil
	}

	regs, err := d.devices.ListActive(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if len(regs) == 0 {
		deliveryError := errNoActiveDevices
		rec.DeliveryError = &deliveryError
		if err := d.records.MarkNotificationResult(ctx, rec.ID, false, nil, &deliveryError); err != nil {
			return nil, err
		}
		metrics.RecordNotificationDispatched(in.Channel, "no_devices")
		d.logger.Info("notification not delivered, user has no active devices",
			zap.String("notification_id", rec.ID.String()),
			zap.String("user_id", in.UserID.String()),
		)
		return rec, nil
	}

	results := d.fanOut(ctx, regs, in)

	succeeded := 0
	var firstErr error
	for _, res := range results {
		if res.Err != nil {
			metrics.RecordPushDelivery("error")
			if firstErr == nil {
				firstErr = res.Err
			}
			d.logger.Warn("device push failed",
				zap.String("notification_id", rec.ID.String()),
				zap.String("device_id", res.DeviceID),
				zap.Error(res.Err),
			)
			continue
		}
		metrics.RecordPushDelivery("ok")
		succeeded++
	}

	now := d.now()
	if succeeded > 0 {
		rec.Sent = true
		rec.SentAt = &now
		if err := d.records.MarkNotificationResult(ctx, rec.ID, true, &now, nil); err != nil {
			return nil, err
		}
		metrics.RecordNotificationDispatched(in.Channel, "sent")
	} else {
		deliveryError := firstErr.Error()
		rec.DeliveryError = &deliveryError
		if err := d.records.MarkNotificationResult(ctx, rec.ID, false, nil, &deliveryError); err != nil {
			return nil, err
		}
		metrics.RecordNotificationDispatched(in.Channel, "failed")
	}

	d.logger.Info("notification dispatched",
		zap.String("notification_id", rec.ID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.Int("devices", len(regs)),
		zap.Int("succeeded", succeeded),
		zap.Bool("sent", rec.Sent),
	)

	return rec, nil
}

// fanOut sends to every device concurrently and collects one result per
// device. Failures are captured, never short-circuited.
func (d *Dispatcher) fanOut(ctx context.Context, regs []*db.DeviceRegistration, in SendInput) []DeviceResult {
	results := make([]DeviceResult, len(regs))

	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg *db.DeviceRegistration) {
			defer wg.Done()

			res, err := d.client.Send(ctx, reg.PushToken, in.Title, in.Body, in.Payload)
			if err != nil {
				results[i] = DeviceResult{DeviceID: reg.DeviceID, Err: err}
				return
			}
			results[i] = DeviceResult{DeviceID: reg.DeviceID, ProviderMessageID: res.ProviderMessageID}
		}(i, reg)
	}
	wg.Wait()

	return results
}

// Receipt is an asynchronous provider acknowledgement for a prior send.
type Receipt struct {
	ProviderMessageID string    `json:"message_id"`
	Token             string    `json:"token"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

// HandleDeliveryReceipt reconciles one provider receipt against device-level
// delivery metadata. Unknown tokens and redelivered receipts are tolerated
// silently; the provider may redeliver at any time.
func (d *Dispatcher) HandleDeliveryReceipt(ctx context.Context, receipt Receipt) error {
	if receipt.Token == "" {
		d.logger.Debug("delivery receipt without token ignored")
		return nil
	}

	claimed := false
	if d.receipts != nil && receipt.ProviderMessageID != "" {
		seen, err := d.receipts.Seen(ctx, receipt.ProviderMessageID)
		if err != nil {
			// Dedup is best-effort; reconcile anyway.
			d.logger.Warn("receipt dedup check failed", zap.Error(err))
		} else if seen {
			metrics.RecordReceiptDuplicate()
			d.logger.Debug("duplicate delivery receipt ignored",
				zap.String("message_id", receipt.ProviderMessageID),
			)
			return nil
		} else {
			claimed = true
		}
	}

	at := receipt.Timestamp
	if at.IsZero() {
		at = d.now()
	}

	matched, err := d.records.MarkDeviceDelivery(ctx, receipt.Token, receipt.Status, at)
	if err != nil {
		// A transient reconciliation failure must not eat the provider's
		// redelivery of this receipt; release the claim before returning.
		if claimed {
			if forgetErr := d.receipts.Forget(ctx, receipt.ProviderMessageID); forgetErr != nil {
				d.logger.Warn("receipt dedup release failed",
					zap.String("message_id", receipt.ProviderMessageID),
					zap.Error(forgetErr),
				)
			}
		}
		return err
	}
	if !matched {
		d.logger.Debug("delivery receipt for unknown token ignored",
			zap.String("message_id", receipt.ProviderMessageID),
		)
		return nil
	}

	metrics.RecordReceiptReconciled(receipt.Status)
	return nil
}
