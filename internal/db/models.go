package db

import (
	"time"

	"github.com/google/uuid"
)

// Channel constants
const (
	ChannelPush  = "push"
	ChannelInApp = "in_app"
)

// Device platform constants
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

// SuspensionReasonDelinquency is stamped on aggregates suspended by the daily sweep.
const SuspensionReasonDelinquency = "automatic delinquency (>60 days)"

// DelinquencyAggregate tracks one household's arrears and suspension state.
// IsDelinquent and DaysInArrears are derived from AmountOwed and
// FirstDelinquencyDate; every write path recomputes them (delinquency.Recompute).
type DelinquencyAggregate struct {
	ID                      uuid.UUID  `json:"id"`
	ResidentID              uuid.UUID  `json:"resident_id"`
	AmountOwed              float64    `json:"amount_owed"`
	IsDelinquent            bool       `json:"is_delinquent"`
	DaysInArrears           int        `json:"days_in_arrears"`
	FirstDelinquencyDate    *time.Time `json:"first_delinquency_date,omitempty"`
	NotificationsSent       int        `json:"notifications_sent"`
	LastNotificationDate    *time.Time `json:"last_notification_date,omitempty"`
	SuspendedForDelinquency bool       `json:"suspended_for_delinquency"`
	SuspensionDate          *time.Time `json:"suspension_date,omitempty"`
	SuspensionReason        *string    `json:"suspension_reason,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// DeviceRegistration maps a user to one push-capable device.
// One row per (user_id, device_id); logout flips Active, rows are never deleted.
type DeviceRegistration struct {
	ID                 uuid.UUID  `json:"id"`
	UserID             uuid.UUID  `json:"user_id"`
	DeviceID           string     `json:"device_id"`
	PushToken          string     `json:"push_token"`
	Platform           string     `json:"platform"`
	AppVersion         string     `json:"app_version"`
	Active             bool       `json:"active"`
	LastActivity       time.Time  `json:"last_activity"`
	LastDeliveryStatus *string    `json:"last_delivery_status,omitempty"`
	LastDeliveryAt     *time.Time `json:"last_delivery_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NotificationRecord is one logical notification attempt to one user.
// Device fan-out happens underneath it; the record is immutable once Sent is
// true or a delivery error is recorded.
type NotificationRecord struct {
	ID             uuid.UUID         `json:"id"`
	UserID         uuid.UUID         `json:"user_id"`
	Channel        string            `json:"channel"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Payload        map[string]string `json:"payload,omitempty"`
	Sent           bool              `json:"sent"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
	DeliveryError  *string           `json:"delivery_error,omitempty"`
	ActionRequired bool              `json:"action_required"`
	ActionType     *string           `json:"action_type,omitempty"`
	ActionPayload  map[string]string `json:"action_payload,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Publication is an announcement that may be scheduled for later release.
// NotificationsSent means "dispatch attempted", not "every recipient reached";
// it transitions false to true exactly once.
type Publication struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	Body              string     `json:"body"`
	Scheduled         bool       `json:"scheduled"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	NotificationsSent bool       `json:"notifications_sent"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Publication target kinds.
const (
	TargetAll     = "all"
	TargetStreet  = "street"
	TargetAddress = "address"
)

// PublicationTarget narrows a publication's audience. Recipients are resolved
// from these rows at release time, never stored.
type PublicationTarget struct {
	ID            uuid.UUID  `json:"id"`
	PublicationID uuid.UUID  `json:"publication_id"`
	Kind          string     `json:"kind"`
	StreetID      *uuid.UUID `json:"street_id,omitempty"`
	AddressID     *uuid.UUID `json:"address_id,omitempty"`
}
