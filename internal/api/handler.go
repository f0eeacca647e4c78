package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
	"github.com/vecino-app/vecino/internal/db"
	"github.com/vecino-app/vecino/internal/devices"
	"github.com/vecino-app/vecino/internal/dispatch"
)

// HeaderFCMSecret carries the shared secret the push provider is configured
// to send with delivery receipts.
const HeaderFCMSecret = "X-FCM-SECRET"

// DeviceRegistry is the device registration surface exposed over HTTP.
type DeviceRegistry interface {
	Register(ctx context.Context, in devices.RegisterInput) (*db.DeviceRegistration, error)
	Deactivate(ctx context.Context, userID uuid.UUID, deviceID string) (*db.DeviceRegistration, error)
	RotateToken(ctx context.Context, userID uuid.UUID, deviceID, oldToken, newToken string) (*db.DeviceRegistration, error)
}

// Dispatcher sends notifications and reconciles provider receipts.
type Dispatcher interface {
	Send(ctx context.Context, in dispatch.SendInput) (*db.NotificationRecord, error)
	HandleDeliveryReceipt(ctx context.Context, receipt dispatch.Receipt) error
}

// BalanceApplier is the billing-driven mutation surface of the delinquency
// tracker, exposed to the billing service over an internal endpoint.
type BalanceApplier interface {
	ApplyBalance(ctx context.Context, residentID uuid.UUID, amount float64) (*db.DelinquencyAggregate, error)
}

// ReadStore serves the operator-facing read-only endpoints.
type ReadStore interface {
	ListNotificationsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.NotificationRecord, error)
	GetNotificationRecord(ctx context.Context, id uuid.UUID) (*db.NotificationRecord, error)
	GetAggregateByResident(ctx context.Context, residentID uuid.UUID) (*db.DelinquencyAggregate, error)
	GetPublication(ctx context.Context, id uuid.UUID) (*db.Publication, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger     *zap.Logger
	registry   DeviceRegistry
	dispatcher Dispatcher
	tracker    BalanceApplier
	store      ReadStore
	fcmSecret  string
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, registry DeviceRegistry, dispatcher Dispatcher, tracker BalanceApplier, store ReadStore, fcmSecret string) *Handler {
	return &Handler{
		logger:     logger,
		registry:   registry,
		dispatcher: dispatcher,
		tracker:    tracker,
		store:      store,
		fcmSecret:  fcmSecret,
	}
}

type registerRequest struct {
	UserID     string `json:"user_id"`
	DeviceID   string `json:"device_id"`
	PushToken  string `json:"push_token"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
}

// RegisterDevice handles POST /v1/devices/register
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	reg, err := h.registry.Register(ctx, devices.RegisterInput{
		UserID:     userID,
		DeviceID:   req.DeviceID,
		PushToken:  req.PushToken,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
	})
	if err != nil {
		h.writeAppError(w, err, "failed to register device")
		return
	}

	h.writeJSON(w, http.StatusCreated, reg)
}

type deactivateRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// DeactivateDevice handles POST /v1/devices/deactivate
func (h *Handler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	reg, err := h.registry.Deactivate(ctx, userID, req.DeviceID)
	if err != nil {
		h.writeAppError(w, err, "failed to deactivate device")
		return
	}

	h.writeJSON(w, http.StatusOK, reg)
}

type tokenUpdateRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	OldToken string `json:"old_token"`
	NewToken string `json:"new_token"`
}

// UpdateFCMToken handles POST /v1/devices/fcm-token-update
func (h *Handler) UpdateFCMToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req tokenUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	reg, err := h.registry.RotateToken(ctx, userID, req.DeviceID, req.OldToken, req.NewToken)
	if err != nil {
		h.writeAppError(w, err, "failed to rotate token")
		return
	}

	h.writeJSON(w, http.StatusOK, reg)
}

type testPushRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// TestPush handles POST /v1/devices/test-push. It exercises the full dispatch
// path; the response reflects the resulting NotificationRecord.
func (h *Handler) TestPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req testPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	title := req.Title
	if title == "" {
		title = "Test notification"
	}
	body := req.Body
	if body == "" {
		body = "If you can read this, push delivery works."
	}

	rec, err := h.dispatcher.Send(ctx, dispatch.SendInput{
		UserID:  userID,
		Channel: db.ChannelPush,
		Title:   title,
		Body:    body,
		Payload: map[string]string{"test": "true"},
	})
	if err != nil {
		h.writeAppError(w, err, "failed to send test push")
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// FCMWebhook handles POST /device/fcm-webhook. The shared secret gates the
// endpoint; beyond that, every processing outcome answers 200 OK so the
// provider never enters a redelivery storm over our own failures.
func (h *Handler) FCMWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	secret := r.Header.Get(HeaderFCMSecret)
	if h.fcmSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.fcmSecret)) != 1 {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid webhook secret", "")
		return
	}

	var receipt dispatch.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		h.logger.Warn("malformed delivery receipt ignored", zap.Error(err))
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := h.dispatcher.HandleDeliveryReceipt(ctx, receipt); err != nil {
		h.logger.Error("delivery receipt reconciliation failed",
			zap.String("message_id", receipt.ProviderMessageID),
			zap.Error(err),
		)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListNotifications handles GET /v1/notifications?user_id=xxx&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id query parameter is required")
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	records, err := h.store.ListNotificationsByUser(ctx, userID, limit, offset)
	if err != nil {
		h.writeAppError(w, err, "failed to list notifications")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   records,
		"limit":  limit,
		"offset": offset,
		"count":  len(records),
	})
}

// GetNotification handles GET /v1/notifications/{id} — single-record lookup
// for support tooling chasing one delivery.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	rec, err := h.store.GetNotificationRecord(ctx, id)
	if err != nil {
		h.writeAppError(w, err, "failed to get notification")
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

type balanceRequest struct {
	AmountOwed float64 `json:"amount_owed"`
}

// ApplyBalance handles PUT /v1/delinquency/{residentID}/balance. The billing
// service calls this on every charge or payment; derived delinquency state is
// recomputed from the new balance.
func (h *Handler) ApplyBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	residentID, err := uuid.Parse(chi.URLParam(r, "residentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid resident ID", "ID must be a valid UUID")
		return
	}

	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	agg, err := h.tracker.ApplyBalance(ctx, residentID, req.AmountOwed)
	if err != nil {
		h.writeAppError(w, err, "failed to apply balance")
		return
	}

	h.writeJSON(w, http.StatusOK, agg)
}

// GetDelinquencyStatus handles GET /v1/delinquency/{residentID} — read-only
// operator view of the aggregate.
func (h *Handler) GetDelinquencyStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	residentID, err := uuid.Parse(chi.URLParam(r, "residentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid resident ID", "ID must be a valid UUID")
		return
	}

	agg, err := h.store.GetAggregateByResident(ctx, residentID)
	if err != nil {
		h.writeAppError(w, err, "failed to get delinquency aggregate")
		return
	}

	h.writeJSON(w, http.StatusOK, agg)
}

// GetPublicationStatus handles GET /v1/publications/{id}/status
func (h *Handler) GetPublicationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pubID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid publication ID", "ID must be a valid UUID")
		return
	}

	pub, err := h.store.GetPublication(ctx, pubID)
	if err != nil {
		h.writeAppError(w, err, "failed to get publication")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                 pub.ID,
		"scheduled":          pub.Scheduled,
		"scheduled_at":       pub.ScheduledAt,
		"notifications_sent": pub.NotificationsSent,
	})
}

// writeAppError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeAppError(w http.ResponseWriter, err error, logMsg string) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request", err.Error())
	case apperr.KindNotFound:
		h.writeError(w, http.StatusNotFound, "not_found", "Not found", err.Error())
	default:
		h.logger.Error(logMsg, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal error", "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
