package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReceiptTTL bounds how long a provider message ID is remembered. Providers
// stop redelivering receipts well inside this window.
const ReceiptTTL = 48 * time.Hour

// ReceiptDedup remembers provider message IDs so the webhook reconciles each
// delivery receipt at most once even when the provider redelivers it.
type ReceiptDedup struct {
	client *Client
	logger *zap.Logger
}

// NewReceiptDedup creates a receipt dedup service.
func NewReceiptDedup(client *Client, logger *zap.Logger) *ReceiptDedup {
	return &ReceiptDedup{client: client, logger: logger}
}

// Seen marks the message ID and reports whether it had already been marked.
// The SETNX claim and the check are one atomic operation, so two concurrent
// webhook deliveries of the same receipt cannot both observe "new".
func (s *ReceiptDedup) Seen(ctx context.Context, providerMessageID string) (bool, error) {
	key := fmt.Sprintf("receipt:%s", providerMessageID)

	claimed, err := s.client.rdb.SetNX(ctx, key, "1", ReceiptTTL).Result()
	if err != nil {
		return false, fmt.Errorf("receipt dedup setnx: %w", err)
	}

	if !claimed {
		s.logger.Debug("receipt already reconciled",
			zap.String("message_id", providerMessageID),
		)
	}

	return !claimed, nil
}

// Forget releases a claimed message ID so the provider's next redelivery is
// treated as new. Called when reconciliation fails after the claim; dropping
// the ID would otherwise swallow the retry.
func (s *ReceiptDedup) Forget(ctx context.Context, providerMessageID string) error {
	key := fmt.Sprintf("receipt:%s", providerMessageID)

	if err := s.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("receipt dedup del: %w", err)
	}

	return nil
}
