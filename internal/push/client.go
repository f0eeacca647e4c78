// Package push abstracts the external push-delivery provider. The engine never
// owns delivery itself; it hands (token, title, body, payload) to a Client and
// reconciles the asynchronous receipts later.
package push

import (
	"context"

	"go.uber.org/zap"
)

// Result is the provider's synchronous acknowledgement for one send.
type Result struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id"`
}

// Client delivers one push message to one device token.
type Client interface {
	Send(ctx context.Context, token, title, body string, payload map[string]string) (*Result, error)
}

// LogClient logs sends instead of delivering them (development/testing).
type LogClient struct {
	logger *zap.Logger
}

func NewLogClient(logger *zap.Logger) *LogClient {
	return &LogClient{logger: logger}
}

func (c *LogClient) Send(ctx context.Context, token, title, body string, payload map[string]string) (*Result, error) {
	c.logger.Info("push logged (development mode)",
		zap.String("token", token),
		zap.String("title", title),
		zap.Any("payload", payload),
	)
	return &Result{Success: true, ProviderMessageID: "log-" + token}, nil
}
