package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
)

const defaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMClient sends pushes through the Firebase Cloud Messaging HTTP API.
type FCMClient struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *zap.Logger
}

type FCMConfig struct {
	APIKey   string
	Endpoint string        // override for tests; defaults to the FCM API
	Timeout  time.Duration // per-request timeout, default 10s
}

// NewFCMClient creates an FCM-backed push client.
func NewFCMClient(cfg FCMConfig, logger *zap.Logger) (*FCMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("fcm api key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultFCMEndpoint
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &FCMClient{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		logger:   logger,
	}, nil
}

type fcmMessage struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Send delivers one message to one device token.
func (c *FCMClient) Send(ctx context.Context, token, title, body string, payload map[string]string) (*Result, error) {
	msg := fcmMessage{
		To:           token,
		Notification: fcmNotification{Title: title, Body: body},
		Data:         payload,
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal fcm message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create fcm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.Deliveryf(err, "fcm request failed")
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Deliveryf(
			fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)),
			"fcm returned non-2xx status",
		)
	}

	var parsed fcmResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return nil, apperr.Deliveryf(err, "decode fcm response")
	}

	if parsed.Failure > 0 || parsed.Success == 0 {
		providerErr := "unknown"
		if len(parsed.Results) > 0 && parsed.Results[0].Error != "" {
			providerErr = parsed.Results[0].Error
		}
		return nil, apperr.Deliveryf(fmt.Errorf("%s", providerErr), "fcm rejected message")
	}

	messageID := ""
	if len(parsed.Results) > 0 {
		messageID = parsed.Results[0].MessageID
	}

	c.logger.Debug("push delivered via fcm",
		zap.String("message_id", messageID),
	)

	return &Result{Success: true, ProviderMessageID: messageID}, nil
}
