// Package accounts talks to resident management, the collaborator that owns
// account status. The engine only ever asks it to suspend.
package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
)

// HTTPSuspender calls resident management over HTTP.
type HTTPSuspender struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

type Config struct {
	BaseURL string
	Timeout time.Duration // default 10s
}

// NewHTTPSuspender creates the resident-management client.
func NewHTTPSuspender(cfg Config, logger *zap.Logger) (*HTTPSuspender, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("resident management base url is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTTPSuspender{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		logger:  logger,
	}, nil
}

// SuspendAccount requests suspension of the linked account. Failures surface
// as integration errors; the caller treats them as best-effort.
func (s *HTTPSuspender) SuspendAccount(ctx context.Context, userID uuid.UUID) error {
	body, err := json.Marshal(map[string]string{"user_id": userID.String()})
	if err != nil {
		return fmt.Errorf("marshal suspension request: %w", err)
	}

	url := s.baseURL + "/internal/accounts/suspend"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create suspension request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.Integrationf(err, "resident management unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Integrationf(
			fmt.Errorf("status %d", resp.StatusCode),
			"resident management rejected suspension",
		)
	}

	s.logger.Info("account suspension requested",
		zap.String("user_id", userID.String()),
	)

	return nil
}

// LogSuspender logs suspension requests instead of sending them
// (development/testing).
type LogSuspender struct {
	logger *zap.Logger
}

func NewLogSuspender(logger *zap.Logger) *LogSuspender {
	return &LogSuspender{logger: logger}
}

func (s *LogSuspender) SuspendAccount(ctx context.Context, userID uuid.UUID) error {
	s.logger.Info("account suspension logged (development mode)",
		zap.String("user_id", userID.String()),
	)
	return nil
}
