package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/vecino-app/vecino/internal/apperr"
)

// SNSClient delivers pushes through AWS SNS mobile platform endpoints. The
// device's push token is the platform endpoint ARN.
type SNSClient struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSClient creates an SNS-backed push client.
func NewSNSClient(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSClient, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSClient{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send publishes one message to the device's platform endpoint.
func (c *SNSClient) Send(ctx context.Context, token, title, body string, payload map[string]string) (*Result, error) {
	if token == "" {
		return nil, fmt.Errorf("push token (endpoint arn) is required")
	}

	message := map[string]any{
		"default": body,
		"title":   title,
	}
	for k, v := range payload {
		message[k] = v
	}

	raw, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal sns message: %w", err)
	}

	input := &sns.PublishInput{
		TargetArn: aws.String(token),
		Message:   aws.String(string(raw)),
	}

	result, err := c.client.Publish(ctx, input)
	if err != nil {
		return nil, apperr.Deliveryf(err, "sns publish failed")
	}

	c.logger.Debug("push delivered via sns",
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return &Result{Success: true, ProviderMessageID: aws.ToString(result.MessageId)}, nil
}
