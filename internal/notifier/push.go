package notifier

import (
	"context"
	"fmt"
	"time"

	"nestcare-monitor/internal/config"
	"nestcare-monitor/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PushChannel FCM HTTP 推送渠道
// 单次调用携带有界超时，超时按该渠道失败处理
type PushChannel struct {
	client *resty.Client
	logger *zap.Logger
}

// NewPushChannel 创建推送渠道
func NewPushChannel(cfg config.PushConfig, logger *zap.Logger) *PushChannel {
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second).
		SetHeader("Authorization", "key="+cfg.ServerKey).
		SetHeader("Content-Type", "application/json")

	return &PushChannel{
		client: client,
		logger: logger,
	}
}

func (c *PushChannel) Name() string {
	return models.ChannelPush
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmRequest struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmResult struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

type fcmResponse struct {
	Success int         `json:"success"`
	Failure int         `json:"failure"`
	Results []fcmResult `json:"results"`
}

func (c *PushChannel) Send(ctx context.Context, contact *models.CaregiverContact, msg Message) (string, error) {
	if contact == nil || contact.DeviceToken == nil || *contact.DeviceToken == "" {
		return "", fmt.Errorf("caregiver has no device token")
	}

	var result fcmResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(fcmRequest{
			To: *contact.DeviceToken,
			Notification: fcmNotification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
		}).
		SetResult(&result).
		Post("/fcm/send")
	if err != nil {
		return "", fmt.Errorf("push request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("push request failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}
	if result.Success < 1 {
		reason := "unknown"
		if len(result.Results) > 0 && result.Results[0].Error != "" {
			reason = result.Results[0].Error
		}
		return "", fmt.Errorf("push rejected by provider: %s", reason)
	}

	messageID := ""
	if len(result.Results) > 0 {
		messageID = result.Results[0].MessageID
	}

	c.logger.Debug("Push notification sent",
		zap.String("owner_id", contact.OwnerID),
		zap.String("message_id", messageID),
	)

	return messageID, nil
}
