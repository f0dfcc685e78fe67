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

// SMSChannel Twilio REST 短信渠道
type SMSChannel struct {
	client *resty.Client
	from   string
	path   string
	logger *zap.Logger
}

// NewSMSChannel 创建短信渠道
func NewSMSChannel(cfg config.SMSConfig, logger *zap.Logger) *SMSChannel {
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &SMSChannel{
		client: client,
		from:   cfg.From,
		path:   fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", cfg.AccountSID),
		logger: logger,
	}
}

func (c *SMSChannel) Name() string {
	return models.ChannelSMS
}

type smsResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func (c *SMSChannel) Send(ctx context.Context, contact *models.CaregiverContact, msg Message) (string, error) {
	if contact == nil || contact.PhoneNumber == nil || *contact.PhoneNumber == "" {
		return "", fmt.Errorf("caregiver has no phone number")
	}

	// 短信没有标题概念，标题与正文合并为一条文本
	text := msg.Body
	if msg.Title != "" {
		text = msg.Title + ": " + msg.Body
	}

	var result smsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   *contact.PhoneNumber,
			"From": c.from,
			"Body": text,
		}).
		SetResult(&result).
		Post(c.path)
	if err != nil {
		return "", fmt.Errorf("sms request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("sms request failed: status=%d body=%s", resp.StatusCode(), resp.String())
	}
	if result.ErrorMessage != "" {
		return "", fmt.Errorf("sms rejected by provider: %s", result.ErrorMessage)
	}

	c.logger.Debug("SMS sent",
		zap.String("owner_id", contact.OwnerID),
		zap.String("sid", result.SID),
		zap.String("status", result.Status),
	)

	return result.SID, nil
}
