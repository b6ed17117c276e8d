package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/doubt-service/internal/config"
	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/events"
)

// NotificationService delivers notifications and logs workflow events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	client     *http.Client
}

// NewNotificationService creates the service. A nil client gets a default
// one bounded by the configured webhook timeout.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig, client *http.Client) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		client:     client,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventDoubtCreated, n.handleDoubtCreated)
	n.dispatcher.Subscribe(events.EventDoubtStatusChanged, n.handleDoubtStatusChanged)
	n.dispatcher.Subscribe(events.EventDoubtAssigned, n.handleDoubtAssigned)
	n.dispatcher.Subscribe(events.EventDoubtReplied, n.handleDoubtReplied)
}

func (n *NotificationService) handleDoubtCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("DoubtCreated", zap.Int64("doubt_id", event.DoubtID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleDoubtStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("DoubtStatusChanged", zap.Int64("doubt_id", event.DoubtID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleDoubtAssigned(ctx context.Context, event events.Event) error {
	n.logger.Info("DoubtAssigned", zap.Int64("doubt_id", event.DoubtID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleDoubtReplied(ctx context.Context, event events.Event) error {
	n.logger.Info("DoubtReplied", zap.Int64("doubt_id", event.DoubtID), zap.Any("payload", event.Payload))
	return nil
}

// Send delivers one notification: an email stub plus the optional webhook.
func (n *NotificationService) Send(ctx context.Context, notification domain.Notification) error {
	n.logger.Info("notification",
		zap.String("name", notification.Name),
		zap.Int64("to_user_id", notification.ToUserID),
		zap.Int64("from_user_id", notification.FromUserID),
		zap.String("subject", notification.Subject))
	n.sendEmailNotificationStub(notification)
	return n.sendWebhook(ctx, notification)
}

func (n *NotificationService) sendEmailNotificationStub(notification domain.Notification) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.Int64("to_user_id", notification.ToUserID),
		zap.String("name", notification.Name))
}

func (n *NotificationService) sendWebhook(ctx context.Context, notification domain.Notification) error {
	url := strings.TrimSpace(n.cfg.WebhookURL)
	if url == "" {
		return nil
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook responded with %d", resp.StatusCode)
	}
	return nil
}
