// Package worker attaches the background consumers of workflow events.
package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/doubt-service/internal/events"
	"github.com/spec-kit/doubt-service/internal/service"
)

// Subscriber consumes every doubt event.
type Subscriber struct {
	Name    string
	Handler events.EventHandler
}

// StartNotificationWorker registers the notification log handlers and the
// given subscribers on the dispatcher. Nil handlers are skipped.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, logger *zap.Logger, subscribers ...Subscriber) {
	if dispatcher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	for _, sub := range subscribers {
		if sub.Handler == nil {
			logger.Debug("skipping event subscriber", zap.String("subscriber", sub.Name))
			continue
		}
		events.SubscribeAll(dispatcher, sub.Handler)
		logger.Info("event subscriber registered", zap.String("subscriber", sub.Name))
	}
}
