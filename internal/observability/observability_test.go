package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/doubt-service/internal/config"
	"github.com/spec-kit/doubt-service/internal/events"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "chatty"}, config.AppConfig{Name: "doubt-service", Env: "test"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewMetrics()

	app := fiber.New()
	app.Use(RequestLogger(zap.New(core), metrics))
	app.Get("/doubts/:id", func(c *fiber.Ctx) error {
		c.Locals(UserIDLocal, int64(5))
		return c.SendStatus(fiber.StatusTeapot)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/doubts/42", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, int64(5), entry.ContextMap()["user_id"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requestTotal.WithLabelValues("GET", "/doubts/:id", "418")))
}

func TestHandleEventCountsByType(t *testing.T) {
	metrics := NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(nil)
	events.SubscribeAll(dispatcher, metrics.HandleEvent)

	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.Event{Type: events.EventDoubtReplied}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{Type: events.EventDoubtReplied}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{Type: events.EventDoubtCreated}))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.workflowEvents.WithLabelValues(string(events.EventDoubtReplied))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.workflowEvents.WithLabelValues(string(events.EventDoubtCreated))))

	var nilMetrics *Metrics
	assert.NoError(t, nilMetrics.HandleEvent(ctx, events.Event{}))
	nilMetrics.ObserveHTTPRequest("GET", "/", 200, 0)
}
