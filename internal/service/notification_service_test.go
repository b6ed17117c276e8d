package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/doubt-service/internal/config"
	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/events"
)

func TestSendPostsWebhook(t *testing.T) {
	var got domain.Notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := server.Client()
	defer client.CloseIdleConnections()
	svc := NewNotificationService(nil, zap.NewNop(), config.NotificationConfig{WebhookURL: server.URL, EmailFrom: "noreply@school.test"}, client)

	err := svc.Send(context.Background(), domain.Notification{Name: "reply", ToUserID: studentA, FromUserID: teacherT, Subject: "New reply"})
	require.NoError(t, err)
	assert.Equal(t, "reply", got.Name)
	assert.Equal(t, studentA, got.ToUserID)
}

func TestSendReportsWebhookFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := server.Client()
	defer client.CloseIdleConnections()
	svc := NewNotificationService(nil, nil, config.NotificationConfig{WebhookURL: server.URL}, client)

	err := svc.Send(context.Background(), domain.Notification{Name: "status", ToUserID: studentA})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSendWithoutWebhookOnlyLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	svc := NewNotificationService(nil, zap.New(core), config.NotificationConfig{}, nil)

	require.NoError(t, svc.Send(context.Background(), domain.Notification{Name: "assigned", ToUserID: teacherT}))
	require.Equal(t, 1, logs.FilterMessage("notification").Len())
	assert.Equal(t, "assigned", logs.All()[0].ContextMap()["name"])
}

func TestRegisterHandlersLogsDoubtEvents(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	svc := NewNotificationService(dispatcher, zap.New(core), config.NotificationConfig{}, nil)
	svc.RegisterHandlers()

	for _, eventType := range events.AllEventTypes() {
		require.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: eventType, DoubtID: 3}))
	}
	assert.Equal(t, 1, logs.FilterMessage("DoubtCreated").Len())
	assert.Equal(t, 1, logs.FilterMessage("DoubtReplied").Len())
	assert.Equal(t, 1, logs.FilterMessage("DoubtStatusChanged").Len())
	assert.Equal(t, 1, logs.FilterMessage("DoubtAssigned").Len())
}
