package main

import (
	"net/http"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/labstack/echo/v4"
	"github.com/livekit/protocol/webhook"
	"go.uber.org/zap"
)

// handleWebhook receives signed LiveKit room events and keeps the active call
// counter in step with rooms starting and finishing.
func (s *server) handleWebhook(c echo.Context) error {
	if s.webhookKeys == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "LiveKit credentials missing in environment variables.")
	}
	event, err := webhook.ReceiveWebhookEvent(c.Request(), s.webhookKeys)
	if err != nil {
		logger.Base().Warn("rejected webhook", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid webhook signature")
	}

	log := logger.Base().With(zap.String("event", event.GetEvent()), zap.String("room", event.GetRoom().GetName()))
	log.Info("webhook received")

	switch event.GetEvent() {
	case webhook.EventRoomStarted:
		if _, err := s.redis.IncrActiveCalls(); err != nil {
			log.Error("increment active calls", zap.Error(err))
		}
	case webhook.EventRoomFinished:
		if _, err := s.redis.DecrActiveCalls(); err != nil {
			log.Error("decrement active calls", zap.Error(err))
		}
	}
	return c.NoContent(http.StatusOK)
}
