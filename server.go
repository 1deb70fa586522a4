package main

import (
	"errors"
	"net/http"

	"github.com/AVVKavvk/livekit-caller/config"
	"github.com/AVVKavvk/livekit-caller/dispatch"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/recordings"
	"github.com/AVVKavvk/livekit-caller/redisClient"
	"github.com/AVVKavvk/livekit-caller/transcripts"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/livekit/protocol/auth"
	"go.uber.org/zap"
)

const healthMessage = "Mansa Infotech AI Calling Platform API is running."

// server holds what the HTTP handlers read and write.
type server struct {
	cfg         *config.Config
	dispatcher  *dispatch.Dispatcher
	transcripts *transcripts.Store
	recordings  *recordings.Store
	redis       *redisClient.Client
	// nil when LiveKit credentials are missing; webhooks are then rejected
	webhookKeys auth.KeyProvider
}

func newServer(cfg *config.Config, d *dispatch.Dispatcher, rc *redisClient.Client) *server {
	s := &server{
		cfg:         cfg,
		dispatcher:  d,
		transcripts: transcripts.NewStore(cfg.TranscriptsDir, cfg.TranscriptsJSONDir),
		recordings:  recordings.NewStore(cfg.RecordingsDir),
		redis:       rc,
	}
	if cfg.HasLiveKitCredentials() {
		s.webhookKeys = auth.NewSimpleKeyProvider(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	}
	return s
}

func (s *server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api := e.Group("/api")
	api.GET("/health", handleHealth)
	api.POST("/upload-excel", handleUploadExcel)
	api.POST("/call-single", s.handleCallSingle)
	api.POST("/bulk-call", s.handleBulkCall)
	api.GET("/transcripts", s.handleTranscripts)
	api.GET("/transcripts/:job_id/live", s.handleLiveTranscript)
	api.GET("/recordings", s.handleRecordings)
	api.GET("/recordings/*", s.handleDownloadRecording)
	api.GET("/call-status", s.handleCallStatus)
	api.Any("/*", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "API Endpoint not found")
	})

	e.POST("/livekit/webhook", s.handleWebhook)
	e.GET("/*", s.handleFrontend)
	return e
}

// errorHandler renders every error as {"detail": ...}, the shape the frontend reads.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		logger.Base().Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
		he = echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	body := map[string]any{"detail": he.Message}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(he.Code)
	} else {
		err = c.JSON(he.Code, body)
	}
	if err != nil {
		logger.Base().Warn("failed to write error response", zap.Error(err))
	}
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "message": healthMessage})
}
