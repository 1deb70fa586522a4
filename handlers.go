package main

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/upload"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SingleCallRequest is the body of POST /api/call-single.
type SingleCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// BulkCallRequest is the body of POST /api/bulk-call.
type BulkCallRequest struct {
	PhoneNumbers []string `json:"phone_numbers"`
}

// statusFor maps an apperr kind to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, apperr.ErrValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func handleUploadExcel(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing 'file' in form data")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Could not read uploaded file")
	}
	defer f.Close()

	numbers, err := upload.ParsePhoneNumbers(fh.Filename, f)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), err.Error())
	}
	logger.Base().Info("parsed upload", zap.String("filename", fh.Filename), zap.Int("count", len(numbers)))
	return c.JSON(http.StatusOK, map[string]any{
		"phone_numbers": numbers,
		"total_count":   len(numbers),
	})
}

func (s *server) handleCallSingle(c echo.Context) error {
	req := new(SingleCallRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}

	res, err := s.dispatcher.Call(c.Request().Context(), req.PhoneNumber)
	if err != nil {
		return echo.NewHTTPError(statusFor(err), res.Error)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *server) handleBulkCall(c echo.Context) error {
	req := new(BulkCallRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}

	results := s.dispatcher.Bulk(c.Request().Context(), req.PhoneNumbers, s.cfg.BulkConcurrency)
	return c.JSON(http.StatusOK, map[string]any{
		"results":         results,
		"total_processed": len(results),
	})
}

func (s *server) handleTranscripts(c echo.Context) error {
	list, err := s.transcripts.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (s *server) handleLiveTranscript(c echo.Context) error {
	turns, err := s.redis.LiveTurns(c.Param("job_id"))
	if err != nil {
		logger.Base().Error("read live transcript", zap.String("job_id", c.Param("job_id")), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Could not read live transcript")
	}
	return c.JSON(http.StatusOK, turns)
}

func (s *server) handleRecordings(c echo.Context) error {
	list, err := s.recordings.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (s *server) handleDownloadRecording(c echo.Context) error {
	// wildcard so names carrying path separators still reach the validation below
	name := c.Param("*")
	path, err := s.recordings.Path(name)
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid filename")
	case errors.Is(err, os.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	f, err := os.Open(path)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	defer f.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Stream(http.StatusOK, "audio/wav", f)
}

// handleCallStatus is best effort: a Redis failure reports zero active calls.
func (s *server) handleCallStatus(c echo.Context) error {
	active, err := s.redis.ActiveCalls()
	if err != nil {
		logger.Base().Warn("read active calls", zap.Error(err))
		active = 0
	}
	return c.JSON(http.StatusOK, map[string]any{
		"active_calls":    active,
		"completed_calls": s.transcripts.Count(),
	})
}

// handleFrontend serves the built bundle, falling back to index.html for client routes.
func (s *server) handleFrontend(c echo.Context) error {
	rel := strings.TrimPrefix(c.Param("*"), "/")
	if strings.HasPrefix(rel, "api/") {
		return echo.NewHTTPError(http.StatusNotFound, "API Endpoint not found")
	}

	if rel != "" && !strings.Contains(rel, "..") {
		asset := filepath.Join(s.cfg.FrontendDir, filepath.FromSlash(rel))
		if info, err := os.Stat(asset); err == nil && !info.IsDir() {
			return c.File(asset)
		}
	}

	index := filepath.Join(s.cfg.FrontendDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return c.JSON(http.StatusOK, map[string]string{
			"error": "Frontend not built. Run 'npm run build' in frontend directory.",
		})
	}
	return c.File(index)
}
