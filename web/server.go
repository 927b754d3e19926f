package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"timer2ticket/model"
	"timer2ticket/scheduler"
	"timer2ticket/storage"
)

const defaultJobLogLimit = 20

// JobScheduler is the part of the scheduler the trigger API drives.
type JobScheduler interface {
	ScheduleConfigJob(ctx context.Context, userID string, origin model.JobOrigin) error
	ScheduleTimeEntriesJob(ctx context.Context, userID string, origin model.JobOrigin) error
	StartUser(ctx context.Context, userID string) error
	StopUser(userID string) error
	IsScheduled(userID string) bool
}

type JobLogReader interface {
	ListJobLogs(ctx context.Context, userID string, limit int) ([]model.JobLog, error)
}

type Server struct {
	echo      *echo.Echo
	scheduler JobScheduler
	jobLogs   JobLogReader
	logger    *zap.Logger
}

type scheduledResponse struct {
	Scheduled bool `json:"scheduled"`
}

type jobLogsResponse struct {
	UserID  string         `json:"userId"`
	JobLogs []model.JobLog `json:"jobLogs"`
}

func NewServer(jobs JobScheduler, jobLogs JobLogReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:      e,
		scheduler: jobs,
		jobLogs:   jobLogs,
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	api := s.echo.Group("/api")
	api.POST("/schedule_config_job/:userId", s.handleScheduleConfigJob)
	api.POST("/schedule_time_entries_job/:userId", s.handleScheduleTimeEntriesJob)
	api.POST("/start/:userId", s.handleStart)
	api.POST("/stop/:userId", s.handleStop)
	api.POST("/scheduled/:userId", s.handleScheduled)
	api.GET("/job_logs/:userId", s.handleJobLogs)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting http server", zap.String("address", addr))
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleScheduleConfigJob(c echo.Context) error {
	userID := c.Param("userId")
	if err := s.scheduler.ScheduleConfigJob(c.Request().Context(), userID, model.JobOriginManual); err != nil {
		return s.schedulerError(c, userID, err)
	}
	return c.String(http.StatusOK, "User's config sync job scheduled successfully.")
}

func (s *Server) handleScheduleTimeEntriesJob(c echo.Context) error {
	userID := c.Param("userId")
	if err := s.scheduler.ScheduleTimeEntriesJob(c.Request().Context(), userID, model.JobOriginManual); err != nil {
		return s.schedulerError(c, userID, err)
	}
	return c.String(http.StatusOK, "User's time entries sync job scheduled successfully.")
}

// handleStart reloads the user and schedules its jobs from scratch.
func (s *Server) handleStart(c echo.Context) error {
	userID := c.Param("userId")
	if err := s.scheduler.StartUser(c.Request().Context(), userID); err != nil {
		return s.schedulerError(c, userID, err)
	}
	return c.String(http.StatusOK, "User's jobs started successfully.")
}

func (s *Server) handleStop(c echo.Context) error {
	userID := c.Param("userId")
	if err := s.scheduler.StopUser(userID); err != nil {
		return s.schedulerError(c, userID, err)
	}
	return c.String(http.StatusOK, "User's jobs stopped successfully.")
}

func (s *Server) handleScheduled(c echo.Context) error {
	return c.JSON(http.StatusOK, scheduledResponse{Scheduled: s.scheduler.IsScheduled(c.Param("userId"))})
}

func (s *Server) handleJobLogs(c echo.Context) error {
	userID := c.Param("userId")

	limit := defaultJobLogLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.String(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	logs, err := s.jobLogs.ListJobLogs(c.Request().Context(), userID, limit)
	if err != nil {
		s.logger.Error("list job logs", zap.String("user_id", userID), zap.Error(err))
		return c.String(http.StatusInternalServerError, "failed to load job logs")
	}
	return c.JSON(http.StatusOK, jobLogsResponse{UserID: userID, JobLogs: logs})
}

func (s *Server) schedulerError(c echo.Context, userID string, err error) error {
	switch {
	case errors.Is(err, scheduler.ErrNotScheduled):
		return c.String(http.StatusNotFound, "No jobs found for this user.")
	case errors.Is(err, storage.ErrNotFound):
		return c.String(http.StatusNotFound, "User not found.")
	case errors.Is(err, scheduler.ErrConfigNeverSucceeded):
		return c.String(http.StatusConflict, "Config sync job has not succeeded yet.")
	default:
		s.logger.Error("schedule request failed", zap.String("user_id", userID), zap.Error(err))
		return c.String(http.StatusInternalServerError, "internal error")
	}
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		HandleError:  true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("request.method", v.Method),
				zap.String("request.path", v.URIPath),
				zap.String("request.route", v.RoutePath),
				zap.String("request.remote_ip", v.RemoteIP),
				zap.Int("response.status", v.Status),
				zap.Duration("response.latency", v.Latency),
			}
			if userID := c.Param("userId"); userID != "" {
				fields = append(fields, zap.String("user_id", userID))
			}
			if v.Error != nil {
				logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}
