// Package httpapi exposes the pipeline operations as authenticated HTTP
// triggers for external cron services and operators.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/iverpak/quantbrief-daily/internal/app"
	"github.com/iverpak/quantbrief-daily/internal/database"
	"github.com/iverpak/quantbrief-daily/internal/digest"
	"github.com/iverpak/quantbrief-daily/internal/domain"
	"github.com/iverpak/quantbrief-daily/internal/mail"
)

const (
	serviceName = "Quantbrief Stock News Aggregator"
	tokenHeader = "x-admin-token"

	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// ErrNoToken is returned by Start when no admin token is configured.
var ErrNoToken = errors.New("ADMIN_TOKEN is required to serve HTTP")

// Service is the set of operations the API triggers.
type Service interface {
	Seed(ctx context.Context) ([]domain.SeededFeed, error)
	Ingest(ctx context.Context, minutes int) (domain.IngestSummary, error)
	Digest(ctx context.Context, minutes int) (digest.Result, error)
	ForceDigest(ctx context.Context) (digest.Result, error)
	Stats(ctx context.Context) (domain.Stats, error)
	ResetDigestFlags(ctx context.Context) (int64, error)
	TestEmail(ctx context.Context) (app.TestEmailResult, error)
}

type Options struct {
	Port                 int
	AdminToken           string
	DigestWindowMinutes  int
	DefaultIngestMinutes int
}

type Server struct {
	svc  Service
	opts Options
	log  *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type initResponse struct {
	Status string              `json:"status"`
	Feeds  []domain.SeededFeed `json:"feeds"`
}

type resetResponse struct {
	Status        string `json:"status"`
	ArticlesReset int64  `json:"articles_reset"`
}

func New(svc Service, opts Options, log *slog.Logger) *Server {
	if opts.DigestWindowMinutes <= 0 {
		opts.DigestWindowMinutes = digest.DefaultWindowMinutes
	}
	if opts.DefaultIngestMinutes <= 0 {
		opts.DefaultIngestMinutes = app.DefaultIngestMinutes
	}
	opts.AdminToken = strings.TrimSpace(opts.AdminToken)

	return &Server{svc: svc, opts: opts, log: log}
}

func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ctx := c.Request().Context()

			if v.Error != nil {
				s.log.ErrorContext(ctx, "HTTP request is failed",
					"error", v.Error,
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency", v.Latency)

				return nil
			}

			s.log.InfoContext(ctx, "HTTP request is served",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency)

			return nil
		},
	}))

	e.GET("/", s.handleHealth)

	e.POST("/admin/init", s.handleInit, s.requireAdmin)
	e.POST("/cron/ingest", s.handleIngest, s.requireAdmin)
	e.POST("/cron/digest", s.handleDigest, s.requireAdmin)
	e.POST("/admin/force-digest", s.handleForceDigest, s.requireAdmin)
	e.POST("/admin/test-email", s.handleTestEmail, s.requireAdmin)
	e.GET("/admin/stats", s.handleStats, s.requireAdmin)
	e.POST("/admin/reset-digest-flags", s.handleResetDigestFlags, s.requireAdmin)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s.opts.AdminToken == "" {
		return ErrNoToken
	}

	e := s.Handler()

	addr := fmt.Sprintf(":%d", s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Failed to shut down HTTP server",
				"error", err)
		}
	}()

	s.log.InfoContext(ctx, "HTTP server is started",
		"addr", addr)

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}

	s.log.InfoContext(ctx, "HTTP server is stopped",
		"addr", addr)

	return nil
}

func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.Request().Header.Get(tokenHeader)
		if token == "" {
			token = strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		}

		if s.opts.AdminToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
		}

		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
	})
}

func (s *Server) handleInit(c echo.Context) error {
	feeds, err := s.svc.Seed(c.Request().Context())
	if err != nil {
		return s.fail(c, "Failed to seed feeds", err)
	}

	return c.JSON(http.StatusOK, initResponse{Status: "initialized", Feeds: feeds})
}

func (s *Server) handleIngest(c echo.Context) error {
	minutes, err := minutesParam(c, s.opts.DefaultIngestMinutes)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	summary, err := s.svc.Ingest(c.Request().Context(), minutes)
	if err != nil {
		return s.fail(c, "Failed to ingest feeds", err)
	}

	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleDigest(c echo.Context) error {
	minutes, err := minutesParam(c, s.opts.DigestWindowMinutes)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	res, err := s.svc.Digest(c.Request().Context(), minutes)
	if err != nil {
		return s.fail(c, "Failed to send digest", err)
	}

	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleForceDigest(c echo.Context) error {
	res, err := s.svc.ForceDigest(c.Request().Context())
	if err != nil {
		return s.fail(c, "Failed to send forced digest", err)
	}

	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleTestEmail(c echo.Context) error {
	res, err := s.svc.TestEmail(c.Request().Context())
	if err != nil {
		return s.fail(c, "Failed to send test email", err)
	}

	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.svc.Stats(c.Request().Context())
	if err != nil {
		return s.fail(c, "Failed to load stats", err)
	}

	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleResetDigestFlags(c echo.Context) error {
	reset, err := s.svc.ResetDigestFlags(c.Request().Context())
	if err != nil {
		return s.fail(c, "Failed to reset digest flags", err)
	}

	return c.JSON(http.StatusOK, resetResponse{Status: "reset", ArticlesReset: reset})
}

// fail maps configuration absence to 503 and everything else to 500.
func (s *Server) fail(c echo.Context, msg string, err error) error {
	status := http.StatusInternalServerError
	if errors.Is(err, database.ErrNotConfigured) || errors.Is(err, mail.ErrNotConfigured) {
		status = http.StatusServiceUnavailable
	}

	s.log.ErrorContext(c.Request().Context(), msg,
		"error", err,
		"uri", c.Request().RequestURI,
		"status", status)

	return c.JSON(status, errorResponse{Error: err.Error()})
}

func minutesParam(c echo.Context, fallback int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam("minutes"))
	if raw == "" {
		return fallback, nil
	}

	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("minutes must be a positive integer (got %q)", raw)
	}

	return minutes, nil
}
