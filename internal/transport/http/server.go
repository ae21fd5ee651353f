// Package http provides the HTTP server implementation for clinichat.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/config"
	"github.com/xiaot623/clinichat/internal/hub"
	"github.com/xiaot623/clinichat/internal/logging"
	"github.com/xiaot623/clinichat/internal/service"
	v1 "github.com/xiaot623/clinichat/internal/transport/http/v1"
	"github.com/xiaot623/clinichat/internal/transport/ws"
)

// NewServer creates and configures the store API server.
// It serves the v1 API, change notifications, stored clips and metrics.
func NewServer(svc *service.Service, h *hub.Hub, cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(Metrics())
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
	}))

	// Handlers
	v1Handler := v1.NewHandler(svc, h.ConnectionCount, logger)
	wsServer := ws.NewServer(h, svc, ws.Options{AllowedOrigins: cfg.AllowedOrigins}, logger)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	wsServer.RegisterRoutes(e)
	e.Static("/audio_storage", cfg.AudioDir)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
