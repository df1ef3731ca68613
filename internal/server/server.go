package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/annotree/config"
	"github.com/mohammad-safakhou/annotree/internal/runtime"
)

// New builds the HTTP API. When secret is non-empty every /api route
// requires a bearer token signed with it.
func New(d *Deps, secret []byte, logger *log.Logger) *echo.Echo {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	api := e.Group("/api")
	if len(secret) > 0 {
		api.Use(runtime.EchoAuthMiddleware(secret))
	}
	NewAnnotationHandler(d.Sessions).Register(api)
	return e
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	d, err := BuildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	secret, err := runtime.LoadJWTSecret(cfg)
	if errors.Is(err, runtime.ErrNoSecret) {
		logger.Printf("server.jwt_secret is empty; /api is unauthenticated")
	} else if err != nil {
		return err
	}

	d.Sessions.Start(cfg.Session.JanitorInterval)
	e := New(d, secret, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.Server.Address)
		if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		d.Sessions.Stop(context.Background())
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = e.Shutdown(shutdownCtx)
	d.Sessions.Stop(shutdownCtx)
	return err
}
