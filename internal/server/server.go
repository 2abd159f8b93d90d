package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/handler"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/metrics"
	appmw "github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/middleware"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/service"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/session"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo            *echo.Echo
	metrics         *metrics.Metrics
	checkoutHandler *handler.CheckoutHandler
}

func NewServer(logger *slog.Logger, checkoutService service.CheckoutService, refresher session.Refresher, m *metrics.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(appmw.RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(appmw.Session(refresher))

	s := &Server{
		echo:            e,
		metrics:         m,
		checkoutHandler: handler.NewCheckoutHandler(checkoutService),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- checkout --------
	checkout := api.Group("/checkout")
	checkout.GET("/session", s.checkoutHandler.GetSession)
	checkout.POST("/submit", s.checkoutHandler.Submit)

	// -------- stripe redirects / webhooks --------
	s.echo.GET(service.ReturnPath, s.checkoutHandler.HandleReturn)
	s.echo.GET(service.SuccessPath, s.checkoutHandler.Success)
	api.POST("/stripe/webhook", s.checkoutHandler.StripeWebhook)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
