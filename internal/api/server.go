// Package api is the operator control surface: a small gin server for
// status, graceful stop, emergency stop, breaker reset, and config
// reload. It never handles order flow.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Controller is the pipeline surface the API drives.
type Controller interface {
	Status() Status
	Stop(ctx context.Context) error
	EmergencyStop(ctx context.Context) error
	ResetBreaker(reason string) error
	ReloadConfig() (applied, skipped []string, err error)
}

// Status is the /status payload.
type Status struct {
	App        string            `json:"app"`
	Version    string            `json:"version"`
	Mode       string            `json:"mode"`
	Running    bool              `json:"running"`
	Halted     bool              `json:"halted"`
	UptimeSec  int64             `json:"uptime_sec"`
	Connectors map[string]string `json:"connectors"`
	Breaker    BreakerStatus     `json:"circuit_breaker"`
	PnL        PnLStatus         `json:"pnl"`
	Pipeline   any               `json:"pipeline"`
}

// BreakerStatus reports the loss circuit breaker.
type BreakerStatus struct {
	State             string `json:"state"`
	ConsecutiveLosses int    `json:"consecutive_losses"`
}

// PnLStatus reports realized performance.
type PnLStatus struct {
	TotalUSD    string `json:"total_usd"`
	DailyUSD    string `json:"daily_usd"`
	WinRate     string `json:"win_rate"`
	EquityUSD   string `json:"equity_usd"`
	DrawdownPct string `json:"drawdown_pct"`
}

// Server hosts the control API.
type Server struct {
	router *gin.Engine
	ctrl   Controller
	addr   string
	server *http.Server
	log    zerolog.Logger
}

// NewServer builds the server and its routes.
func NewServer(host string, port int, ctrl Controller, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	l := log.With().Str("component", "api").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(l))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router: router,
		ctrl:   ctrl,
		addr:   fmt.Sprintf("%s:%d", host, port),
		log:    l,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.POST("/stop", s.handleStop)
		v1.POST("/emergency-stop", s.handleEmergencyStop)
		v1.POST("/circuit-breaker/reset", s.handleBreakerReset)
		v1.POST("/config/reload", s.handleConfigReload)
	}
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("Starting control API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control api: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info().Msg("Stopping control API")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func loggerMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("API request")
	}
}
