// Package api exposes the control surface and the WebSocket feed: health,
// signal and account queries, manual scans, trade close/cancel, backtest
// runs, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/fanout"
	"github.com/signalhound/signalhound/internal/market"
	"github.com/signalhound/signalhound/internal/scanner"
)

// Store is the read/write surface the handlers need. *db.DB satisfies it.
type Store interface {
	Health(ctx context.Context) error

	ListSignals(ctx context.Context, limit int) ([]*db.Signal, error)
	ListActiveSignals(ctx context.Context, kind market.Kind) ([]*db.Signal, error)
	GetSignal(ctx context.Context, id uuid.UUID) (*db.Signal, error)

	ListAccounts(ctx context.Context) ([]*db.PaperAccount, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*db.PaperAccount, error)
	UpdateAccountConfig(ctx context.Context, a *db.PaperAccount) error
	ResetAccount(ctx context.Context, id uuid.UUID) error
	ListAccountTrades(ctx context.Context, accountID uuid.UUID, limit int) ([]*db.PaperTrade, error)

	CreateBacktestRun(ctx context.Context, r *db.BacktestRun) error
	GetBacktestRun(ctx context.Context, id uuid.UUID) (*db.BacktestRun, error)
	ListBacktestRuns(ctx context.Context, limit int) ([]*db.BacktestRun, error)
	ListBacktestTrades(ctx context.Context, runID uuid.UUID) ([]*db.BacktestTrade, error)
}

// TradeManager closes and cancels paper trades. *paper.Manager satisfies it.
type TradeManager interface {
	Close(ctx context.Context, tradeID uuid.UUID, reason string) (*db.PaperTrade, error)
	Cancel(ctx context.Context, tradeID uuid.UUID, reason string) error
}

// ScanRunner triggers manual scan ticks. *scanner.Scanner satisfies it.
type ScanRunner interface {
	Tracks() []*scanner.Track
	TrackByName(name string) *scanner.Track
	RunTrack(ctx context.Context, track *scanner.Track) *scanner.Summary
}

// BacktestRunner executes a created run. *backtest.Executor satisfies it.
type BacktestRunner interface {
	Execute(ctx context.Context, runID uuid.UUID) error
}

// Config wires the server's collaborators.
type Config struct {
	Host string
	Port int

	Store     Store
	Trades    TradeManager
	Scanner   ScanRunner
	Backtests BacktestRunner
	Hub       *fanout.Hub

	// RedisPing is optional; nil means Redis is not configured.
	RedisPing func(ctx context.Context) error
}

// Server is the HTTP/WebSocket front of the daemon.
type Server struct {
	router    *gin.Engine
	store     Store
	trades    TradeManager
	scanner   ScanRunner
	backtests BacktestRunner
	hub       *fanout.Hub
	redisPing func(ctx context.Context) error
	addr      string
	server    *http.Server
}

// NewServer builds the router and registers all routes.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router:    router,
		store:     cfg.Store,
		trades:    cfg.Trades,
		scanner:   cfg.Scanner,
		backtests: cfg.Backtests,
		hub:       cfg.Hub,
		redisPing: cfg.RedisPing,
		addr:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Stop or a listen error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}

// errorBody is the uniform error envelope.
func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// writeError maps classified errors to status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("not_found", err.Error()))
	case errors.Is(err, db.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, errorBody("conflict", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorBody("internal", err.Error()))
	}
}

// parseJSON binds the request body, replying 400 on malformed input.
func parseJSON(c *gin.Context, dst any) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(dst); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "malformed JSON body"))
		return false
	}
	return true
}
