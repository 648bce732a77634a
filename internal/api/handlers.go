package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/market"
)

const defaultListLimit = 100

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "signalhound",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Health(c.Request.Context()); err != nil {
		log.Warn().Err(err).Msg("Database health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "database unavailable",
		})
		return
	}

	redisStatus := "not_configured"
	if s.redisPing != nil {
		redisStatus = "healthy"
		if err := s.redisPing(c.Request.Context()); err != nil {
			redisStatus = "unhealthy"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"redis":  redisStatus,
		"time":   time.Now().UTC(),
	})
}

func limitParam(c *gin.Context) int {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	return limit
}

func idParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

// Signals

func (s *Server) handleListSignals(c *gin.Context) {
	signals, err := s.store.ListSignals(c.Request.Context(), limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) handleListActiveSignals(c *gin.Context) {
	kind := market.Kind(c.Query("market"))
	if kind != "" && kind != market.Spot && kind != market.Futures {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "unknown market"))
		return
	}

	signals, err := s.store.ListActiveSignals(c.Request.Context(), kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) handleGetSignal(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	sig, err := s.store.GetSignal(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// Accounts

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.store.ListAccounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) handleGetAccount(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	account, err := s.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// accountPatch carries the tunable account fields; absent fields keep their
// current value.
type accountPatch struct {
	MaxTrades     *int     `json:"max_trades"`
	MinConfidence *float64 `json:"min_confidence"`
	AutoTrading   *bool    `json:"auto_trading"`
	SizingMode    *string  `json:"sizing_mode"`
	SizingValue   *float64 `json:"sizing_value"`
}

func (s *Server) handleUpdateAccount(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var patch accountPatch
	if !parseJSON(c, &patch) {
		return
	}

	account, err := s.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	if patch.MaxTrades != nil {
		if *patch.MaxTrades < 1 {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "max_trades must be at least 1"))
			return
		}
		account.MaxTrades = *patch.MaxTrades
	}
	if patch.MinConfidence != nil {
		if *patch.MinConfidence <= 0 || *patch.MinConfidence > 1 {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "min_confidence must be in (0, 1]"))
			return
		}
		account.MinConfidence = *patch.MinConfidence
	}
	if patch.AutoTrading != nil {
		account.AutoTrading = *patch.AutoTrading
	}
	if patch.SizingMode != nil {
		mode := db.SizingMode(*patch.SizingMode)
		switch mode {
		case db.SizingFixed, db.SizingPercent, db.SizingKelly:
			account.SizingMode = mode
		default:
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "unknown sizing_mode"))
			return
		}
	}
	if patch.SizingValue != nil {
		if *patch.SizingValue <= 0 {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "sizing_value must be positive"))
			return
		}
		account.SizingValue = decimal.NewFromFloat(*patch.SizingValue)
	}

	if err := s.store.UpdateAccountConfig(c.Request.Context(), account); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleResetAccount(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.store.ResetAccount(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleListAccountTrades(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	trades, err := s.store.ListAccountTrades(c.Request.Context(), id, limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// Trades

type tradeAction struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCloseTrade(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req tradeAction
	if c.Request.ContentLength > 0 && !parseJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "manual close"
	}

	trade, err := s.trades.Close(c.Request.Context(), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleCancelTrade(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var req tradeAction
	if c.Request.ContentLength > 0 && !parseJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "manual cancel"
	}

	if err := s.trades.Cancel(c.Request.Context(), id, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Scans

func (s *Server) handleListTracks(c *gin.Context) {
	tracks := s.scanner.Tracks()
	out := make([]gin.H, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, gin.H{
			"name":         t.Name,
			"market":       t.Market,
			"timeframe":    t.Timeframe,
			"schedule":     t.Schedule,
			"last_summary": t.LastSummary(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tracks": out})
}

func (s *Server) handleTriggerScan(c *gin.Context) {
	name := c.Param("track")
	track := s.scanner.TrackByName(name)
	if track == nil {
		c.JSON(http.StatusNotFound, errorBody("not_found", "unknown track "+name))
		return
	}

	// The tick outlives the request; overlap with a scheduled tick is
	// skipped by the track itself.
	go s.scanner.RunTrack(context.Background(), track)

	c.JSON(http.StatusAccepted, gin.H{"status": "scan started", "track": name})
}

// Backtests

type backtestRequest struct {
	Name           string          `json:"name"`
	Symbols        []string        `json:"symbols"`
	Market         string          `json:"market"`
	Timeframe      string          `json:"timeframe"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	StrategyParams json.RawMessage `json:"strategy_params"`
	InitialCapital float64         `json:"initial_capital"`
	PositionSize   float64         `json:"position_size"`
}

func (r backtestRequest) validate() string {
	switch {
	case r.Name == "":
		return "name is required"
	case len(r.Symbols) == 0:
		return "at least one symbol is required"
	case market.Kind(r.Market) != market.Spot && market.Kind(r.Market) != market.Futures:
		return "unknown market"
	case !market.Timeframe(r.Timeframe).Valid():
		return "unknown timeframe"
	case !r.EndDate.After(r.StartDate):
		return "end_date must be after start_date"
	case r.InitialCapital <= 0:
		return "initial_capital must be positive"
	case r.PositionSize <= 0:
		return "position_size must be positive"
	}
	return ""
}

func (s *Server) handleCreateBacktest(c *gin.Context) {
	var req backtestRequest
	if !parseJSON(c, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", msg))
		return
	}

	run := &db.BacktestRun{
		Name:           req.Name,
		Symbols:        req.Symbols,
		Market:         market.Kind(req.Market),
		Timeframe:      market.Timeframe(req.Timeframe),
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		StrategyParams: req.StrategyParams,
		InitialCapital: decimal.NewFromFloat(req.InitialCapital),
		PositionSize:   decimal.NewFromFloat(req.PositionSize),
	}

	if err := s.store.CreateBacktestRun(c.Request.Context(), run); err != nil {
		writeError(c, err)
		return
	}

	go func() {
		if err := s.backtests.Execute(context.Background(), run.ID); err != nil {
			log.Error().Err(err).Str("run_id", run.ID.String()).Msg("Backtest execution failed")
		}
	}()

	c.JSON(http.StatusCreated, run)
}

func (s *Server) handleListBacktests(c *gin.Context) {
	runs, err := s.store.ListBacktestRuns(c.Request.Context(), limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetBacktest(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	run, err := s.store.GetBacktestRun(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListBacktestTrades(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	trades, err := s.store.ListBacktestTrades(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}
