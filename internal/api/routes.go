package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		signals := v1.Group("/signals")
		{
			signals.GET("", s.handleListSignals)
			signals.GET("/active", s.handleListActiveSignals)
			signals.GET("/:id", s.handleGetSignal)
		}

		accounts := v1.Group("/accounts")
		{
			accounts.GET("", s.handleListAccounts)
			accounts.GET("/:id", s.handleGetAccount)
			accounts.PATCH("/:id", s.handleUpdateAccount)
			accounts.POST("/:id/reset", s.handleResetAccount)
			accounts.GET("/:id/trades", s.handleListAccountTrades)
		}

		trades := v1.Group("/trades")
		{
			trades.POST("/:id/close", s.handleCloseTrade)
			trades.POST("/:id/cancel", s.handleCancelTrade)
		}

		scan := v1.Group("/scan")
		{
			scan.GET("/tracks", s.handleListTracks)
			scan.POST("/:track", s.handleTriggerScan)
		}

		backtests := v1.Group("/backtests")
		{
			backtests.POST("", s.handleCreateBacktest)
			backtests.GET("", s.handleListBacktests)
			backtests.GET("/:id", s.handleGetBacktest)
			backtests.GET("/:id/trades", s.handleListBacktestTrades)
		}
	}
}
