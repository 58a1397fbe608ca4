// Package api serves the operational status endpoints: health, bot status,
// open positions and the recent trade journal.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"futures-trading-bot/config"
	"futures-trading-bot/internal/database"
	"futures-trading-bot/internal/position"
)

// BotAPI is what the server needs from the running bot.
type BotAPI interface {
	Status() map[string]interface{}
	OpenPositions() []position.Position
}

// Server is the HTTP status server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	bot        BotAPI
	journal    *database.Journal // nil when the journal is disabled
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer builds the server and its routes.
func NewServer(cfg config.ServerConfig, bot BotAPI, journal *database.Journal, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		bot:     bot,
		journal: journal,
		logger:  logger.With().Str("component", "api_server").Logger(),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		startedAt: time.Now(),
	}

	router.GET("/health", s.handleHealth)
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/positions", s.handlePositions)
		apiGroup.GET("/trades", s.handleTrades)
	}

	return s
}

// Start serves in a goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("status server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	positions := s.bot.OpenPositions()
	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade journal not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	trades, err := s.journal.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("error querying trade journal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error querying trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}
