package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
	"github.com/vitos/crypto_trend_engine/internal/usecase"
)

// Server is the JSON operator surface: health and budget inspection,
// recent outcomes, and the emergency-stop switch.
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	engine    *usecase.Engine
	risk      *usecase.RiskManager
	breaker   *usecase.CircuitBreaker
	limiter   *usecase.RateLimiter
	orders    *usecase.OrderManager
	tradeRepo domain.TradeRepository
	logger    *zap.Logger
}

func NewServer(
	port int,
	engine *usecase.Engine,
	risk *usecase.RiskManager,
	breaker *usecase.CircuitBreaker,
	limiter *usecase.RateLimiter,
	orders *usecase.OrderManager,
	tradeRepo domain.TradeRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		engine:    engine,
		risk:      risk,
		breaker:   breaker,
		limiter:   limiter,
		orders:    orders,
		tradeRepo: tradeRepo,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Trades / order outcomes
	s.router.HandleFunc("GET /orders", s.handleOrders)

	// Risk controls
	s.router.HandleFunc("POST /risk/emergency-stop", s.handleEmergencyStop)
	s.router.HandleFunc("POST /risk/strategies/{name}/block", s.handleBlockStrategy)
	s.router.HandleFunc("DELETE /risk/strategies/{name}/block", s.handleUnblockStrategy)

	// Prometheus
	s.router.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
