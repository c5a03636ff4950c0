package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_trend_engine/internal/domain"
	"github.com/vitos/crypto_trend_engine/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trend_engine/internal/infrastructure/logger"
	"github.com/vitos/crypto_trend_engine/internal/infrastructure/metrics"
	"github.com/vitos/crypto_trend_engine/internal/infrastructure/storage"
	"github.com/vitos/crypto_trend_engine/internal/usecase"
	"github.com/vitos/crypto_trend_engine/internal/web"
)

type Config struct {
	Exchange struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Engine  usecase.EngineConfig `yaml:"engine"`
	Risk    usecase.RiskConfig   `yaml:"risk"`
	Context struct {
		MinConfidence    float64 `yaml:"min_confidence"`
		MinLevelStrength float64 `yaml:"min_level_strength"`
		CacheTTLSeconds  int     `yaml:"cache_ttl_seconds"`
		BlackoutHours    []int   `yaml:"blackout_hours"`
	} `yaml:"context"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.Level, cfg.Logging.File)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "engine.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Bybit)
	adapter := exchange.NewBybitAdapter(
		cfg.Exchange.APIKey, cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint, cfg.Exchange.WSEndpoint, log)

	// 5. Wire the core
	m := metrics.New()
	notifier := logger.NewEventLogger(log)
	limiter := usecase.NewRateLimiter()
	breaker := usecase.NewCircuitBreaker(adapter, limiter, notifier, log)

	policy := usecase.DefaultContextPolicy()
	if cfg.Context.MinConfidence > 0 {
		policy.MinConfidence = cfg.Context.MinConfidence
	}
	if cfg.Context.MinLevelStrength > 0 {
		policy.MinLevelStrength = cfg.Context.MinLevelStrength
	}
	if cfg.Context.CacheTTLSeconds > 0 {
		policy.CacheTTL = time.Duration(cfg.Context.CacheTTLSeconds) * time.Second
	}

	sessions := usecase.NewSessionManager(0, cfg.Context.BlackoutHours)
	contexts := usecase.NewContextEngine(
		sessions,
		usecase.NewLiquidityAnalyzer(),
		usecase.NewRiskCalculator(),
		policy, log)

	risk := usecase.NewRiskManager(cfg.Risk, store, adapter, limiter, notifier, log)
	orders := usecase.NewOrderManager(adapter, limiter, breaker, notifier, log)

	producers := []domain.SignalProducer{usecase.NewTrendStrategy()}
	engine := usecase.NewEngine(
		cfg.Engine, adapter, limiter, breaker, contexts, risk, orders,
		store, producers, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Recover risk budget from the journal
	if err := risk.Recover(ctx); err != nil {
		log.Warn("Risk budget recovery failed, starting from zero", zap.Error(err))
	}

	engine.Start(ctx)

	// 7. Public trade stream. REST polling stays the source of truth for
	// candles; the stream is for live trade visibility.
	adapter.OnTradeUpdate(func(symbol string, side string, size float64, price float64) {
		log.Debug("trade tick",
			zap.String("symbol", symbol),
			zap.String("side", side),
			zap.Float64("size", size),
			zap.Float64("price", price))
	})
	if err := adapter.ConnectWS(cfg.Engine.Symbols); err != nil {
		log.Warn("Public trade stream unavailable", zap.Error(err))
	}

	// 8. Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, engine, risk, breaker, limiter, orders, store, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	engine.Wait()
}
