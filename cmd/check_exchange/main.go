package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_trend_engine/internal/infrastructure/exchange"
)

type Config struct {
	Exchange struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
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

	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Exchange.RESTEndpoint)

	adapter := exchange.NewBybitAdapter(
		cfg.Exchange.APIKey, cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint, cfg.Exchange.WSEndpoint, zap.NewNop())
	ctx := context.Background()

	// 2. Check Public Endpoint (Ping + Kline)
	latency, err := adapter.Ping(ctx)
	if err != nil {
		fmt.Printf("❌ Ping failed: %v\n", err)
	} else {
		fmt.Printf("✅ Ping OK, latency=%s\n", latency)
	}

	candles, err := adapter.GetOHLCV(ctx, "BTCUSDT", "15", 5)
	if err != nil {
		fmt.Printf("❌ Failed to get klines: %v\n", err)
	} else if len(candles) > 0 {
		last := candles[len(candles)-1]
		fmt.Printf("✅ Klines (BTCUSDT 15m): %d bars, last close=%f\n", len(candles), last.Close)
	}

	// 3. Check Private Endpoints (Balance + Position)
	balance, err := adapter.GetBalance(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get balance: %v\n", err)
	} else {
		fmt.Printf("✅ Balance: %f USDT\n", balance)
	}

	pos, err := adapter.GetPosition(ctx, "BTCUSDT")
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
	} else {
		fmt.Printf("✅ Position (BTCUSDT): Size=%f, Side=%s, Entry=%f, PnL=%f\n",
			pos.Size, pos.Side, pos.EntryPrice, pos.UnrealizedPnL)
	}
}
