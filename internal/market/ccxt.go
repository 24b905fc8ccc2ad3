package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"tradepilot/internal/config"
)

type ccxtExchange interface {
	LoadMarkets(params ...interface{}) (map[string]ccxt.MarketInterface, error)
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
}

// CCXTGateway 基于 ccxt 实现行情网关。
type CCXTGateway struct {
	name     string
	exchange ccxtExchange
	logger   *zap.Logger

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewCCXTGateway 按配置构造 ccxt 行情网关。
func NewCCXTGateway(cfg config.ExchangeConfig, logger *zap.Logger) (*CCXTGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	var ex ccxtExchange
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "binance":
		client := ccxt.NewBinance(userConfig)
		if cfg.UseSandbox {
			client.SetSandboxMode(true)
		}
		ex = client
	case "binanceusdm":
		client := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			client.SetSandboxMode(true)
		}
		ex = client
	case "hyperliquid":
		client := ccxt.NewHyperliquid(userConfig)
		if cfg.UseSandbox {
			client.SetSandboxMode(true)
		}
		ex = client
	default:
		return nil, fmt.Errorf("market: 不支持的交易所 %q", cfg.Name)
	}

	return &CCXTGateway{
		name:     cfg.Name,
		exchange: ex,
		logger:   logger,
	}, nil
}

// Initialize 加载市场元数据，重复调用为幂等。
func (g *CCXTGateway) Initialize(ctx context.Context) error {
	if g.marketsLoaded {
		return nil
	}

	g.marketsMu.Lock()
	defer g.marketsMu.Unlock()

	if g.marketsLoaded {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if _, err := g.exchange.LoadMarkets(); err != nil {
		return fmt.Errorf("market: 加载 %s 市场元数据失败: %w", g.name, ClassifyError(err))
	}

	g.marketsLoaded = true
	g.logger.Info("已完成市场元数据加载", zap.String("exchange", g.name))
	return nil
}

// FetchOHLCV 拉取指定交易对和周期的K线。
func (g *CCXTGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	if err := g.Initialize(ctx); err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	raw, err := g.exchange.FetchOHLCV(
		symbol,
		ccxt.WithFetchOHLCVTimeframe(timeframe),
		ccxt.WithFetchOHLCVLimit(int64(limit)),
	)
	if err != nil {
		return nil, ClassifyError(err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}
