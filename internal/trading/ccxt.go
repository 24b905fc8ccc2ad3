package trading

import (
	"context"
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradepilot/internal/config"
	"tradepilot/internal/market"
)

// orderClient 收敛本模块用到的 ccxt 下单能力。
type orderClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
}

// CCXTService 通过 ccxt 向真实交易所提交订单。
type CCXTService struct {
	clients  map[string]orderClient
	maxRetry int
	logger   *zap.Logger
}

var _ Service = (*CCXTService)(nil)

// NewCCXTService 按配置为每个交易所构建下单客户端。
func NewCCXTService(cfgs []config.ExchangeConfig, logger *zap.Logger) (*CCXTService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clients := make(map[string]orderClient, len(cfgs))
	for _, cfg := range cfgs {
		client, err := newOrderClient(cfg)
		if err != nil {
			return nil, err
		}
		clients[strings.ToLower(cfg.Name)] = client
	}
	return &CCXTService{clients: clients, maxRetry: 3, logger: logger}, nil
}

func newOrderClient(cfg config.ExchangeConfig) (orderClient, error) {
	options := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		options["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		options["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		options["password"] = cfg.APIPass
	}
	switch strings.ToLower(cfg.Name) {
	case "binance":
		ex := ccxt.NewBinance(options)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	case "binanceusdm":
		ex := ccxt.NewBinanceusdm(options)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	case "hyperliquid":
		ex := ccxt.NewHyperliquid(options)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return ex, nil
	default:
		return nil, fmt.Errorf("trading: 不支持的交易所: %s", cfg.Name)
	}
}

// CreateOrder 提交订单，遇到可重试错误时退避重试。
// 数量与价格在进入 ccxt 前转换为 float64。
func (s *CCXTService) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	client, ok := s.clients[strings.ToLower(req.Exchange)]
	if !ok {
		return Order{}, fmt.Errorf("trading: 未配置交易所: %s", req.Exchange)
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return Order{}, fmt.Errorf("trading: 订单数量必须为正: %s", req.Quantity)
	}
	if req.Type == OrderTypeLimit && req.Price.LessThanOrEqual(decimal.Zero) {
		return Order{}, fmt.Errorf("trading: 限价单价格必须为正: %s", req.Price)
	}

	if err := s.submitOrder(ctx, client, req); err != nil {
		return Order{}, err
	}

	order := Order{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Status:    "submitted",
		Quantity:  req.Quantity,
		Price:     req.Price,
		CreatedAt: time.Now(),
	}
	s.logger.Info("订单已提交",
		zap.String("exchange", req.Exchange),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("type", string(req.Type)),
		zap.String("quantity", req.Quantity.String()))
	return order, nil
}

func (s *CCXTService) submitOrder(ctx context.Context, client orderClient, req OrderRequest) error {
	amount := req.Quantity.InexactFloat64()
	var err error
	for attempt := 1; attempt <= s.maxRetry; attempt++ {
		switch req.Type {
		case OrderTypeMarket:
			var opts []ccxt.CreateMarketOrderOptions
			if len(req.Params) > 0 {
				opts = append(opts, ccxt.WithCreateMarketOrderParams(req.Params))
			}
			_, err = client.CreateMarketOrder(req.Symbol, string(req.Side), amount, opts...)
		case OrderTypeLimit:
			var opts []ccxt.CreateLimitOrderOptions
			if len(req.Params) > 0 {
				opts = append(opts, ccxt.WithCreateLimitOrderParams(req.Params))
			}
			_, err = client.CreateLimitOrder(req.Symbol, string(req.Side), amount, req.Price.InexactFloat64(), opts...)
		default:
			return fmt.Errorf("trading: 不支持的订单类型 %s", req.Type)
		}

		if err == nil {
			return nil
		}

		if !market.IsRetryable(err) {
			return fmt.Errorf("trading: 订单提交失败: %w", market.ClassifyError(err))
		}

		wait := time.Duration(attempt) * time.Second
		s.logger.Warn("下单失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("trading: 重试后仍下单失败: %w", err)
}
