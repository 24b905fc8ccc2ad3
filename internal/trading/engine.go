package trading

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tradepilot/internal/position"
	"tradepilot/internal/risk"
)

// Engine 接收风控动作并落实为具体交易操作。
type Engine interface {
	ClosePosition(ctx context.Context, pos position.Position, reason string, evaluationID int64) error
	PartialClosePosition(ctx context.Context, pos position.Position, percentage decimal.Decimal, reason string, evaluationID int64) error
	CloseAllPositions(ctx context.Context, reason string, evaluationID int64) error
	BlockNewTrades(ctx context.Context, reason string, evaluationID int64) error
	ResumeTrading(ctx context.Context, reason string, evaluationID int64) error
}

// OrderEngine 把风控动作转译成反向市价单提交给下单服务，
// 并同步维护风控引擎中的持仓与暂停状态。
type OrderEngine struct {
	service Service
	riskEng *risk.Engine
	logger  *zap.Logger
}

var _ Engine = (*OrderEngine)(nil)

// NewOrderEngine 创建交易引擎。
func NewOrderEngine(service Service, riskEng *risk.Engine, logger *zap.Logger) (*OrderEngine, error) {
	if service == nil {
		return nil, fmt.Errorf("trading: 下单服务不能为空")
	}
	if riskEng == nil {
		return nil, fmt.Errorf("trading: 风控引擎不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderEngine{service: service, riskEng: riskEng, logger: logger}, nil
}

func closeSide(side position.Side) OrderSide {
	if side == position.SideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ClosePosition 以市价全平指定持仓并从风控引擎移除。
func (e *OrderEngine) ClosePosition(ctx context.Context, pos position.Position, reason string, evaluationID int64) error {
	req := OrderRequest{
		Exchange: pos.Exchange,
		Symbol:   pos.Symbol,
		Side:     closeSide(pos.Side),
		Type:     OrderTypeMarket,
		Quantity: pos.Quantity,
		Params:   map[string]interface{}{"reduceOnly": true},
	}
	if _, err := e.service.CreateOrder(ctx, req); err != nil {
		return fmt.Errorf("trading: 平仓失败 %s: %w", pos.Key(), err)
	}
	e.riskEng.RemovePosition(pos.Exchange, pos.Symbol)
	e.logger.Info("持仓已平仓",
		zap.String("position", pos.Key()),
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}

// PartialClosePosition 按百分比减仓。percentage 为 (0,100) 区间内的百分数。
func (e *OrderEngine) PartialClosePosition(ctx context.Context, pos position.Position, percentage decimal.Decimal, reason string, evaluationID int64) error {
	if percentage.LessThanOrEqual(decimal.Zero) || percentage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("trading: 减仓比例必须在 (0,100) 区间: %s", percentage)
	}
	closeQty := pos.Quantity.Mul(percentage).Div(decimal.NewFromInt(100))
	if closeQty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("trading: 减仓数量无效: %s", closeQty)
	}

	req := OrderRequest{
		Exchange: pos.Exchange,
		Symbol:   pos.Symbol,
		Side:     closeSide(pos.Side),
		Type:     OrderTypeMarket,
		Quantity: closeQty,
		Params:   map[string]interface{}{"reduceOnly": true},
	}
	if _, err := e.service.CreateOrder(ctx, req); err != nil {
		return fmt.Errorf("trading: 减仓失败 %s: %w", pos.Key(), err)
	}

	remaining := pos.Quantity.Sub(closeQty)
	pos.Quantity = remaining
	pos.Value = pos.CurrentPrice.Mul(remaining)
	e.riskEng.UpdatePosition(pos)

	e.logger.Info("持仓已减仓",
		zap.String("position", pos.Key()),
		zap.String("percentage", percentage.String()),
		zap.String("remaining", remaining.String()),
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}

// CloseAllPositions 逐一平掉全部持仓。单笔失败不中断其余平仓，错误聚合返回。
func (e *OrderEngine) CloseAllPositions(ctx context.Context, reason string, evaluationID int64) error {
	positions := e.riskEng.Positions()
	var errs error
	for _, pos := range positions {
		if err := e.ClosePosition(ctx, pos, reason, evaluationID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	e.logger.Warn("执行全量紧急平仓",
		zap.Int("positions", len(positions)),
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return errs
}

// BlockNewTrades 暂停新开仓。已有持仓不受影响。
func (e *OrderEngine) BlockNewTrades(ctx context.Context, reason string, evaluationID int64) error {
	e.riskEng.PauseTrading()
	e.logger.Warn("已暂停新开仓",
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}

// ResumeTrading 恢复交易，需人工触发。
func (e *OrderEngine) ResumeTrading(ctx context.Context, reason string, evaluationID int64) error {
	e.riskEng.ResumeTrading()
	e.logger.Info("交易已恢复",
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}
