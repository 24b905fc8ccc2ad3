package trading

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradepilot/internal/risk"
)

// Dispatcher 订阅风控监控回调，把评估结果映射到交易引擎动作。
type Dispatcher struct {
	engine Engine
	logger *zap.Logger
}

// NewDispatcher 创建动作分发器。
func NewDispatcher(engine Engine, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{engine: engine, logger: logger}
}

// Callback 返回可注册到监控器的回调函数。
func (d *Dispatcher) Callback() risk.Callback {
	return func(ctx context.Context, ev risk.Evaluation) {
		d.Dispatch(ctx, ev)
	}
}

// Dispatch 执行单条评估对应的动作。动作失败只记录日志，
// 不向监控循环传播。
func (d *Dispatcher) Dispatch(ctx context.Context, ev risk.Evaluation) {
	var err error
	switch ev.Action {
	case risk.ActionClosePosition:
		if ev.Position == nil {
			d.logger.Error("平仓动作缺少持仓信息", zap.Int64("evaluation_id", ev.ID))
			return
		}
		err = d.engine.ClosePosition(ctx, *ev.Position, ev.Reason, ev.ID)
	case risk.ActionReducePosition:
		if ev.Position == nil {
			d.logger.Error("减仓动作缺少持仓信息", zap.Int64("evaluation_id", ev.ID))
			return
		}
		pct, perr := reducePercentage(ev)
		if perr != nil {
			d.logger.Error("减仓比例解析失败", zap.Int64("evaluation_id", ev.ID), zap.Error(perr))
			return
		}
		err = d.engine.PartialClosePosition(ctx, *ev.Position, pct, ev.Reason, ev.ID)
	case risk.ActionEmergencyExitAll:
		err = d.engine.CloseAllPositions(ctx, ev.Reason, ev.ID)
	case risk.ActionPauseTrading:
		err = d.engine.BlockNewTrades(ctx, ev.Reason, ev.ID)
	case risk.ActionBlockNewTrade, risk.ActionNone:
		// 开仓拦截由流水线在下单前同步处理，这里无需动作。
		return
	default:
		d.logger.Warn("未识别的风控动作", zap.String("action", string(ev.Action)))
		return
	}

	if err != nil {
		d.logger.Error("风控动作执行失败",
			zap.String("action", string(ev.Action)),
			zap.Int64("evaluation_id", ev.ID),
			zap.Error(err))
	}
}

func reducePercentage(ev risk.Evaluation) (decimal.Decimal, error) {
	raw, ok := ev.Metadata[risk.MetadataPartialClose]
	if !ok {
		return decimal.Zero, errEmptyPercentage
	}
	return decimal.NewFromString(raw)
}

var errEmptyPercentage = errors.New("trading: 评估缺少减仓比例")
