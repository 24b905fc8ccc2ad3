package trading

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradepilot/internal/position"
	"tradepilot/internal/risk"
)

// LogOnlyEngine 在没有配置交易所时承接风控动作：
// 仓位类动作仅记录日志，暂停/恢复仍然作用于风控引擎。
type LogOnlyEngine struct {
	riskEng *risk.Engine
	logger  *zap.Logger
}

var _ Engine = (*LogOnlyEngine)(nil)

// NewLogOnlyEngine 创建仅记录日志的交易引擎。
func NewLogOnlyEngine(riskEng *risk.Engine, logger *zap.Logger) *LogOnlyEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOnlyEngine{riskEng: riskEng, logger: logger}
}

// ClosePosition 无交易所可执行，仅告警。
func (e *LogOnlyEngine) ClosePosition(_ context.Context, pos position.Position, reason string, evaluationID int64) error {
	e.logger.Warn("收到平仓动作但未配置交易所，跳过执行",
		zap.String("position", pos.Key()),
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}

// PartialClosePosition 无交易所可执行，仅告警。
func (e *LogOnlyEngine) PartialClosePosition(_ context.Context, pos position.Position, percentage decimal.Decimal, reason string, evaluationID int64) error {
	e.logger.Warn("收到减仓动作但未配置交易所，跳过执行",
		zap.String("position", pos.Key()),
		zap.String("percentage", percentage.String()),
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}

// CloseAllPositions 无交易所可执行，仅告警。
func (e *LogOnlyEngine) CloseAllPositions(_ context.Context, reason string, evaluationID int64) error {
	e.logger.Warn("收到全量平仓动作但未配置交易所，跳过执行",
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}

// BlockNewTrades 暂停开仓，风控状态本地可维护。
func (e *LogOnlyEngine) BlockNewTrades(_ context.Context, reason string, evaluationID int64) error {
	if e.riskEng != nil {
		e.riskEng.PauseTrading()
	}
	e.logger.Warn("已暂停新开仓",
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}

// ResumeTrading 恢复交易。
func (e *LogOnlyEngine) ResumeTrading(_ context.Context, reason string, evaluationID int64) error {
	if e.riskEng != nil {
		e.riskEng.ResumeTrading()
	}
	e.logger.Info("交易已恢复",
		zap.String("reason", reason),
		zap.Int64("evaluation_id", evaluationID))
	return nil
}
