package risk

import (
	"time"

	"tradepilot/internal/position"
)

// Action 是风控评估给出的处置动作，取值集合封闭。
type Action string

const (
	ActionNone             Action = "none"
	ActionClosePosition    Action = "close_position"
	ActionReducePosition   Action = "reduce_position"
	ActionBlockNewTrade    Action = "block_new_trade"
	ActionEmergencyExitAll Action = "emergency_exit_all"
	ActionPauseTrading     Action = "pause_trading"
)

// 规则名称，出现在 Evaluation.TriggeredRules 中。
const (
	RuleStopLoss             = "stop_loss"
	RuleTakeProfit           = "take_profit"
	RuleTrailingStop         = "trailing_stop"
	RuleExposurePerAsset     = "exposure_per_asset"
	RuleExposurePerExchange  = "exposure_per_exchange"
	RuleExposureTotal        = "exposure_total"
	RuleMaxTradesPerAsset    = "max_trades_per_asset"
	RuleMaxTradesPerExchange = "max_trades_per_exchange"
	RuleMaxTradesTotal       = "max_trades_total"
	RuleMaxDrawdown          = "max_drawdown"
	RuleEmergencyExit        = "emergency_exit"
	RuleTradingPaused        = "trading_paused"
)

// MetadataPartialClose 携带减仓比例（百分比）。
const MetadataPartialClose = "partial_close_percentage"

// Evaluation 是一次规则评估的结果。无风险时 Action 为 ActionNone，
// 而不是错误，调用方总是可以检查而非捕获。
type Evaluation struct {
	// ID 由监控器在记录时分配，0 表示尚未记录。
	ID             int64
	Action         Action
	Reason         string
	TriggeredRules []string
	// Position 是触发评估的仓位副本，仅对仓位类规则存在。
	Position    *position.Position
	Metadata    map[string]string
	EvaluatedAt time.Time
}

// Triggered 报告评估是否给出了非空动作。
func (e Evaluation) Triggered() bool {
	return e.Action != ActionNone
}

func none() Evaluation {
	return Evaluation{Action: ActionNone}
}
