package strategy

import (
	"context"
	"fmt"
	"math"

	"tradepilot/internal/market"
)

// EMACross 在快慢均线交叉时给出买卖信号。
// 依赖执行管线按策略参数预先算好的两条均线序列。
type EMACross struct{}

// NewEMACross 创建均线交叉策略。
func NewEMACross() *EMACross {
	return &EMACross{}
}

// Name 返回插件名称。
func (s *EMACross) Name() string { return "ema_cross" }

// ValidateParams 校验策略参数。
func (s *EMACross) ValidateParams(params map[string]interface{}) error {
	fast := stringParam(params, "fast_key", "ema_fast")
	slow := stringParam(params, "slow_key", "ema_slow")
	if fast == slow {
		return fmt.Errorf("strategy: ema_cross 的 fast_key 与 slow_key 不能相同")
	}
	return nil
}

// GenerateSignal 比较最近两期快慢均线的相对位置。
func (s *EMACross) GenerateSignal(_ context.Context, table market.Table, indicators map[string][]float64, params map[string]interface{}) (Signal, error) {
	fastKey := stringParam(params, "fast_key", "ema_fast")
	slowKey := stringParam(params, "slow_key", "ema_slow")

	prevFast, lastFast, ok := seriesTail(indicators, fastKey)
	if !ok {
		return Hold(), fmt.Errorf("strategy: 缺少均线序列 %q", fastKey)
	}
	prevSlow, lastSlow, ok := seriesTail(indicators, slowKey)
	if !ok {
		return Hold(), fmt.Errorf("strategy: 缺少均线序列 %q", slowKey)
	}
	if math.IsNaN(lastFast) || math.IsNaN(lastSlow) || math.IsNaN(prevFast) || math.IsNaN(prevSlow) {
		return Hold(), nil
	}

	lastClose := table.LastClose()
	strength := 0.0
	if lastClose > 0 {
		strength = clampStrength(math.Abs(lastFast-lastSlow) / lastClose * 100)
	}

	crossedUp := prevFast <= prevSlow && lastFast > lastSlow
	crossedDown := prevFast >= prevSlow && lastFast < lastSlow

	switch {
	case crossedUp:
		return Signal{Action: ActionBuy, Strength: strength, Metadata: map[string]string{}}, nil
	case crossedDown:
		return Signal{Action: ActionSell, Strength: strength, Metadata: map[string]string{}}, nil
	default:
		return Hold(), nil
	}
}

// ResetState 无内部状态，空实现。
func (s *EMACross) ResetState() {}
