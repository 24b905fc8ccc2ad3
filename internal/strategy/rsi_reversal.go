package strategy

import (
	"context"
	"fmt"
	"math"

	"tradepilot/internal/market"
)

// RSIReversal 在 RSI 进入超买超卖区间时给出反转信号。
type RSIReversal struct {
	lastAction SignalAction
}

// NewRSIReversal 创建 RSI 反转策略。
func NewRSIReversal() *RSIReversal {
	return &RSIReversal{lastAction: ActionHold}
}

// Name 返回插件名称。
func (s *RSIReversal) Name() string { return "rsi_reversal" }

// ValidateParams 校验超买超卖阈值。
func (s *RSIReversal) ValidateParams(params map[string]interface{}) error {
	oversold, err := floatParam(params, "oversold", 30)
	if err != nil {
		return err
	}
	overbought, err := floatParam(params, "overbought", 70)
	if err != nil {
		return err
	}
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return fmt.Errorf("strategy: rsi_reversal 阈值非法 oversold=%.1f overbought=%.1f", oversold, overbought)
	}
	return nil
}

// GenerateSignal 读取 RSI 序列最新值并与阈值比较。
// 同方向信号不连续重复发出，直到回到中性区间。
func (s *RSIReversal) GenerateSignal(_ context.Context, _ market.Table, indicators map[string][]float64, params map[string]interface{}) (Signal, error) {
	rsiKey := stringParam(params, "rsi_key", "rsi")
	oversold, err := floatParam(params, "oversold", 30)
	if err != nil {
		return Hold(), err
	}
	overbought, err := floatParam(params, "overbought", 70)
	if err != nil {
		return Hold(), err
	}

	_, last, ok := seriesTail(indicators, rsiKey)
	if !ok {
		return Hold(), fmt.Errorf("strategy: 缺少 RSI 序列 %q", rsiKey)
	}
	if math.IsNaN(last) {
		return Hold(), nil
	}

	switch {
	case last <= oversold:
		if s.lastAction == ActionBuy {
			return Hold(), nil
		}
		s.lastAction = ActionBuy
		strength := clampStrength((oversold - last) / oversold)
		return Signal{Action: ActionBuy, Strength: strength, Metadata: map[string]string{}}, nil
	case last >= overbought:
		if s.lastAction == ActionSell {
			return Hold(), nil
		}
		s.lastAction = ActionSell
		strength := clampStrength((last - overbought) / (100 - overbought))
		return Signal{Action: ActionSell, Strength: strength, Metadata: map[string]string{}}, nil
	default:
		s.lastAction = ActionHold
		return Hold(), nil
	}
}

// ResetState 清除重复信号抑制状态。
func (s *RSIReversal) ResetState() {
	s.lastAction = ActionHold
}
