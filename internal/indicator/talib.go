package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"tradepilot/internal/market"
)

func builtins() []Indicator {
	return []Indicator{
		smaIndicator{},
		emaIndicator{},
		rsiIndicator{},
		macdIndicator{},
		atrIndicator{},
	}
}

func ensureRows(table market.Table, need int) error {
	if table.Len() < need {
		return fmt.Errorf("indicator: K线数量不足, 需要至少 %d 根, 实际 %d 根", need, table.Len())
	}
	return nil
}

type smaIndicator struct{}

func (smaIndicator) Name() string { return "sma" }

func (smaIndicator) ValidateParams(params map[string]interface{}) error {
	_, err := requirePositivePeriod(params, 20)
	return err
}

func (smaIndicator) Calculate(table market.Table, params map[string]interface{}) ([]float64, error) {
	period, err := requirePositivePeriod(params, 20)
	if err != nil {
		return nil, err
	}
	if err := ensureRows(table, period); err != nil {
		return nil, err
	}
	return talib.Sma(table.Close, period), nil
}

type emaIndicator struct{}

func (emaIndicator) Name() string { return "ema" }

func (emaIndicator) ValidateParams(params map[string]interface{}) error {
	_, err := requirePositivePeriod(params, 20)
	return err
}

func (emaIndicator) Calculate(table market.Table, params map[string]interface{}) ([]float64, error) {
	period, err := requirePositivePeriod(params, 20)
	if err != nil {
		return nil, err
	}
	if err := ensureRows(table, period); err != nil {
		return nil, err
	}
	return talib.Ema(table.Close, period), nil
}

type rsiIndicator struct{}

func (rsiIndicator) Name() string { return "rsi" }

func (rsiIndicator) ValidateParams(params map[string]interface{}) error {
	_, err := requirePositivePeriod(params, 14)
	return err
}

func (rsiIndicator) Calculate(table market.Table, params map[string]interface{}) ([]float64, error) {
	period, err := requirePositivePeriod(params, 14)
	if err != nil {
		return nil, err
	}
	if err := ensureRows(table, period+1); err != nil {
		return nil, err
	}
	return talib.Rsi(table.Close, period), nil
}

type macdIndicator struct{}

func (macdIndicator) Name() string { return "macd" }

func (macdIndicator) ValidateParams(params map[string]interface{}) error {
	fast, err := intParam(params, "fast_period", 12)
	if err != nil {
		return err
	}
	slow, err := intParam(params, "slow_period", 26)
	if err != nil {
		return err
	}
	signal, err := intParam(params, "signal_period", 9)
	if err != nil {
		return err
	}
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return fmt.Errorf("indicator: macd 各周期必须大于0")
	}
	if fast >= slow {
		return fmt.Errorf("indicator: macd fast_period 必须小于 slow_period")
	}
	return nil
}

// Calculate 返回 MACD 柱状图序列，快慢线差值已减去信号线。
func (m macdIndicator) Calculate(table market.Table, params map[string]interface{}) ([]float64, error) {
	if err := m.ValidateParams(params); err != nil {
		return nil, err
	}
	fast, _ := intParam(params, "fast_period", 12)
	slow, _ := intParam(params, "slow_period", 26)
	signal, _ := intParam(params, "signal_period", 9)

	if err := ensureRows(table, slow+signal); err != nil {
		return nil, err
	}
	_, _, hist := talib.Macd(table.Close, fast, slow, signal)
	return hist, nil
}

type atrIndicator struct{}

func (atrIndicator) Name() string { return "atr" }

func (atrIndicator) ValidateParams(params map[string]interface{}) error {
	_, err := requirePositivePeriod(params, 14)
	return err
}

func (atrIndicator) Calculate(table market.Table, params map[string]interface{}) ([]float64, error) {
	period, err := requirePositivePeriod(params, 14)
	if err != nil {
		return nil, err
	}
	if err := ensureRows(table, period+1); err != nil {
		return nil, err
	}
	return talib.Atr(table.High, table.Low, table.Close, period), nil
}
