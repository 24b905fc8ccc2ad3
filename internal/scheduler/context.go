package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"

	"tradepilot/internal/market"
	"tradepilot/internal/repository"
	"tradepilot/internal/strategy"
	"tradepilot/internal/trading"
)

// timeframeSeconds 把周期字符串映射为秒数。未知周期按 1 分钟处理。
var timeframeSeconds = map[string]int64{
	"1m":  60,
	"3m":  180,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"2h":  7200,
	"4h":  14400,
	"6h":  21600,
	"12h": 43200,
	"1d":  86400,
}

const defaultIntervalSeconds int64 = 60

// TimeframeSeconds 返回周期对应的秒数。
func TimeframeSeconds(timeframe string) int64 {
	if seconds, ok := timeframeSeconds[timeframe]; ok {
		return seconds
	}
	return defaultIntervalSeconds
}

// IndicatorSpec 声明策略依赖的一个指标。Alias 为空时用 Name 作为键。
type IndicatorSpec struct {
	Name   string                 `mapstructure:"name"`
	Alias  string                 `mapstructure:"alias"`
	Params map[string]interface{} `mapstructure:"params"`
}

// Key 返回指标结果在指标表中的键。
func (s IndicatorSpec) Key() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// Params 是策略配置 parameters_json 解码后的结构。
type Params struct {
	Exchange   string                 `mapstructure:"exchange"`
	Symbol     string                 `mapstructure:"symbol"`
	Timeframe  string                 `mapstructure:"timeframe"`
	DryRun     bool                   `mapstructure:"dry_run"`
	Quantity   string                 `mapstructure:"quantity"`
	Indicators []IndicatorSpec        `mapstructure:"indicators"`
	Strategy   map[string]interface{} `mapstructure:"strategy"`
}

// ParseParams 解码并校验策略参数。
func ParseParams(raw string) (Params, error) {
	var intermediate map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &intermediate); err != nil {
		return Params{}, fmt.Errorf("scheduler: 解析策略参数失败: %w", err)
	}

	var params Params
	if err := mapstructure.Decode(intermediate, &params); err != nil {
		return Params{}, fmt.Errorf("scheduler: 解码策略参数失败: %w", err)
	}

	if params.Exchange == "" {
		return Params{}, fmt.Errorf("scheduler: 策略参数缺少 exchange")
	}
	if params.Symbol == "" {
		return Params{}, fmt.Errorf("scheduler: 策略参数缺少 symbol")
	}
	if params.Timeframe == "" {
		params.Timeframe = "1m"
	}
	if params.Strategy == nil {
		params.Strategy = map[string]interface{}{}
	}

	return params, nil
}

// OrderQuantity 解析下单数量。信号元数据可覆盖配置值。
func (p Params) OrderQuantity(sig strategy.Signal) (decimal.Decimal, error) {
	raw := p.Quantity
	if override, ok := sig.Metadata["quantity"]; ok && override != "" {
		raw = override
	}
	if raw == "" {
		return decimal.Zero, fmt.Errorf("scheduler: 策略未配置下单数量")
	}
	qty, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("scheduler: 下单数量无效 %q: %w", raw, err)
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("scheduler: 下单数量必须为正: %s", qty)
	}
	return qty, nil
}

// ExecutionContext 是一次策略运行的可变状态包。
// 每次调度创建一个，运行结束后丢弃，绝不跨运行共享。
type ExecutionContext struct {
	Record  repository.StrategyRecord
	Params  Params
	Plugin  strategy.Strategy
	Gateway market.Gateway

	Table      market.Table
	Indicators map[string][]float64
	Signal     strategy.Signal
	Order      *trading.Order
	Err        error
}

// Key 返回调度键 id:symbol:timeframe。
func (c *ExecutionContext) Key() string {
	return fmt.Sprintf("%d:%s:%s", c.Record.ID, c.Params.Symbol, c.Params.Timeframe)
}
