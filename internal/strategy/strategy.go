package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tradepilot/internal/market"
)

// SignalAction 表示策略建议的方向。
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// Signal 是策略的单次输出。Strength 为 [0,1] 的置信度，
// Metadata 可携带建议数量与价格等执行参数。
type Signal struct {
	Action   SignalAction
	Strength float64
	Metadata map[string]string
}

// Hold 返回观望信号。
func Hold() Signal {
	return Signal{Action: ActionHold}
}

// Strategy 抽象一个按名称解析的策略插件。
type Strategy interface {
	Name() string
	ValidateParams(params map[string]interface{}) error
	GenerateSignal(ctx context.Context, table market.Table, indicators map[string][]float64, params map[string]interface{}) (Signal, error)
	ResetState()
}

// Factory 构造策略实例，每个策略配置持有独立实例。
type Factory func() Strategy

// Registry 保存按名称注册的策略构造器，组合阶段一次性构建。
type Registry struct {
	factories map[string]Factory
}

// NewRegistry 创建注册表并注册内置策略。
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("ema_cross", func() Strategy { return NewEMACross() })
	r.Register("rsi_reversal", func() Strategy { return NewRSIReversal() })
	return r
}

// Register 注册策略构造器，同名覆盖。
func (r *Registry) Register(name string, factory Factory) {
	r.factories[strings.ToLower(name)] = factory
}

// Resolve 按名称解析并实例化策略。
func (r *Registry) Resolve(name string) (Strategy, error) {
	factory, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("strategy: 未注册的策略插件 %q", name)
	}
	return factory(), nil
}

// Names 返回已注册的策略名称，按字典序。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return fallback
}

func floatParam(params map[string]interface{}, key string, fallback float64) (float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("strategy: 参数 %s 类型无效 (%T)", key, raw)
	}
}

// seriesTail 返回指标序列末尾两个有效值，不足时报告失败。
func seriesTail(indicators map[string][]float64, key string) (prev, last float64, ok bool) {
	values, exists := indicators[key]
	if !exists || len(values) < 2 {
		return 0, 0, false
	}
	return values[len(values)-2], values[len(values)-1], true
}
